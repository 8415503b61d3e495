package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aduverger/zotfill/internal/common"
	"github.com/aduverger/zotfill/internal/config"
	"github.com/aduverger/zotfill/internal/llm"
)

// systemPrompt fixes the assistant's role and forbids prose around the JSON.
// The corpus is French administrative documents, so the instructions stay in
// French like the rules the operator writes.
const systemPrompt = "Vous êtes un assistant spécialisé dans l'extraction de métadonnées de " +
	"documents administratifs, suivant des règles strictes. Retournez uniquement le JSON, " +
	"sans aucun texte autour."

// Extractor builds the extraction prompt from the operator's rules and
// output-format files, invokes the configured generation backend, and
// repairs/validates the returned JSON. It owns the process-lifetime usage
// accumulator.
type Extractor struct {
	provider   llm.Provider
	kind       config.ProviderKind
	rulesPath  string
	formatPath string
	usage      UsageAccumulator
	log        *slog.Logger
}

// NewExtractor fails fast when the rules or output-format file is missing:
// that is a configuration error raised at construction, never deferred to the
// first document. The files themselves are re-read on every call because the
// operator may edit them between invocations.
func NewExtractor(provider llm.Provider, kind config.ProviderKind, files config.FilesConfig, logger *slog.Logger) (*Extractor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	for _, path := range []string{files.RulesPath, files.FormatPath} {
		if _, err := os.Stat(path); err != nil {
			return nil, common.ConfigurationErrorf("required file %q not found", path)
		}
	}
	return &Extractor{
		provider:   provider,
		kind:       kind,
		rulesPath:  files.RulesPath,
		formatPath: files.FormatPath,
		log:        logger,
	}, nil
}

// ExtractMetadata asks the backend for structured metadata about text and
// validates the result. Token usage is accumulated as soon as the generation
// call returns, even when the response later fails to parse: the tokens were
// spent regardless.
func (e *Extractor) ExtractMetadata(ctx context.Context, text string) (*Metadata, error) {
	reqID := uuid.New().String()
	start := time.Now()

	rules, err := os.ReadFile(e.rulesPath)
	if err != nil {
		return nil, common.ConfigurationErrorf("reading %q: %v", e.rulesPath, err)
	}
	format, err := os.ReadFile(e.formatPath)
	if err != nil {
		return nil, common.ConfigurationErrorf("reading %q: %v", e.formatPath, err)
	}

	prompt := buildPrompt(string(rules), string(format), text)

	e.log.Info("metadata.extract.start",
		"req_id", reqID,
		"provider", e.provider.Name(),
		"text_len", len(text),
	)

	res, err := e.provider.Generate(ctx, prompt, systemPrompt)
	if err != nil {
		e.log.Error("metadata.extract.generate_failed", "req_id", reqID, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return nil, err
	}
	e.usage.Add(res.Usage)

	payload, err := parsePayload(res.Content)
	if err != nil {
		e.log.Error("metadata.extract.parse_failed", "req_id", reqID, "error", err,
			"raw", res.Content,
			"elapsed_ms", time.Since(start).Milliseconds())
		return nil, err
	}

	var m Metadata
	if err := json.Unmarshal(payload, &m); err != nil {
		e.log.Error("metadata.extract.decode_failed", "req_id", reqID, "error", err, "raw", res.Content)
		return nil, &common.ExtractionError{Message: fmt.Sprintf("decoding metadata: %v", err), Raw: res.Content}
	}
	if err := m.Validate(); err != nil {
		e.log.Error("metadata.extract.validation_failed", "req_id", reqID, "error", err)
		return nil, err
	}

	e.log.Info("metadata.extract.ok",
		"req_id", reqID,
		"title", deref(m.Title),
		"authors", len(m.Authors),
		"tags", len(m.Tags),
		"input_tokens", res.Usage.InputTokens,
		"output_tokens", res.Usage.OutputTokens,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return &m, nil
}

// parsePayload recovers a schema-valid JSON document from a best-effort
// backend response: slice out the outermost object, normalize stray null
// spellings, then check the result against the metadata schema.
func parsePayload(content string) ([]byte, error) {
	jsonText, err := ExtractJSONFromText(content)
	if err != nil {
		return nil, err
	}
	jsonText = NormalizeNullLiterals(jsonText)

	data := []byte(jsonText)
	var probe any
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, &common.ExtractionError{Message: fmt.Sprintf("malformed JSON: %v", err), Raw: content}
	}
	if err := ValidateJSONAgainstSchema(BuildMetadataJSONSchema(), data); err != nil {
		return nil, common.NewAppError("VALIDATION_ERROR", err.Error(), common.ErrValidation)
	}
	return data, nil
}

// ExtractJSONFromText returns the substring from the first '{' to the last
// '}' inclusive. Generation backends routinely wrap JSON in explanatory prose
// or code fences despite instructions, so this slice is taken before any
// parsing is attempted.
func ExtractJSONFromText(s string) (string, error) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end < start {
		return "", &common.ExtractionError{Message: "no JSON object found", Raw: s}
	}
	return s[start : end+1], nil
}

// nullLiteral matches language-specific null spellings in value position.
var nullLiteral = regexp.MustCompile(`([:\[,]\s*)(None|NULL|nil)(\s*[,\]}])`)

// NormalizeNullLiterals rewrites backend-specific null spellings (None, NULL,
// nil) to the JSON null token. Only value positions are touched, so the words
// stay intact inside strings. Replacement loops because two adjacent
// literals share their separator.
func NormalizeNullLiterals(s string) string {
	for {
		out := nullLiteral.ReplaceAllString(s, "${1}null${3}")
		if out == s {
			return out
		}
		s = out
	}
}

func buildPrompt(rules, format, text string) string {
	var b strings.Builder
	b.WriteString("En utilisant ces règles spécifiques pour l'analyse des documents :\n\n")
	b.WriteString(rules)
	b.WriteString("\n\nAnalysez ce document et extrayez les métadonnées au format JSON décrit ci-dessous :\n\n")
	b.WriteString(format)
	b.WriteString("\n\nIgnorer tout contenu après une page commençant par « Annexe ».\n")
	b.WriteString("En cas de valeur manquante, utiliser null.\n")
	b.WriteString("La sortie doit être un JSON valide. Retourner uniquement le JSON.\n")
	b.WriteString("\nTexte à analyser :\n")
	b.WriteString(text)
	return b.String()
}
