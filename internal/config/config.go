package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/aduverger/zotfill/internal/common"
)

// ProviderKind selects the generation backend. The three kinds are mutually
// exclusive; exactly one is active per run.
type ProviderKind string

const (
	ProviderAnthropic  ProviderKind = "anthropic"
	ProviderOpenRouter ProviderKind = "openrouter"
	ProviderLlama      ProviderKind = "llama"
)

// EnvFile is the dotenv file expected in the invocation directory.
const EnvFile = ".env"

// RequiredEnv maps the always-required variables to a short description,
// printed verbatim when one is missing.
var RequiredEnv = map[string]string{
	"ZOTERO_LIBRARY_ID":   "Zotero library ID",
	"ZOTERO_LIBRARY_TYPE": "library kind ('user' or 'group')",
	"ZOTERO_API_KEY":      "Zotero API key (https://www.zotero.org/settings/keys)",
}

// Config holds all application configuration
type Config struct {
	Zotero ZoteroConfig
	LLM    LLMConfig
	OCR    OCRConfig
	Files  FilesConfig
}

// ZoteroConfig holds catalog-related configuration
type ZoteroConfig struct {
	LibraryID   string
	LibraryType string // "user" or "group"
	APIKey      string
	Timeout     time.Duration
}

// LLMConfig holds generation-backend configuration
type LLMConfig struct {
	Provider ProviderKind

	AnthropicAPIKey string
	AnthropicModel  string

	OpenRouterAPIKey  string
	OpenRouterBaseURL string
	OpenRouterModel   string

	// Local llama-server descriptor. ModelPath points at a local GGUF file;
	// RepoID/Filename name a file in a model repository. Either form is
	// forwarded to the server as the model identifier.
	LlamaBaseURL   string
	LlamaModelPath string
	LlamaRepoID    string
	LlamaFilename  string

	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// OCRConfig holds OCR-related configuration
type OCRConfig struct {
	Pdftoppm  string
	Tesseract string
	DPI       int
	MaxPages  int
	Languages string
}

// FilesConfig holds the operator-supplied text assets driving extraction.
type FilesConfig struct {
	RulesPath  string
	FormatPath string
}

// Load reads the .env file (when present) and assembles configuration from
// environment variables. Operators may edit rules/output-format files between
// runs; only their paths are fixed here.
func Load() (*Config, error) {
	if err := godotenv.Load(EnvFile); err != nil && !os.IsNotExist(err) {
		return nil, common.WrapError(err, "loading .env")
	}

	return &Config{
		Zotero: ZoteroConfig{
			LibraryID:   getEnv("ZOTERO_LIBRARY_ID", ""),
			LibraryType: getEnv("ZOTERO_LIBRARY_TYPE", ""),
			APIKey:      getEnv("ZOTERO_API_KEY", ""),
			Timeout:     getEnvAsDuration("ZOTERO_TIMEOUT", 60*time.Second),
		},
		LLM: LLMConfig{
			Provider:          ProviderKind(getEnv("LLM_PROVIDER", string(ProviderAnthropic))),
			AnthropicAPIKey:   getEnv("CLAUDE_API_KEY", ""),
			AnthropicModel:    getEnv("CLAUDE_MODEL", "claude-3-5-haiku-latest"),
			OpenRouterAPIKey:  getEnv("OPENROUTER_API_KEY", ""),
			OpenRouterBaseURL: getEnv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
			OpenRouterModel:   getEnv("OPENROUTER_MODEL", "deepseek/deepseek-chat"),
			LlamaBaseURL:      getEnv("LLAMA_BASE_URL", "http://127.0.0.1:8080"),
			LlamaModelPath:    getEnv("LLAMA_MODEL_PATH", ""),
			LlamaRepoID:       getEnv("LLAMA_REPO_ID", "bartowski/Qwen2.5-32B-Instruct-GGUF"),
			LlamaFilename:     getEnv("LLAMA_FILENAME", "Qwen2.5-32B-Instruct-Q4_K_M.gguf"),
			Temperature:       getEnvAsFloat32("LLM_TEMPERATURE", 0.0),
			MaxTokens:         getEnvAsInt("LLM_MAX_TOKENS", 1000),
			Timeout:           getEnvAsDuration("LLM_TIMEOUT", 120*time.Second),
		},
		OCR: OCRConfig{
			Pdftoppm:  getEnv("OCR_PDFTOPPM", "pdftoppm"),
			Tesseract: getEnv("OCR_TESSERACT", "tesseract"),
			DPI:       getEnvAsInt("OCR_DPI", 300),
			MaxPages:  getEnvAsInt("OCR_MAX_PAGES", 0),
			Languages: getEnv("OCR_LANGUAGES", "fra+eng"),
		},
		Files: FilesConfig{
			RulesPath:  getEnv("RULES_FILE", "rules.txt"),
			FormatPath: getEnv("OUTPUT_FORMAT_FILE", "output_format.txt"),
		},
	}, nil
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// MissingRequired lists required variables that are unset, with their
// descriptions, in a stable order.
func (c *Config) MissingRequired() []string {
	var missing []string
	for _, key := range []string{"ZOTERO_LIBRARY_ID", "ZOTERO_LIBRARY_TYPE", "ZOTERO_API_KEY"} {
		if os.Getenv(key) == "" {
			missing = append(missing, key+": "+RequiredEnv[key])
		}
	}
	return missing
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Zotero.LibraryID == "" {
		return common.ConfigurationErrorf("ZOTERO_LIBRARY_ID is required")
	}
	if c.Zotero.LibraryType != "user" && c.Zotero.LibraryType != "group" {
		return common.ConfigurationErrorf("ZOTERO_LIBRARY_TYPE must be 'user' or 'group', got %q", c.Zotero.LibraryType)
	}
	if c.Zotero.APIKey == "" {
		return common.ConfigurationErrorf("ZOTERO_API_KEY is required")
	}

	switch c.LLM.Provider {
	case ProviderAnthropic:
		if c.LLM.AnthropicAPIKey == "" {
			return common.ConfigurationErrorf("CLAUDE_API_KEY is required for the anthropic provider")
		}
	case ProviderOpenRouter:
		if c.LLM.OpenRouterAPIKey == "" {
			return common.ConfigurationErrorf("OPENROUTER_API_KEY is required for the openrouter provider")
		}
	case ProviderLlama:
		if c.LLM.LlamaBaseURL == "" {
			return common.ConfigurationErrorf("LLAMA_BASE_URL is required for the llama provider")
		}
		if c.LLM.LlamaModelPath == "" && (c.LLM.LlamaRepoID == "" || c.LLM.LlamaFilename == "") {
			return common.ConfigurationErrorf("the llama provider needs LLAMA_MODEL_PATH, or LLAMA_REPO_ID with LLAMA_FILENAME")
		}
	default:
		return common.ConfigurationErrorf("unknown LLM provider %q", c.LLM.Provider)
	}
	return nil
}
