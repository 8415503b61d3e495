// Package textextract turns a PDF into plain text, either through the
// document's text layer or through a full-page OCR pipeline.
package textextract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"

	"github.com/aduverger/zotfill/internal/common"
	"github.com/aduverger/zotfill/internal/config"
)

// Extractor implements the text-source contract: given a PDF path and an OCR
// flag, produce plain text or fail with an attributable error. OCR failures
// are not retried.
type Extractor struct {
	cfg    config.OCRConfig
	runner Runner
	log    *slog.Logger
}

func NewExtractor(cfg config.OCRConfig, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Tesseract == "" {
		cfg.Tesseract = "tesseract"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	if cfg.Languages == "" {
		cfg.Languages = "fra+eng"
	}
	return &Extractor{cfg: cfg, runner: execRunner{}, log: logger}
}

// CheckTools verifies the external OCR binaries are installed. Called
// pre-flight when a run requests OCR; a missing tool is a configuration
// error, not a per-item failure.
func (e *Extractor) CheckTools() error {
	for _, tool := range []string{e.cfg.Pdftoppm, e.cfg.Tesseract} {
		if _, err := exec.LookPath(tool); err != nil {
			return common.ConfigurationErrorf("%s is not installed or not on PATH", tool)
		}
	}
	return nil
}

// ExtractText extracts plain text from the PDF at path. With useOCR false the
// document's text layer is read directly (fast, layout-insensitive); with
// useOCR true every page is rasterized and OCR'd in the configured languages.
func (e *Extractor) ExtractText(ctx context.Context, path string, useOCR bool) (string, error) {
	start := time.Now()
	var (
		text  string
		pages int
		err   error
	)
	if useOCR {
		text, pages, err = e.ocr(ctx, path)
	} else {
		text, pages, err = e.textLayer(path)
	}
	if err != nil {
		e.log.Error("textextract.failed", "path", path, "ocr", useOCR, "error", err)
		return "", err
	}
	e.log.Info("textextract.ok",
		"path", path,
		"ocr", useOCR,
		"pages", pages,
		"chars", len(text),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return text, nil
}

func (e *Extractor) textLayer(path string) (string, int, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", 0, fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer f.Close()

	var b strings.Builder
	pages := r.NumPage()
	for i := 1; i <= pages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page is tolerable; the text layer is
			// lossy by contract.
			e.log.Warn("textextract.page_skipped", "path", path, "page", i, "error", err)
			continue
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	return b.String(), pages, nil
}

func (e *Extractor) ocr(ctx context.Context, path string) (string, int, error) {
	tmpDir, err := os.MkdirTemp("", "zotfill-ocr-*")
	if err != nil {
		return "", 0, err
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			e.log.Warn("textextract.tmpdir_remove_failed", "dir", tmpDir, "error", err)
		}
	}()

	prefix := filepath.Join(tmpDir, "page")
	// pdftoppm -r <dpi> -png <in.pdf> <tmp/page>
	_, errb, err := e.runner.Run(ctx, e.cfg.Pdftoppm, "-r", fmt.Sprintf("%d", e.cfg.DPI), "-png", path, prefix)
	if err != nil {
		return "", 0, fmt.Errorf("pdftoppm: %w (%s)", err, truncate(string(errb), 512))
	}

	// collect generated pngs (prefix-1.png, prefix-2.png, ...)
	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if e.cfg.MaxPages > 0 && len(matches) > e.cfg.MaxPages {
		matches = matches[:e.cfg.MaxPages]
	}
	if len(matches) == 0 {
		return "", 0, fmt.Errorf("pdftoppm produced no images for %s", path)
	}

	var b strings.Builder
	for _, img := range matches {
		txt, err := e.tesseractOCR(ctx, img)
		if err != nil {
			return "", 0, err
		}
		if b.Len() > 0 {
			b.WriteString("\n\f\n") // keep a clear page break marker
		}
		b.WriteString(txt)
	}
	return b.String(), len(matches), nil
}

func (e *Extractor) tesseractOCR(ctx context.Context, img string) (string, error) {
	// tesseract <img> stdout -l <langs>
	out, errb, err := e.runner.Run(ctx, e.cfg.Tesseract, img, "stdout", "-l", e.cfg.Languages)
	if err != nil {
		return "", fmt.Errorf("tesseract %s: %w (%s)", filepath.Base(img), err, truncate(string(errb), 512))
	}
	return string(out), nil
}
