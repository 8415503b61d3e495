// Package updater drives a PDF through the whole enrichment pipeline: hash,
// duplicate check, catalog item creation, file upload, text extraction,
// metadata extraction and the final write-back.
package updater

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/aduverger/zotfill/internal/common"
	"github.com/aduverger/zotfill/internal/ingest"
	"github.com/aduverger/zotfill/internal/metadata"
	"github.com/aduverger/zotfill/internal/zotero"
)

// State labels a document's position in the pipeline. Transitions only move
// forward; SKIPPED and a recorded failure are the two early exits.
type State string

const (
	StateNew               State = "NEW"
	StateHashed            State = "HASHED"
	StateDuplicateCheck    State = "DUPLICATE_CHECK"
	StateSkipped           State = "SKIPPED"
	StateCreated           State = "CREATED"
	StateTextExtracted     State = "TEXT_EXTRACTED"
	StateMetadataExtracted State = "METADATA_EXTRACTED"
	StateWritten           State = "WRITTEN"
)

// Catalog is the slice of the catalog client the pipeline needs.
type Catalog interface {
	CheckDuplicate(ctx context.Context, md5sum string) (string, bool, error)
	CreateItem(ctx context.Context, title string, collections []string) (*zotero.Item, error)
	AttachPDF(ctx context.Context, parentKey, filePath string) (string, error)
	UpdateMetadata(ctx context.Context, key string, fields map[string]any) error
	Item(ctx context.Context, key string) (*zotero.Item, error)
	FirstPDFAttachment(ctx context.Context, parentKey string) (*zotero.Item, error)
	DownloadAttachment(ctx context.Context, key, dir string) (string, error)
	AllAttachments(ctx context.Context) ([]zotero.Item, error)
}

// TextSource produces plain text from a PDF path.
type TextSource interface {
	ExtractText(ctx context.Context, path string, useOCR bool) (string, error)
}

// MetadataSource produces validated metadata from document text.
type MetadataSource interface {
	ExtractMetadata(ctx context.Context, text string) (*metadata.Metadata, error)
}

// Options are the per-run pipeline switches.
type Options struct {
	DryRun         bool
	KeepDuplicates bool
	UseOCR         bool
	Collections    []string
}

// Result is the outcome of one document.
type Result struct {
	Path    string
	ItemKey string
	State   State
	Fields  map[string]any // the formatted fields, populated on success and dry runs
}

// Failure pairs a failed document with its error.
type Failure struct {
	Path string
	Err  error
}

// Summary aggregates a batch run.
type Summary struct {
	Processed int
	Skipped   int
	Failed    int
	Failures  []Failure
}

// Updater wires the pipeline stages together. It is not safe for concurrent
// use; batches run sequentially so the catalog's rate signals stay readable.
type Updater struct {
	catalog Catalog
	text    TextSource
	meta    MetadataSource
	opts    Options
	log     *slog.Logger
}

func New(catalog Catalog, text TextSource, meta MetadataSource, opts Options, logger *slog.Logger) *Updater {
	if logger == nil {
		logger = slog.Default()
	}
	return &Updater{catalog: catalog, text: text, meta: meta, opts: opts, log: logger}
}

func (u *Updater) setState(res *Result, s State) {
	res.State = s
	u.log.Debug("updater.state", "path", res.Path, "item", res.ItemKey, "state", string(s))
}

// ProcessPDF runs one file through the full pipeline. A duplicate surfaces
// as a DuplicateError with the result in the SKIPPED state; KeepDuplicates
// forces it through instead. With DryRun set the document is analyzed end to
// end but the catalog is never touched.
func (u *Updater) ProcessPDF(ctx context.Context, path string) (*Result, error) {
	start := time.Now()
	res := &Result{Path: path, State: StateNew}
	u.log.Info("updater.pdf.start", "path", path, "dry_run", u.opts.DryRun, "ocr", u.opts.UseOCR)

	sum, err := ingest.FileMD5(path)
	if err != nil {
		return res, err
	}
	u.setState(res, StateHashed)

	dupKey, found, err := u.catalog.CheckDuplicate(ctx, sum)
	if err != nil {
		return res, err
	}
	u.setState(res, StateDuplicateCheck)
	if found && !u.opts.KeepDuplicates {
		res.ItemKey = dupKey
		u.setState(res, StateSkipped)
		u.log.Info("updater.pdf.skipped", "path", path, "duplicate_of", dupKey, "md5", sum)
		return res, &common.DuplicateError{ItemKey: dupKey}
	}

	filename := filepath.Base(path)

	if !u.opts.DryRun {
		item, err := u.catalog.CreateItem(ctx, filename, u.opts.Collections)
		if err != nil {
			return res, err
		}
		res.ItemKey = item.Key
		if _, err := u.catalog.AttachPDF(ctx, item.Key, path); err != nil {
			return res, err
		}
		u.setState(res, StateCreated)
	}

	text, err := u.text.ExtractText(ctx, path, u.opts.UseOCR)
	if err != nil {
		return res, err
	}
	u.setState(res, StateTextExtracted)

	m, err := u.meta.ExtractMetadata(ctx, text)
	if err != nil {
		return res, err
	}
	u.setState(res, StateMetadataExtracted)

	fields := FormatFields(m)
	MergeFilenameMetadata(fields, ingest.ParseScannerFilename(filename))
	res.Fields = fields

	if u.opts.DryRun {
		u.log.Info("updater.pdf.dry_run", "path", path, "fields", len(fields),
			"elapsed_ms", time.Since(start).Milliseconds())
		return res, nil
	}

	if err := u.catalog.UpdateMetadata(ctx, res.ItemKey, fields); err != nil {
		return res, err
	}
	u.setState(res, StateWritten)
	u.log.Info("updater.pdf.ok", "path", path, "item", res.ItemKey,
		"elapsed_ms", time.Since(start).Milliseconds())
	return res, nil
}

// hasMetadata reports whether an item already carries a title and at least
// one creator. Such items are left alone on refresh unless forced.
func hasMetadata(it *zotero.Item) bool {
	title, _ := it.Data["title"].(string)
	creators, _ := it.Data["creators"].([]any)
	return title != "" && len(creators) > 0
}

// RefreshItem re-derives metadata for an existing item from its first PDF
// attachment. Already-populated items are skipped unless force is set.
func (u *Updater) RefreshItem(ctx context.Context, key string, force bool) (*Result, error) {
	res := &Result{Path: key, State: StateNew}

	item, err := u.catalog.Item(ctx, key)
	if err != nil {
		return res, err
	}
	res.ItemKey = item.Key
	if hasMetadata(item) && !force {
		u.setState(res, StateSkipped)
		u.log.Info("updater.item.skipped", "item", key, "reason", "already populated")
		return res, nil
	}

	att, err := u.catalog.FirstPDFAttachment(ctx, key)
	if err != nil {
		return res, err
	}

	dir, err := os.MkdirTemp("", "zotfill-refresh-*")
	if err != nil {
		return res, err
	}
	defer os.RemoveAll(dir)

	path, err := u.catalog.DownloadAttachment(ctx, att.Key, dir)
	if err != nil {
		return res, err
	}

	text, err := u.text.ExtractText(ctx, path, u.opts.UseOCR)
	if err != nil {
		return res, err
	}
	u.setState(res, StateTextExtracted)

	m, err := u.meta.ExtractMetadata(ctx, text)
	if err != nil {
		return res, err
	}
	u.setState(res, StateMetadataExtracted)

	fields := FormatFields(m)
	MergeFilenameMetadata(fields, ingest.ParseScannerFilename(filepath.Base(path)))
	res.Fields = fields

	if u.opts.DryRun {
		u.log.Info("updater.item.dry_run", "item", key, "fields", len(fields))
		return res, nil
	}
	if err := u.catalog.UpdateMetadata(ctx, key, fields); err != nil {
		return res, err
	}
	u.setState(res, StateWritten)
	u.log.Info("updater.item.ok", "item", key)
	return res, nil
}

// RunFolder processes every PDF under folder sequentially. Per-document
// failures are recorded and the batch continues; only a dead context stops
// the loop early.
func (u *Updater) RunFolder(ctx context.Context, folder string, recursive bool, pattern string) (*Summary, error) {
	pdfs, err := ingest.FindPDFFiles(folder, recursive, pattern)
	if err != nil {
		return nil, err
	}
	u.log.Info("updater.folder.start", "folder", folder, "files", len(pdfs))

	summary := &Summary{}
	for _, path := range pdfs {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		res, err := u.ProcessPDF(ctx, path)
		switch {
		case errors.Is(err, common.ErrDuplicate):
			summary.Skipped++
		case err != nil:
			summary.Failed++
			summary.Failures = append(summary.Failures, Failure{Path: path, Err: err})
			u.log.Error("updater.pdf.failed", "path", path, "state", string(res.State), "error", err)
		case res.State == StateSkipped:
			summary.Skipped++
		default:
			summary.Processed++
		}
	}
	u.log.Info("updater.folder.done",
		"processed", summary.Processed,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
	)
	return summary, nil
}

// RunCatalog refreshes every item in the library that owns a PDF attachment,
// through the same per-item path as RefreshItem.
func (u *Updater) RunCatalog(ctx context.Context, force bool) (*Summary, error) {
	atts, err := u.catalog.AllAttachments(ctx)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var parents []string
	for i := range atts {
		it := &atts[i]
		if ct, _ := it.Data["contentType"].(string); ct != "application/pdf" {
			continue
		}
		parent, _ := it.Data["parentItem"].(string)
		if parent == "" || seen[parent] {
			continue
		}
		seen[parent] = true
		parents = append(parents, parent)
	}
	sort.Strings(parents)
	u.log.Info("updater.catalog.start", "items", len(parents))

	summary := &Summary{}
	for _, key := range parents {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		res, err := u.RefreshItem(ctx, key, force)
		switch {
		case err != nil:
			summary.Failed++
			summary.Failures = append(summary.Failures, Failure{Path: key, Err: err})
			u.log.Error("updater.item.failed", "item", key, "state", string(res.State), "error", err)
		case res.State == StateSkipped:
			summary.Skipped++
		default:
			summary.Processed++
		}
	}
	u.log.Info("updater.catalog.done",
		"processed", summary.Processed,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
	)
	return summary, nil
}
