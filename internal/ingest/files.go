package ingest

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// FindPDFFiles returns the PDF files under root, sorted for deterministic
// batch order. When recursive is false only the top level is scanned. A
// non-empty pattern is matched (filepath.Match) against base names.
func FindPDFFiles(root string, recursive bool, pattern string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("stat folder: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	var pdfs []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			if path != root && (!recursive || IsHidden(path)) {
				return filepath.SkipDir
			}
			return nil
		}
		if IsHidden(path) {
			return nil
		}
		if !strings.EqualFold(filepath.Ext(path), ".pdf") {
			return nil
		}
		if pattern != "" {
			ok, err := filepath.Match(pattern, filepath.Base(path))
			if err != nil {
				return fmt.Errorf("bad pattern %q: %w", pattern, err)
			}
			if !ok {
				return nil
			}
		}
		pdfs = append(pdfs, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk: %w", err)
	}

	sort.Strings(pdfs)
	return pdfs, nil
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".")
}

// FileMD5 computes the hex MD5 digest of a file's bytes. The digest is the
// duplicate key against the catalog's stored attachment hashes.
func FileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// scannerNamePattern matches the filename a scanner app produces, e.g.
// "CamScanner 12-03-2024 14.30_hnOCR.pdf". Older exports use a colon in the
// time part and a lowercase s; both are accepted.
var scannerNamePattern = regexp.MustCompile(`(?i)^camscanner (\d{2}-\d{2}-\d{4}) (\d{2})[.:](\d{2})_hnOCR\.pdf$`)

// FilenameMetadata is supplementary metadata recovered from a recognized
// scanner filename. It is merged into extracted metadata without overwriting
// model-derived fields of the same purpose.
type FilenameMetadata struct {
	AccessDate string // ISO 8601 (YYYY-MM-DD)
	ScanTime   string // HH:MM
}

// ParseScannerFilename extracts scan date and time from a scanner-app
// filename. Returns nil when the name does not match.
func ParseScannerFilename(name string) *FilenameMetadata {
	m := scannerNamePattern.FindStringSubmatch(name)
	if m == nil {
		return nil
	}
	d, err := time.Parse("02-01-2006", m[1])
	if err != nil {
		return nil
	}
	return &FilenameMetadata{
		AccessDate: d.Format("2006-01-02"),
		ScanTime:   m[2] + ":" + m[3],
	}
}
