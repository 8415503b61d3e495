package ingest

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestFindPDFFiles(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "b.pdf"))
	touch(t, filepath.Join(root, "a.PDF"))
	touch(t, filepath.Join(root, "notes.txt"))
	touch(t, filepath.Join(root, ".hidden.pdf"))
	touch(t, filepath.Join(root, "sub", "c.pdf"))
	touch(t, filepath.Join(root, ".git", "d.pdf"))

	t.Run("flat", func(t *testing.T) {
		got, err := FindPDFFiles(root, false, "")
		if err != nil {
			t.Fatal(err)
		}
		want := []string{filepath.Join(root, "a.PDF"), filepath.Join(root, "b.pdf")}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("recursive skips hidden dirs", func(t *testing.T) {
		got, err := FindPDFFiles(root, true, "")
		if err != nil {
			t.Fatal(err)
		}
		want := []string{
			filepath.Join(root, "a.PDF"),
			filepath.Join(root, "b.pdf"),
			filepath.Join(root, "sub", "c.pdf"),
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("pattern", func(t *testing.T) {
		got, err := FindPDFFiles(root, true, "b*.pdf")
		if err != nil {
			t.Fatal(err)
		}
		want := []string{filepath.Join(root, "b.pdf")}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("missing folder", func(t *testing.T) {
		if _, err := FindPDFFiles(filepath.Join(root, "nope"), false, ""); err == nil {
			t.Errorf("expected error for missing folder")
		}
	})
}

func TestFileMD5(t *testing.T) {
	p := filepath.Join(t.TempDir(), "f.pdf")
	if err := os.WriteFile(p, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := FileMD5(p)
	if err != nil {
		t.Fatal(err)
	}
	// md5("hello")
	if got != "5d41402abc4b2a76b9719d911017c592" {
		t.Errorf("digest = %s", got)
	}
}

func TestParseScannerFilename(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want *FilenameMetadata
	}{
		{"dot time", "CamScanner 12-03-2024 14.30_hnOCR.pdf", &FilenameMetadata{AccessDate: "2024-03-12", ScanTime: "14:30"}},
		{"colon time", "Camscanner 01-12-2023 09:05_hnOCR.pdf", &FilenameMetadata{AccessDate: "2023-12-01", ScanTime: "09:05"}},
		{"unrelated name", "rapport-2024.pdf", nil},
		{"missing suffix", "CamScanner 12-03-2024 14.30.pdf", nil},
		{"impossible date", "CamScanner 45-03-2024 14.30_hnOCR.pdf", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseScannerFilename(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseScannerFilename(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}
