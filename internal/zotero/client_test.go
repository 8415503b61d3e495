package zotero

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/aduverger/zotfill/internal/common"
)

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Fatal(err)
	}
}

func TestItemNotFound(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	_, err := c.Item(context.Background(), "MISSING")
	if !errors.Is(err, common.ErrNotFound) {
		t.Errorf("expected not-found error, got %v", err)
	}
}

func TestCheckDuplicatePaginatesOnceAndCaches(t *testing.T) {
	listCalls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/users/123/items", func(w http.ResponseWriter, r *http.Request) {
		listCalls++
		start, _ := strconv.Atoi(r.URL.Query().Get("start"))
		w.Header().Set("Total-Results", "250")

		var page []Item
		for i := start; i < start+pageSize && i < 250; i++ {
			page = append(page, Item{
				Key: fmt.Sprintf("ATT%03d", i),
				Data: map[string]any{
					"md5":        fmt.Sprintf("hash%03d", i),
					"parentItem": fmt.Sprintf("PAR%03d", i),
				},
			})
		}
		writeJSON(t, w, page)
	})
	c := newTestClient(t, mux)

	key, found, err := c.CheckDuplicate(context.Background(), "hash120")
	if err != nil {
		t.Fatal(err)
	}
	if !found || key != "PAR120" {
		t.Errorf("got key=%q found=%v, want PAR120 true", key, found)
	}
	if listCalls != 3 {
		t.Errorf("250 attachments should take 3 pages, server saw %d", listCalls)
	}

	// Second lookup is served from the per-run cache.
	if _, found, err = c.CheckDuplicate(context.Background(), "hash007"); err != nil || !found {
		t.Fatalf("cached lookup: found=%v err=%v", found, err)
	}
	if _, found, _ = c.CheckDuplicate(context.Background(), "unknown"); found {
		t.Error("unknown hash reported as duplicate")
	}
	if listCalls != 3 {
		t.Errorf("cache miss re-triggered the scan, server saw %d calls", listCalls)
	}
}

func TestCheckDuplicateAttachmentWithoutParent(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/users/123/items", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Total-Results", "1")
		writeJSON(t, w, []Item{{Key: "SOLO", Data: map[string]any{"md5": "abc"}}})
	})
	c := newTestClient(t, mux)

	key, found, err := c.CheckDuplicate(context.Background(), "abc")
	if err != nil || !found {
		t.Fatalf("found=%v err=%v", found, err)
	}
	if key != "SOLO" {
		t.Errorf("parentless attachment must own its hash, got %q", key)
	}
}

func TestCreateItem(t *testing.T) {
	var posted []map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("/items/new", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("itemType") != "report" {
			t.Errorf("template itemType = %q", r.URL.Query().Get("itemType"))
		}
		writeJSON(t, w, map[string]any{"itemType": "report", "title": "", "creators": []any{}})
	})
	mux.HandleFunc("/users/123/items", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected %s on /items", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&posted); err != nil {
			t.Fatal(err)
		}
		writeJSON(t, w, createResponse{Success: map[string]string{"0": "NEW1"}})
	})
	mux.HandleFunc("/users/123/items/NEW1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, Item{Key: "NEW1", Version: 1, Data: map[string]any{"itemType": "report", "title": "doc.pdf"}})
	})
	c := newTestClient(t, mux)

	it, err := c.CreateItem(context.Background(), "doc.pdf", []string{"COLL1", "COLL2"})
	if err != nil {
		t.Fatal(err)
	}
	if it.Key != "NEW1" {
		t.Errorf("key = %q", it.Key)
	}
	if len(posted) != 1 {
		t.Fatalf("posted %d payloads", len(posted))
	}
	if posted[0]["title"] != "doc.pdf" {
		t.Errorf("posted title = %v", posted[0]["title"])
	}
	colls, _ := posted[0]["collections"].([]any)
	if len(colls) != 2 || colls[0] != "COLL1" {
		t.Errorf("posted collections = %v", posted[0]["collections"])
	}
}

func TestCreateItemServerRejection(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/items/new", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"itemType": "report"})
	})
	mux.HandleFunc("/users/123/items", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"failed": map[string]any{"0": map[string]any{"code": 400, "message": "invalid creator"}},
		})
	})
	c := newTestClient(t, mux)

	_, err := c.CreateItem(context.Background(), "doc.pdf", nil)
	if err == nil || !errors.Is(err, common.ErrTransport) {
		t.Errorf("expected rejection error, got %v", err)
	}
}

func attachServer(t *testing.T, exists bool, storageURL string, authForm *map[string]string, registered *string) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/items/new", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"itemType": "attachment", "linkMode": "imported_file"})
	})
	mux.HandleFunc("/users/123/items", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, createResponse{Success: map[string]string{"0": "ATT1"}})
	})
	mux.HandleFunc("/users/123/items/ATT1/file", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") != "*" {
			t.Errorf("missing If-None-Match on %v", r.URL)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatal(err)
		}
		if up := r.PostForm.Get("upload"); up != "" {
			*registered = up
			writeJSON(t, w, map[string]any{})
			return
		}
		*authForm = map[string]string{
			"md5":      r.PostForm.Get("md5"),
			"filename": r.PostForm.Get("filename"),
			"filesize": r.PostForm.Get("filesize"),
			"mtime":    r.PostForm.Get("mtime"),
		}
		if exists {
			writeJSON(t, w, uploadAuthorization{Exists: 1})
			return
		}
		writeJSON(t, w, uploadAuthorization{
			URL:         storageURL,
			ContentType: "multipart/form-data; boundary=x",
			Prefix:      "PREFIX-",
			Suffix:      "-SUFFIX",
			UploadKey:   "UPKEY",
		})
	})
	return mux
}

func TestAttachPDFUploadsAndRegisters(t *testing.T) {
	content := []byte("%PDF-1.4 test content")
	dir := t.TempDir()
	path := filepath.Join(dir, "scan.pdf")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	var storageBody []byte
	storage := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatal(err)
		}
		storageBody = b
		if ct := r.Header.Get("Content-Type"); ct != "multipart/form-data; boundary=x" {
			t.Errorf("storage content type = %q", ct)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer storage.Close()

	var authForm map[string]string
	var registered string
	c := newTestClient(t, attachServer(t, false, storage.URL, &authForm, &registered))

	key, err := c.AttachPDF(context.Background(), "PAR1", path)
	if err != nil {
		t.Fatal(err)
	}
	if key != "ATT1" {
		t.Errorf("attachment key = %q", key)
	}

	sum := md5.Sum(content)
	if authForm["md5"] != hex.EncodeToString(sum[:]) {
		t.Errorf("authorized md5 = %q", authForm["md5"])
	}
	if authForm["filename"] != "scan.pdf" {
		t.Errorf("authorized filename = %q", authForm["filename"])
	}
	if authForm["filesize"] != strconv.Itoa(len(content)) {
		t.Errorf("authorized filesize = %q", authForm["filesize"])
	}
	if registered != "UPKEY" {
		t.Errorf("registered upload key = %q", registered)
	}
	want := "PREFIX-" + string(content) + "-SUFFIX"
	if string(storageBody) != want {
		t.Errorf("storage body = %q, want %q", storageBody, want)
	}
}

func TestAttachPDFShortCircuitsWhenContentExists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scan.pdf")
	if err := os.WriteFile(path, []byte("content"), 0o644); err != nil {
		t.Fatal(err)
	}

	var authForm map[string]string
	var registered string
	c := newTestClient(t, attachServer(t, true, "", &authForm, &registered))

	if _, err := c.AttachPDF(context.Background(), "PAR1", path); err != nil {
		t.Fatal(err)
	}
	if registered != "" {
		t.Errorf("no register step expected when content exists, got %q", registered)
	}

	// The fresh hash is visible to this run's duplicate checks.
	c.dupMu.Lock()
	owner := c.dupCache[authForm["md5"]]
	c.dupMu.Unlock()
	if owner != "PAR1" {
		t.Errorf("hash not remembered, owner = %q", owner)
	}
}

func TestUpdateMetadataMergesAndSendsVersion(t *testing.T) {
	var putBody map[string]any
	var putVersion string
	mux := http.NewServeMux()
	mux.HandleFunc("/users/123/items/KEY1", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(t, w, Item{Key: "KEY1", Version: 17, Data: map[string]any{
				"itemType": "document",
				"title":    "old title",
				"extra":    "keep me",
			}})
		case http.MethodPut:
			putVersion = r.Header.Get("If-Unmodified-Since-Version")
			if err := json.NewDecoder(r.Body).Decode(&putBody); err != nil {
				t.Fatal(err)
			}
			writeJSON(t, w, map[string]any{})
		}
	})
	c := newTestClient(t, mux)

	err := c.UpdateMetadata(context.Background(), "KEY1", map[string]any{
		"title":    "new title",
		"itemType": "report",
	})
	if err != nil {
		t.Fatal(err)
	}
	if putVersion != "17" {
		t.Errorf("If-Unmodified-Since-Version = %q, want 17", putVersion)
	}
	if putBody["title"] != "new title" || putBody["itemType"] != "report" {
		t.Errorf("merged fields not written: %v", putBody)
	}
	if putBody["extra"] != "keep me" {
		t.Errorf("unrelated fields must survive the merge: %v", putBody)
	}
}

func TestFirstPDFAttachment(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/users/123/items/PAR1/children", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []Item{
			{Key: "NOTE1", Data: map[string]any{"itemType": "note"}},
			{Key: "IMG1", Data: map[string]any{"itemType": "attachment", "contentType": "image/png"}},
			{Key: "PDF1", Data: map[string]any{"itemType": "attachment", "contentType": "application/pdf"}},
		})
	})
	mux.HandleFunc("/users/123/items/EMPTY/children", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, []Item{})
	})
	c := newTestClient(t, mux)

	it, err := c.FirstPDFAttachment(context.Background(), "PAR1")
	if err != nil {
		t.Fatal(err)
	}
	if it.Key != "PDF1" {
		t.Errorf("key = %q, want PDF1", it.Key)
	}

	_, err = c.FirstPDFAttachment(context.Background(), "EMPTY")
	if !errors.Is(err, common.ErrNotFound) {
		t.Errorf("expected not-found, got %v", err)
	}
}

func TestDownloadAttachment(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/users/123/items/PDF1", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, Item{Key: "PDF1", Data: map[string]any{"filename": "report.pdf"}})
	})
	mux.HandleFunc("/users/123/items/PDF1/file", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("%PDF body"))
	})
	c := newTestClient(t, mux)

	dir := t.TempDir()
	path, err := c.DownloadAttachment(context.Background(), "PDF1", dir)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(path) != "report.pdf" {
		t.Errorf("path = %q", path)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "%PDF body" {
		t.Errorf("content = %q", b)
	}
}
