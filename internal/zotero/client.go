package zotero

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/aduverger/zotfill/internal/common"
)

const defaultBaseURL = "https://api.zotero.org"

// pageSize is the catalog's maximum page size for item listings.
const pageSize = 100

// Client talks to a single catalog library over the web API. All library
// operations funnel through one request path so the server's rate signals
// apply to the whole process, not per call site.
type Client struct {
	baseURL    string
	libPrefix  string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *slog.Logger

	mu           sync.Mutex
	backoffUntil time.Time

	dupMu     sync.Mutex
	dupLoaded bool
	dupCache  map[string]string // content md5 -> owning item key
}

// Option customizes a Client. Used by tests to point at a local server.
type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

// NewClient builds a client for one library. libraryType is "user" or
// "group"; anything else is a configuration error.
func NewClient(libraryID, libraryType, apiKey string, logger *slog.Logger, opts ...Option) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var prefix string
	switch libraryType {
	case "user":
		prefix = "/users/" + libraryID
	case "group":
		prefix = "/groups/" + libraryID
	default:
		return nil, common.ConfigurationErrorf("library type must be 'user' or 'group', got %q", libraryType)
	}

	c := &Client{
		baseURL:    defaultBaseURL,
		libPrefix:  prefix,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(5), 5),
		log:        logger,
		dupCache:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) lib(path string) string {
	return c.libPrefix + path
}

// Item fetches a single item by key.
func (c *Client) Item(ctx context.Context, key string) (*Item, error) {
	res, err := c.do(ctx, http.MethodGet, c.lib("/items/"+key), nil, nil)
	if err != nil {
		if res != nil && res.status == http.StatusNotFound {
			return nil, common.NewAppError("ITEM_NOT_FOUND", fmt.Sprintf("item %s", key), common.ErrNotFound)
		}
		return nil, err
	}
	var it Item
	if err := json.Unmarshal(res.body, &it); err != nil {
		return nil, common.WrapError(err, "decoding item")
	}
	return &it, nil
}

// loadAttachmentIndex pages through every attachment in the library and
// indexes content hashes. Runs once per process; later duplicate checks are
// cache hits. A whole-library scan is expensive on large catalogs, but it is
// the only way the API exposes content hashes.
func (c *Client) loadAttachmentIndex(ctx context.Context) error {
	start := time.Now()
	total := 0
	for offset := 0; ; offset += pageSize {
		q := url.Values{}
		q.Set("itemType", "attachment")
		q.Set("start", strconv.Itoa(offset))
		q.Set("limit", strconv.Itoa(pageSize))

		res, err := c.do(ctx, http.MethodGet, c.lib("/items?"+q.Encode()), nil, nil)
		if err != nil {
			return err
		}
		var page []Item
		if err := json.Unmarshal(res.body, &page); err != nil {
			return common.WrapError(err, "decoding attachment page")
		}
		for i := range page {
			it := &page[i]
			if sum := it.dataString("md5"); sum != "" {
				owner := it.dataString("parentItem")
				if owner == "" {
					owner = it.Key
				}
				c.dupCache[sum] = owner
			}
		}
		total += len(page)

		remaining, _ := strconv.Atoi(res.header.Get("Total-Results"))
		if offset+pageSize >= remaining || len(page) == 0 {
			break
		}
	}
	c.log.Info("zotero.dedup.index_loaded",
		"attachments", total,
		"hashes", len(c.dupCache),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// CheckDuplicate reports whether content with this md5 already exists in the
// library, and if so which item owns it.
func (c *Client) CheckDuplicate(ctx context.Context, md5sum string) (string, bool, error) {
	c.dupMu.Lock()
	defer c.dupMu.Unlock()
	if !c.dupLoaded {
		if err := c.loadAttachmentIndex(ctx); err != nil {
			return "", false, err
		}
		c.dupLoaded = true
	}
	key, ok := c.dupCache[md5sum]
	return key, ok, nil
}

// rememberHash records a freshly uploaded attachment so later duplicate
// checks in the same run see it.
func (c *Client) rememberHash(md5sum, ownerKey string) {
	c.dupMu.Lock()
	if c.dupCache == nil {
		c.dupCache = make(map[string]string)
	}
	c.dupCache[md5sum] = ownerKey
	c.dupMu.Unlock()
}

// itemTemplate fetches the server's blank template for an item type. The
// template endpoint is global, not library-scoped.
func (c *Client) itemTemplate(ctx context.Context, query string) (map[string]any, error) {
	res, err := c.do(ctx, http.MethodGet, "/items/new?"+query, nil, nil)
	if err != nil {
		return nil, err
	}
	var tpl map[string]any
	if err := json.Unmarshal(res.body, &tpl); err != nil {
		return nil, common.WrapError(err, "decoding item template")
	}
	return tpl, nil
}

// createItems POSTs a batch of item payloads and returns the created keys in
// submission order.
func (c *Client) createItems(ctx context.Context, payloads []map[string]any) ([]string, error) {
	body, err := json.Marshal(payloads)
	if err != nil {
		return nil, common.WrapError(err, "encoding items")
	}
	res, err := c.do(ctx, http.MethodPost, c.lib("/items"), body, nil)
	if err != nil {
		return nil, err
	}
	var cr createResponse
	if err := json.Unmarshal(res.body, &cr); err != nil {
		return nil, common.WrapError(err, "decoding create response")
	}
	keys := make([]string, 0, len(payloads))
	for i := range payloads {
		idx := strconv.Itoa(i)
		if f, bad := cr.Failed[idx]; bad {
			return nil, common.NewAppError("ITEM_CREATE_FAILED",
				fmt.Sprintf("item %d rejected: %d %s", i, f.Code, f.Message), common.ErrTransport)
		}
		key := cr.Success[idx]
		if key == "" {
			if it, ok := cr.Successful[idx]; ok {
				key = it.Key
			}
		}
		if key == "" {
			return nil, common.NewAppError("ITEM_CREATE_FAILED",
				fmt.Sprintf("no key returned for item %d", i), common.ErrTransport)
		}
		keys = append(keys, key)
	}
	return keys, nil
}

// CreateItem creates a blank report item, optionally filed into collections,
// and returns the created item.
func (c *Client) CreateItem(ctx context.Context, title string, collections []string) (*Item, error) {
	tpl, err := c.itemTemplate(ctx, "itemType=report")
	if err != nil {
		return nil, err
	}
	tpl["title"] = title
	if len(collections) > 0 {
		tpl["collections"] = collections
	}

	keys, err := c.createItems(ctx, []map[string]any{tpl})
	if err != nil {
		return nil, err
	}
	it, err := c.Item(ctx, keys[0])
	if err != nil {
		return nil, err
	}
	c.log.Info("zotero.item.created", "key", it.Key, "title", title)
	return it, nil
}

// AttachPDF uploads filePath as an imported-file attachment under parentKey.
// The storage upload follows the authorize/upload/register protocol; when the
// storage server already holds identical content the upload is skipped.
func (c *Client) AttachPDF(ctx context.Context, parentKey, filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", common.WrapError(err, "reading attachment")
	}
	info, err := os.Stat(filePath)
	if err != nil {
		return "", common.WrapError(err, "stat attachment")
	}
	sum := md5.Sum(data)
	md5hex := hex.EncodeToString(sum[:])
	filename := filepath.Base(filePath)

	tpl, err := c.itemTemplate(ctx, "itemType=attachment&linkMode=imported_file")
	if err != nil {
		return "", err
	}
	tpl["parentItem"] = parentKey
	tpl["title"] = filename
	tpl["filename"] = filename
	tpl["contentType"] = "application/pdf"

	keys, err := c.createItems(ctx, []map[string]any{tpl})
	if err != nil {
		return "", err
	}
	attachmentKey := keys[0]

	auth, err := c.authorizeUpload(ctx, attachmentKey, md5hex, filename, info)
	if err != nil {
		return "", err
	}
	if auth.Exists == 1 {
		c.log.Info("zotero.attachment.exists", "key", attachmentKey, "md5", md5hex)
		c.rememberHash(md5hex, parentKey)
		return attachmentKey, nil
	}

	if err := c.uploadToStorage(ctx, auth, data); err != nil {
		return "", err
	}
	if err := c.registerUpload(ctx, attachmentKey, auth.UploadKey); err != nil {
		return "", err
	}

	c.log.Info("zotero.attachment.uploaded",
		"key", attachmentKey,
		"parent", parentKey,
		"bytes", len(data),
		"md5", md5hex,
	)
	c.rememberHash(md5hex, parentKey)
	return attachmentKey, nil
}

func (c *Client) authorizeUpload(ctx context.Context, attachmentKey, md5hex, filename string, info os.FileInfo) (*uploadAuthorization, error) {
	form := url.Values{}
	form.Set("md5", md5hex)
	form.Set("filename", filename)
	form.Set("filesize", strconv.FormatInt(info.Size(), 10))
	form.Set("mtime", strconv.FormatInt(info.ModTime().UnixMilli(), 10))

	res, err := c.do(ctx, http.MethodPost, c.lib("/items/"+attachmentKey+"/file"),
		[]byte(form.Encode()), map[string]string{
			"Content-Type":  "application/x-www-form-urlencoded",
			"If-None-Match": "*",
		})
	if err != nil {
		return nil, err
	}
	var auth uploadAuthorization
	if err := json.Unmarshal(res.body, &auth); err != nil {
		return nil, common.WrapError(err, "decoding upload authorization")
	}
	return &auth, nil
}

// uploadToStorage sends prefix+content+suffix to the storage host named in
// the authorization. The storage host is not the catalog API, so this request
// deliberately bypasses the backoff machinery.
func (c *Client) uploadToStorage(ctx context.Context, auth *uploadAuthorization, content []byte) error {
	body := make([]byte, 0, len(auth.Prefix)+len(content)+len(auth.Suffix))
	body = append(body, auth.Prefix...)
	body = append(body, content...)
	body = append(body, auth.Suffix...)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, auth.URL, bytes.NewReader(body))
	if err != nil {
		return common.WrapError(err, "building storage request")
	}
	req.Header.Set("Content-Type", auth.ContentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: storage upload: %v", common.ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%w: storage upload: status %d", common.ErrTransport, resp.StatusCode)
	}
	return nil
}

func (c *Client) registerUpload(ctx context.Context, attachmentKey, uploadKey string) error {
	form := url.Values{}
	form.Set("upload", uploadKey)
	_, err := c.do(ctx, http.MethodPost, c.lib("/items/"+attachmentKey+"/file"),
		[]byte(form.Encode()), map[string]string{
			"Content-Type":  "application/x-www-form-urlencoded",
			"If-None-Match": "*",
		})
	return err
}

// UpdateMetadata merges fields into the item's data envelope and writes it
// back. Same-named keys are overwritten; everything else on the item is
// preserved. The write is conditional on the version read here, so a
// concurrent edit fails the PUT instead of being clobbered.
func (c *Client) UpdateMetadata(ctx context.Context, key string, fields map[string]any) error {
	it, err := c.Item(ctx, key)
	if err != nil {
		return err
	}
	for k, v := range fields {
		it.Data[k] = v
	}

	body, err := json.Marshal(it.Data)
	if err != nil {
		return common.WrapError(err, "encoding item data")
	}
	_, err = c.do(ctx, http.MethodPut, c.lib("/items/"+key), body, map[string]string{
		"If-Unmodified-Since-Version": strconv.Itoa(it.Version),
	})
	if err != nil {
		return err
	}
	c.log.Info("zotero.item.updated", "key", key, "fields", len(fields))
	return nil
}

// FirstPDFAttachment returns parentKey's first PDF attachment child.
func (c *Client) FirstPDFAttachment(ctx context.Context, parentKey string) (*Item, error) {
	res, err := c.do(ctx, http.MethodGet, c.lib("/items/"+parentKey+"/children"), nil, nil)
	if err != nil {
		return nil, err
	}
	var children []Item
	if err := json.Unmarshal(res.body, &children); err != nil {
		return nil, common.WrapError(err, "decoding children")
	}
	for i := range children {
		it := &children[i]
		if it.ItemType() == "attachment" && it.dataString("contentType") == "application/pdf" {
			return it, nil
		}
	}
	return nil, common.NewAppError("NO_PDF_ATTACHMENT",
		fmt.Sprintf("item %s has no PDF attachment", parentKey), common.ErrNotFound)
}

// DownloadAttachment fetches the attachment's file content into dir and
// returns the written path. The filename comes from the attachment record
// when present.
func (c *Client) DownloadAttachment(ctx context.Context, key, dir string) (string, error) {
	it, err := c.Item(ctx, key)
	if err != nil {
		return "", err
	}
	name := it.dataString("filename")
	if name == "" {
		name = key + ".pdf"
	}

	res, err := c.do(ctx, http.MethodGet, c.lib("/items/"+key+"/file"), nil, nil)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(dir, name)
	if err := os.WriteFile(dst, res.body, 0o600); err != nil {
		return "", common.WrapError(err, "writing attachment")
	}
	c.log.Debug("zotero.attachment.downloaded", "key", key, "path", dst, "bytes", len(res.body))
	return dst, nil
}

// AllAttachments lists every attachment in the library, for whole-catalog
// refresh runs.
func (c *Client) AllAttachments(ctx context.Context) ([]Item, error) {
	var all []Item
	for offset := 0; ; offset += pageSize {
		q := url.Values{}
		q.Set("itemType", "attachment")
		q.Set("start", strconv.Itoa(offset))
		q.Set("limit", strconv.Itoa(pageSize))

		res, err := c.do(ctx, http.MethodGet, c.lib("/items?"+q.Encode()), nil, nil)
		if err != nil {
			return nil, err
		}
		var page []Item
		if err := json.Unmarshal(res.body, &page); err != nil {
			return nil, common.WrapError(err, "decoding attachment page")
		}
		all = append(all, page...)

		total, _ := strconv.Atoi(res.header.Get("Total-Results"))
		if offset+pageSize >= total || len(page) == 0 {
			break
		}
	}
	return all, nil
}
