package zotero

// Item is a catalog item as returned by the web API. Data is the mutable
// envelope the API accepts back on writes; everything outside Data is
// server-managed.
type Item struct {
	Key     string         `json:"key"`
	Version int            `json:"version"`
	Data    map[string]any `json:"data"`
}

// ItemType returns the item's type from the data envelope, or "".
func (it *Item) ItemType() string {
	s, _ := it.Data["itemType"].(string)
	return s
}

func (it *Item) dataString(key string) string {
	s, _ := it.Data[key].(string)
	return s
}

// createResponse is the write-response envelope for POST /items. Indexes are
// stringified positions in the submitted array.
type createResponse struct {
	Successful map[string]Item   `json:"successful"`
	Success    map[string]string `json:"success"`
	Failed     map[string]struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"failed"`
}

// uploadAuthorization is the response to a file-upload authorization request.
// Exists is set when the storage server already holds identical content.
type uploadAuthorization struct {
	Exists      int    `json:"exists"`
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
	Prefix      string `json:"prefix"`
	Suffix      string `json:"suffix"`
	UploadKey   string `json:"uploadKey"`
}
