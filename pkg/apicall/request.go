package apicall

import (
	"net/http"
	"net/url"

	"github.com/goccy/go-json"
	"github.com/hyp3rd/ewrap"
)

const (
	contentTypeJSON  = "application/json"
	contentTypePlain = "text/plain"
)

// Request describes one logical call against the cluster.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	// Body is JSON-encoded unless it is already a []byte or string, which are
	// sent as-is (newline-delimited JSON for multi-search and imports).
	Body   any
	Header http.Header
}

// Response is a successful reply from a node. Responses served from the
// response cache are shared between callers and must not be modified.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return ewrap.Wrap(err, "decode response body")
	}
	return nil
}

// EncodeBody renders a request body to bytes. A nil body encodes to nil.
func EncodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, ewrap.Wrap(err, "encode request body")
		}
		return data, nil
	}
}
