package bridge

import (
	"maps"
	"mime/multipart"
	"net/http"
	"net/url"
	"slices"
	"time"
)

// UploadedFile describes one file part of a multipart request.
type UploadedFile struct {
	Name        string // client-supplied file name
	ContentType string
	Size        int64

	header *multipart.FileHeader
}

// Open returns a reader over the uploaded content.
func (f UploadedFile) Open() (multipart.File, error) {
	if f.header == nil {
		return nil, http.ErrMissingFile
	}
	return f.header.Open()
}

// Request is the canonical, read-only view of one inbound request.
// Accessors that return containers return copies.
type Request struct {
	id         string
	method     string
	path       string
	requestURI string
	protocol   string
	host       string
	remoteAddr string

	query   url.Values
	form    url.Values
	cookies map[string]string
	files   map[string][]UploadedFile
	headers http.Header
	server  map[string]string
	body    []byte

	receivedAt time.Time
}

func (r *Request) ID() string            { return r.id }
func (r *Request) Method() string        { return r.method }
func (r *Request) Path() string          { return r.path }
func (r *Request) RequestURI() string    { return r.requestURI }
func (r *Request) Protocol() string      { return r.protocol }
func (r *Request) Host() string          { return r.host }
func (r *Request) RemoteAddr() string    { return r.remoteAddr }
func (r *Request) ReceivedAt() time.Time { return r.receivedAt }

// Query returns the parsed query string.
func (r *Request) Query() url.Values { return cloneValues(r.query) }

// Form returns body fields from urlencoded or multipart bodies.
func (r *Request) Form() url.Values { return cloneValues(r.form) }

// Cookies returns the request cookies by name. The first occurrence of a
// name wins.
func (r *Request) Cookies() map[string]string { return maps.Clone(r.cookies) }

// Files returns uploaded files keyed by form field.
func (r *Request) Files() map[string][]UploadedFile {
	out := make(map[string][]UploadedFile, len(r.files))
	for k, v := range r.files {
		out[k] = slices.Clone(v)
	}
	return out
}

// Headers returns the request headers with canonical keys.
func (r *Request) Headers() http.Header { return r.headers.Clone() }

// Header returns the first value of the named header.
func (r *Request) Header(name string) string { return r.headers.Get(name) }

// Server returns the CGI-style environment: REQUEST_METHOD, PATH_INFO,
// HTTP_* and friends.
func (r *Request) Server() map[string]string { return maps.Clone(r.server) }

// ServerValue returns one environment entry.
func (r *Request) ServerValue(key string) string { return r.server[key] }

// Body returns a copy of the raw request body. Multipart bodies are not
// retained; their content is available through Form and Files.
func (r *Request) Body() []byte { return slices.Clone(r.body) }

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = slices.Clone(vals)
	}
	return out
}
