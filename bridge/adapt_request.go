package bridge

import (
	"bytes"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// maxMultipartMemory bounds the in-memory part of a multipart body; the
// rest spills to temp files managed by net/http.
const maxMultipartMemory = 32 << 20

// headerSubstitutions maps header-name punctuation onto environment-key
// characters. Letters are upper-cased, digits and '_' pass through, and
// any other byte is dropped.
var headerSubstitutions = map[byte]byte{
	'-': '_',
	'.': '_',
	' ': '_',
}

// HeaderEnvKey returns the environment key for a header name:
// "X-Foo" and "x-foo" both become "HTTP_X_FOO". It returns "" when
// nothing of the name survives substitution.
func HeaderEnvKey(name string) string {
	var b strings.Builder
	b.Grow(len(name) + 5)
	b.WriteString("HTTP_")

	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case c >= 'a' && c <= 'z':
			b.WriteByte(c - 'a' + 'A')
		case c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_':
			b.WriteByte(c)
		default:
			if sub, ok := headerSubstitutions[c]; ok {
				b.WriteByte(sub)
			}
		}
	}

	if b.Len() == len("HTTP_") {
		return ""
	}
	return b.String()
}

// AdaptRequest builds the canonical request for r. It never fails:
// absent or malformed groups come back as empty containers.
func AdaptRequest(r *http.Request) *Request {
	req := &Request{
		id:         uuid.NewString(),
		query:      url.Values{},
		form:       url.Values{},
		cookies:    map[string]string{},
		files:      map[string][]UploadedFile{},
		headers:    http.Header{},
		server:     map[string]string{},
		receivedAt: time.Now(),
	}
	if r == nil {
		return req
	}

	req.method = r.Method
	req.protocol = r.Proto
	req.host = r.Host
	req.remoteAddr = r.RemoteAddr

	if r.URL != nil {
		req.path = r.URL.Path
		req.requestURI = r.URL.RequestURI()
		// ParseQuery keeps every well-formed pair even when it errors.
		if q, _ := url.ParseQuery(r.URL.RawQuery); q != nil {
			req.query = q
		}
		if req.host == "" {
			req.host = r.URL.Host
		}
	}
	if r.RequestURI != "" {
		req.requestURI = r.RequestURI
	}

	for name, values := range r.Header {
		canonical := http.CanonicalHeaderKey(name)
		req.headers[canonical] = append(req.headers[canonical], values...)
	}

	adaptCookies(r, req)
	adaptBody(r, req)
	adaptServer(r, req)

	return req
}

func adaptCookies(r *http.Request, req *Request) {
	if r.Header == nil {
		return
	}
	for _, c := range r.Cookies() {
		if _, seen := req.cookies[c.Name]; !seen {
			req.cookies[c.Name] = c.Value
		}
	}
}

func adaptBody(r *http.Request, req *Request) {
	if r.Body == nil || r.Body == http.NoBody {
		return
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType == "multipart/form-data" {
		if err := r.ParseMultipartForm(maxMultipartMemory); err != nil || r.MultipartForm == nil {
			return
		}
		for k, v := range r.MultipartForm.Value {
			req.form[k] = append(req.form[k], v...)
		}
		for field, headers := range r.MultipartForm.File {
			for _, fh := range headers {
				req.files[field] = append(req.files[field], UploadedFile{
					Name:        fh.Filename,
					ContentType: fh.Header.Get("Content-Type"),
					Size:        fh.Size,
					header:      fh,
				})
			}
		}
		return
	}

	raw, err := io.ReadAll(r.Body)
	_ = r.Body.Close()
	if err != nil {
		// keep whatever arrived before the error
		req.body = raw
		return
	}
	req.body = raw

	if mediaType == "application/x-www-form-urlencoded" {
		if form, _ := url.ParseQuery(string(raw)); form != nil {
			req.form = form
		}
	}

	// leave the body readable for anything downstream of the adapter
	r.Body = io.NopCloser(bytes.NewReader(raw))
}

func adaptServer(r *http.Request, req *Request) {
	env := req.server

	env["REQUEST_METHOD"] = req.method
	env["REQUEST_URI"] = req.requestURI
	env["PATH_INFO"] = req.path
	env["SERVER_PROTOCOL"] = req.protocol
	env["REQUEST_TIME"] = strconv.FormatInt(req.receivedAt.Unix(), 10)
	env["REQUEST_TIME_FLOAT"] = strconv.FormatFloat(float64(req.receivedAt.UnixMicro())/1e6, 'f', 6, 64)
	if r.URL != nil {
		env["QUERY_STRING"] = r.URL.RawQuery
	}
	if r.TLS != nil {
		env["HTTPS"] = "on"
	}

	if host, port, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		env["REMOTE_ADDR"] = host
		env["REMOTE_PORT"] = port
	} else if r.RemoteAddr != "" {
		env["REMOTE_ADDR"] = r.RemoteAddr
	}

	if host, port, err := net.SplitHostPort(req.host); err == nil {
		env["SERVER_NAME"] = host
		env["SERVER_PORT"] = port
	} else if req.host != "" {
		env["SERVER_NAME"] = req.host
	}
	if addr, ok := r.Context().Value(http.LocalAddrContextKey).(net.Addr); ok {
		if _, port, err := net.SplitHostPort(addr.String()); err == nil {
			env["SERVER_PORT"] = port
		}
	}

	if ct := req.headers.Get("Content-Type"); ct != "" {
		env["CONTENT_TYPE"] = ct
	}
	if cl := req.headers.Get("Content-Length"); cl != "" {
		env["CONTENT_LENGTH"] = cl
	} else if r.ContentLength > 0 {
		env["CONTENT_LENGTH"] = strconv.FormatInt(r.ContentLength, 10)
	}

	// Sorted so that names colliding on the same key join deterministically.
	names := make([]string, 0, len(r.Header))
	for name := range r.Header {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		key := HeaderEnvKey(name)
		if key == "" {
			continue
		}
		value := strings.Join(r.Header[name], ", ")
		if prev, ok := env[key]; ok {
			value = prev + ", " + value
		}
		env[key] = value
	}
}
