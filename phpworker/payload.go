package phpworker

import (
	"io"
	"os"

	"go-appbridge/bridge"
	"go-appbridge/internal/logger"
)

// RequestPayload is the JSON document a PHP worker receives per request.
// Body is base64 encoded by encoding/json so binary bodies survive.
type RequestPayload struct {
	ID      string                   `json:"id"`
	Method  string                   `json:"method"`
	URI     string                   `json:"uri"`
	Path    string                   `json:"path"`
	Server  map[string]string        `json:"server"`
	Headers map[string][]string      `json:"headers"`
	Query   map[string][]string      `json:"query"`
	Post    map[string][]string      `json:"post"`
	Cookies map[string]string        `json:"cookies"`
	Files   map[string][]FilePayload `json:"files"`
	Body    []byte                   `json:"body"`
}

// FilePayload mirrors one entry of PHP's $_FILES.
type FilePayload struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	TmpName string `json:"tmp_name"`
	Size    int64  `json:"size"`
	Error   int    `json:"error"`
}

// PHP upload error codes used in FilePayload.Error.
const (
	uploadErrOK     = 0
	uploadErrNoTmp  = 6
	uploadErrCantWr = 7
)

// ResponsePayload is what a PHP worker writes back.
type ResponsePayload struct {
	ID      string          `json:"id"`
	Status  int             `json:"status"`
	Headers []HeaderPayload `json:"headers"`
	Cookies []CookiePayload `json:"cookies"`
	Body    []byte          `json:"body"`
}

// HeaderPayload keeps header order and casing across the pipe.
type HeaderPayload struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

type CookiePayload struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Expires  int64  `json:"expires"`
	Path     string `json:"path"`
	Domain   string `json:"domain"`
	Secure   bool   `json:"secure"`
	HTTPOnly bool   `json:"httponly"`
}

// BuildPayload converts a canonical request for the PHP side. Uploaded
// files are spooled into tmpDir; the returned cleanup removes them and
// must be called once the worker has answered.
func BuildPayload(req *bridge.Request, tmpDir string) (*RequestPayload, func()) {
	p := &RequestPayload{
		ID:      req.ID(),
		Method:  req.Method(),
		URI:     req.RequestURI(),
		Path:    req.Path(),
		Server:  req.Server(),
		Headers: req.Headers(),
		Query:   req.Query(),
		Post:    req.Form(),
		Cookies: req.Cookies(),
		Files:   map[string][]FilePayload{},
		Body:    req.Body(),
	}

	var spooled []string
	cleanup := func() {
		for _, name := range spooled {
			_ = os.Remove(name)
		}
	}

	for field, files := range req.Files() {
		for _, f := range files {
			fp := FilePayload{Name: f.Name, Type: f.ContentType, Size: f.Size}

			tmpName, code := spool(f, tmpDir)
			fp.TmpName = tmpName
			fp.Error = code
			if code == uploadErrOK {
				spooled = append(spooled, tmpName)
			}

			p.Files[field] = append(p.Files[field], fp)
		}
	}

	return p, cleanup
}

// spool copies an upload into dir and returns its path with a PHP
// upload error code.
func spool(f bridge.UploadedFile, dir string) (string, int) {
	src, err := f.Open()
	if err != nil {
		logger.Warn("upload unreadable", "file", f.Name, logger.KeyError, err)
		return "", uploadErrCantWr
	}
	defer src.Close()

	dst, err := os.CreateTemp(dir, "php-upload-*")
	if err != nil {
		logger.Warn("upload temp file", "dir", dir, logger.KeyError, err)
		return "", uploadErrNoTmp
	}

	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(dst.Name())
		return "", uploadErrCantWr
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(dst.Name())
		return "", uploadErrCantWr
	}

	return dst.Name(), uploadErrOK
}

// ToResponse converts a worker answer into a canonical response.
func (p *ResponsePayload) ToResponse() *bridge.Response {
	resp := bridge.NewResponse(p.Status, p.Body)

	for _, h := range p.Headers {
		for _, v := range h.Values {
			resp.Headers.Add(h.Name, v)
		}
	}

	for _, c := range p.Cookies {
		resp.SetCookie(bridge.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Expires:  c.Expires,
			Path:     c.Path,
			Domain:   c.Domain,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		})
	}

	return resp
}
