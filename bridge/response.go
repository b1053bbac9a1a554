package bridge

import (
	"net/http"
	"slices"
	"strings"
)

// HeaderField is one response header name with all of its values.
type HeaderField struct {
	Name   string
	Values []string
}

// Header is an ordered response header multimap. Lookups are
// case-insensitive; the casing used the first time a name is added is the
// casing written to the wire.
type Header struct {
	fields []HeaderField
}

func (h *Header) index(name string) int {
	for i := range h.fields {
		if strings.EqualFold(h.fields[i].Name, name) {
			return i
		}
	}
	return -1
}

// Add appends value to name.
func (h *Header) Add(name, value string) {
	if i := h.index(name); i >= 0 {
		h.fields[i].Values = append(h.fields[i].Values, value)
		return
	}
	h.fields = append(h.fields, HeaderField{Name: name, Values: []string{value}})
}

// Set replaces all values of name. The new casing replaces the old one.
func (h *Header) Set(name string, values ...string) {
	if i := h.index(name); i >= 0 {
		h.fields[i] = HeaderField{Name: name, Values: slices.Clone(values)}
		return
	}
	h.fields = append(h.fields, HeaderField{Name: name, Values: slices.Clone(values)})
}

// Get returns the first value of name.
func (h *Header) Get(name string) string {
	if i := h.index(name); i >= 0 && len(h.fields[i].Values) > 0 {
		return h.fields[i].Values[0]
	}
	return ""
}

// Values returns all values of name.
func (h *Header) Values(name string) []string {
	if i := h.index(name); i >= 0 {
		return slices.Clone(h.fields[i].Values)
	}
	return nil
}

// Del removes name.
func (h *Header) Del(name string) {
	if i := h.index(name); i >= 0 {
		h.fields = slices.Delete(h.fields, i, i+1)
	}
}

// Len returns the number of distinct names.
func (h *Header) Len() int { return len(h.fields) }

// Fields returns the headers in insertion order.
func (h *Header) Fields() []HeaderField {
	out := make([]HeaderField, len(h.fields))
	for i, f := range h.fields {
		out[i] = HeaderField{Name: f.Name, Values: slices.Clone(f.Values)}
	}
	return out
}

// Cookie is a cookie directive on a response. Expires is a Unix
// timestamp; zero means a session cookie.
type Cookie struct {
	Name     string
	Value    string
	Expires  int64
	Path     string
	Domain   string
	Secure   bool
	HTTPOnly bool
}

// Response is what an application returns for one request.
type Response struct {
	Status  int
	Headers Header
	Cookies []Cookie
	Body    []byte
}

// NewResponse returns a response with status and body.
func NewResponse(status int, body []byte) *Response {
	return &Response{Status: status, Body: body}
}

// SetCookie appends c.
func (r *Response) SetCookie(c Cookie) {
	r.Cookies = append(r.Cookies, c)
}

// InternalServerError is the generic response sent when the application
// fails. It carries no detail about the failure.
func InternalServerError() *Response {
	resp := NewResponse(http.StatusInternalServerError, []byte(http.StatusText(http.StatusInternalServerError)))
	resp.Headers.Set("Content-Type", "text/plain; charset=utf-8")
	return resp
}
