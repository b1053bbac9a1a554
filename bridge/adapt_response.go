package bridge

import (
	"net/http"
	"strings"
	"time"
)

// ResponseWriter is the wire side of a response. AdaptResponse calls it
// in a fixed order: Status, Header for every value, RawCookie for every
// cookie, then End exactly once.
type ResponseWriter interface {
	Status(code int)
	Header(name, value string)
	RawCookie(c Cookie)
	End(body []byte) error
}

// AdaptResponse writes resp onto w. A zero status is written as 200.
func AdaptResponse(w ResponseWriter, resp *Response) error {
	if resp == nil {
		return ErrNilResponse
	}

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.Status(status)

	for _, f := range resp.Headers.fields {
		for _, v := range f.Values {
			w.Header(f.Name, v)
		}
	}

	for _, c := range resp.Cookies {
		w.RawCookie(c)
	}

	return w.End(resp.Body)
}

// FormatRawCookie renders c as a Set-Cookie value. Attributes appear in
// the order expires, path, domain, secure, httponly and are omitted when
// zero. Name and value are written as given, without escaping.
func FormatRawCookie(c Cookie) string {
	var b strings.Builder
	b.WriteString(c.Name)
	b.WriteByte('=')
	b.WriteString(c.Value)

	if c.Expires != 0 {
		b.WriteString("; Expires=")
		b.WriteString(time.Unix(c.Expires, 0).UTC().Format(http.TimeFormat))
	}
	if c.Path != "" {
		b.WriteString("; Path=")
		b.WriteString(c.Path)
	}
	if c.Domain != "" {
		b.WriteString("; Domain=")
		b.WriteString(c.Domain)
	}
	if c.Secure {
		b.WriteString("; Secure")
	}
	if c.HTTPOnly {
		b.WriteString("; HttpOnly")
	}

	return b.String()
}

// HTTPResponseWriter writes canonical responses to an http.ResponseWriter.
// Header names are stored verbatim so their casing reaches the wire, and
// each value becomes its own header line.
type HTTPResponseWriter struct {
	w       http.ResponseWriter
	status  int
	written int
	ended   bool
}

// NewHTTPResponseWriter wraps w.
func NewHTTPResponseWriter(w http.ResponseWriter) *HTTPResponseWriter {
	return &HTTPResponseWriter{w: w, status: http.StatusOK}
}

func (h *HTTPResponseWriter) Status(code int) {
	h.status = code
}

func (h *HTTPResponseWriter) Header(name, value string) {
	hdr := h.w.Header()
	hdr[name] = append(hdr[name], value)
}

func (h *HTTPResponseWriter) RawCookie(c Cookie) {
	hdr := h.w.Header()
	hdr["Set-Cookie"] = append(hdr["Set-Cookie"], FormatRawCookie(c))
}

// End writes the status line, headers and body, then flushes.
func (h *HTTPResponseWriter) End(body []byte) error {
	if h.ended {
		return ErrResponseEnded
	}
	h.ended = true

	suppressDefaults(h.w.Header())
	h.w.WriteHeader(h.status)
	n, err := h.w.Write(body)
	h.written = n
	if err != nil {
		return err
	}

	if f, ok := h.w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

// suppressDefaults stops net/http from adding its own Content-Type or
// Date when the application already sent one under a different casing.
// A nil value under the canonical key is never written.
func suppressDefaults(hdr http.Header) {
	for name := range hdr {
		canonical := http.CanonicalHeaderKey(name)
		if canonical == name || (canonical != "Content-Type" && canonical != "Date") {
			continue
		}
		if _, ok := hdr[canonical]; !ok {
			hdr[canonical] = nil
		}
	}
}

// StatusCode returns the status written, or the pending one before End.
func (h *HTTPResponseWriter) StatusCode() int { return h.status }

// BytesWritten returns the body bytes written by End.
func (h *HTTPResponseWriter) BytesWritten() int { return h.written }

// Ended reports whether End has been called.
func (h *HTTPResponseWriter) Ended() bool { return h.ended }
