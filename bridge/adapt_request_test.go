package bridge

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHeaderEnvKey(t *testing.T) {
	cases := map[string]string{
		"X-Foo":           "HTTP_X_FOO",
		"x-foo":           "HTTP_X_FOO",
		"X-FOO":           "HTTP_X_FOO",
		"X.Forwarded.For": "HTTP_X_FORWARDED_FOR",
		"X_Under":         "HTTP_X_UNDER",
		"Weird Name":      "HTTP_WEIRD_NAME",
		"X-Üml@ut!":       "HTTP_X_MLUT",
		"@@@":             "",
		"":                "",
	}

	for in, want := range cases {
		if got := HeaderEnvKey(in); got != want {
			t.Errorf("HeaderEnvKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAdaptRequestAbsentGroupsAreEmpty(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/plain", nil)

	req := AdaptRequest(r)

	if req.Query() == nil || len(req.Query()) != 0 {
		t.Fatalf("expected empty query, got %#v", req.Query())
	}
	if req.Form() == nil || len(req.Form()) != 0 {
		t.Fatalf("expected empty form, got %#v", req.Form())
	}
	if req.Cookies() == nil || len(req.Cookies()) != 0 {
		t.Fatalf("expected empty cookies, got %#v", req.Cookies())
	}
	if req.Files() == nil || len(req.Files()) != 0 {
		t.Fatalf("expected empty files, got %#v", req.Files())
	}
	if len(req.Body()) != 0 {
		t.Fatalf("expected empty body, got %q", req.Body())
	}
	if req.ID() == "" {
		t.Fatalf("expected a request id")
	}
}

func TestAdaptRequestNilAndBareRequests(t *testing.T) {
	for name, r := range map[string]*http.Request{
		"nil":  nil,
		"bare": {},
		"no url": {
			Method: http.MethodPost,
			Header: http.Header{"Content-Type": {"application/x-www-form-urlencoded"}},
			Body:   io.NopCloser(strings.NewReader("a=1")),
		},
	} {
		t.Run(name, func(t *testing.T) {
			req := AdaptRequest(r)
			if req == nil {
				t.Fatal("expected a request")
			}
			if req.Query() == nil || req.Cookies() == nil || req.Files() == nil || req.Form() == nil {
				t.Fatalf("expected non-nil containers")
			}
		})
	}
}

func TestAdaptRequestCopiesAllGroups(t *testing.T) {
	body := strings.NewReader("name=ada&lang=go&lang=php")
	r := httptest.NewRequest(http.MethodPost, "/users/1?page=2&sort=asc", body)
	r.RemoteAddr = "10.0.0.7:5555"
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.Header.Set("x-foo", "bar")
	r.Header.Add("X-Multi", "one")
	r.Header.Add("X-Multi", "two")
	r.AddCookie(&http.Cookie{Name: "sid", Value: "abc123"})

	req := AdaptRequest(r)

	if req.Method() != http.MethodPost || req.Path() != "/users/1" {
		t.Fatalf("unexpected method/path: %s %s", req.Method(), req.Path())
	}
	if req.RequestURI() != "/users/1?page=2&sort=asc" {
		t.Fatalf("unexpected request uri %q", req.RequestURI())
	}
	if req.Query().Get("page") != "2" || req.Query().Get("sort") != "asc" {
		t.Fatalf("unexpected query %#v", req.Query())
	}
	if got := req.Form()["lang"]; len(got) != 2 || got[1] != "php" {
		t.Fatalf("unexpected form %#v", req.Form())
	}
	if req.Cookies()["sid"] != "abc123" {
		t.Fatalf("unexpected cookies %#v", req.Cookies())
	}
	if string(req.Body()) != "name=ada&lang=go&lang=php" {
		t.Fatalf("unexpected body %q", req.Body())
	}

	env := req.Server()
	want := map[string]string{
		"REQUEST_METHOD": "POST",
		"PATH_INFO":      "/users/1",
		"QUERY_STRING":   "page=2&sort=asc",
		"REMOTE_ADDR":    "10.0.0.7",
		"REMOTE_PORT":    "5555",
		"HTTP_X_FOO":     "bar",
		"HTTP_X_MULTI":   "one, two",
		"CONTENT_TYPE":   "application/x-www-form-urlencoded",
		"HTTP_COOKIE":    "sid=abc123",
	}
	for k, v := range want {
		if env[k] != v {
			t.Errorf("env[%s] = %q, want %q", k, env[k], v)
		}
	}

	if got := req.Headers()["X-Multi"]; len(got) != 2 {
		t.Fatalf("expected both X-Multi values, got %#v", got)
	}

	// body stays readable downstream
	rest, _ := io.ReadAll(r.Body)
	if string(rest) != "name=ada&lang=go&lang=php" {
		t.Fatalf("expected rewound body, got %q", rest)
	}
}

func TestAdaptRequestHeaderCaseNormalizes(t *testing.T) {
	lower := httptest.NewRequest(http.MethodGet, "/", nil)
	lower.Header["x-foo"] = []string{"v"}

	upper := httptest.NewRequest(http.MethodGet, "/", nil)
	upper.Header["X-Foo"] = []string{"v"}

	a, b := AdaptRequest(lower), AdaptRequest(upper)
	if a.ServerValue("HTTP_X_FOO") != "v" || b.ServerValue("HTTP_X_FOO") != "v" {
		t.Fatalf("expected both spellings to map to HTTP_X_FOO: %q %q",
			a.ServerValue("HTTP_X_FOO"), b.ServerValue("HTTP_X_FOO"))
	}
	if a.Header("X-Foo") != "v" {
		t.Fatalf("expected canonical header lookup to find lower-case header")
	}
}

func TestAdaptRequestMalformedQueryIsLenient(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?ok=1&bad=%zz&also=2", nil)

	req := AdaptRequest(r)

	if req.Query().Get("ok") != "1" || req.Query().Get("also") != "2" {
		t.Fatalf("expected well-formed pairs to survive, got %#v", req.Query())
	}
}

func TestAdaptRequestMalformedMultipartIsEmpty(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("not multipart at all"))
	r.Header.Set("Content-Type", "multipart/form-data; boundary=xyz")

	req := AdaptRequest(r)

	if len(req.Form()) != 0 || len(req.Files()) != 0 {
		t.Fatalf("expected empty form/files, got %#v %#v", req.Form(), req.Files())
	}
}

func TestAdaptRequestMultipartFiles(t *testing.T) {
	buf := new(bytes.Buffer)
	mw := multipart.NewWriter(buf)
	_ = mw.WriteField("title", "report")
	fw, err := mw.CreateFormFile("doc", "report.txt")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	_, _ = fw.Write([]byte("file-content"))
	_ = mw.Close()

	r := httptest.NewRequest(http.MethodPost, "/upload", buf)
	r.Header.Set("Content-Type", mw.FormDataContentType())

	req := AdaptRequest(r)

	if req.Form().Get("title") != "report" {
		t.Fatalf("expected title field, got %#v", req.Form())
	}
	files := req.Files()["doc"]
	if len(files) != 1 {
		t.Fatalf("expected one uploaded file, got %#v", req.Files())
	}
	if files[0].Name != "report.txt" || files[0].Size != int64(len("file-content")) {
		t.Fatalf("unexpected file %#v", files[0])
	}

	f, err := files[0].Open()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	content, _ := io.ReadAll(f)
	if string(content) != "file-content" {
		t.Fatalf("unexpected file content %q", content)
	}
}

func TestRequestAccessorsReturnCopies(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?a=1", nil)
	r.Header.Set("X-Foo", "bar")
	req := AdaptRequest(r)

	q := req.Query()
	q.Set("a", "mutated")
	env := req.Server()
	env["HTTP_X_FOO"] = "mutated"
	h := req.Headers()
	h.Set("X-Foo", "mutated")

	if req.Query().Get("a") != "1" || req.ServerValue("HTTP_X_FOO") != "bar" || req.Header("X-Foo") != "bar" {
		t.Fatalf("request was mutated through an accessor")
	}
}

func TestUploadedFileOpenWithoutHeader(t *testing.T) {
	if _, err := (UploadedFile{}).Open(); err == nil {
		t.Fatalf("expected error opening a detached file")
	}
}
