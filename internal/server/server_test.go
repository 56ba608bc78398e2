package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	markup2pdf "github.com/alnah/go-markup2pdf"
	"github.com/alnah/go-markup2pdf/internal/config"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// fakeConverter writes a small artifact to the requested path.
type fakeConverter struct {
	mu       sync.Mutex
	err      error
	fellBack bool
	requests []markup2pdf.Request
	paths    []string
}

func (f *fakeConverter) Convert(_ context.Context, req markup2pdf.Request, outputPath string) (*markup2pdf.Result, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.paths = append(f.paths, outputPath)
	err := f.err
	f.mu.Unlock()

	if err != nil {
		return nil, err
	}

	data := []byte("%PDF-1.4 fake")
	if req.Format == markup2pdf.FormatPNG {
		data = testPNG(4, 3)
	}
	if err := os.WriteFile(outputPath, data, 0o600); err != nil {
		return nil, err
	}
	return &markup2pdf.Result{
		OutputPath: outputPath,
		MIMEType:   req.Format.MIMEType(),
		Engine:     markup2pdf.EngineChrome,
		FellBack:   f.fellBack,
		Size:       len(data),
		Duration:   time.Millisecond,
	}, nil
}

func (f *fakeConverter) InFlight() int       { return 0 }
func (f *fakeConverter) MaxConcurrency() int { return 4 }

func (f *fakeConverter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeConverter) lastRequest() markup2pdf.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func testPNG(w, h int) []byte {
	var buf bytes.Buffer
	_ = png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h)))
	return buf.Bytes()
}

func newTestServer(t *testing.T, conv Converter, mutate func(*config.Config)) (*Server, *config.Config) {
	t.Helper()
	cfg := config.DefaultConfig()
	dir := t.TempDir()
	cfg.Server.OutputDir = filepath.Join(dir, "output")
	cfg.Server.UploadDir = filepath.Join(dir, "uploads")
	cfg.RateLimit.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}
	s, err := New(cfg, conv, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s, cfg
}

func postJSON(t *testing.T, h http.Handler, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	return postJSONFrom(t, h, "", path, body, header)
}

// postJSONFrom sends the request from remoteAddr; empty keeps httptest's 192.0.2.1.
func postJSONFrom(t *testing.T, h http.Handler, remoteAddr, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
	return v
}

func dirEntries(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	return len(entries)
}

var htmlBody = map[string]string{"content": "<p>hi</p>", "type": "html", "format": "pdf"}

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("nil config", func(t *testing.T) {
		if _, err := New(nil, &fakeConverter{}, nil); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("nil converter", func(t *testing.T) {
		if _, err := New(config.DefaultConfig(), nil, nil); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("creates directories", func(t *testing.T) {
		_, cfg := newTestServer(t, &fakeConverter{}, nil)
		for _, dir := range []string{cfg.Server.OutputDir, cfg.Server.UploadDir} {
			if info, err := os.Stat(dir); err != nil || !info.IsDir() {
				t.Errorf("%s not created: %v", dir, err)
			}
		}
	})

	t.Run("invalid allowlist", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Server.OutputDir = t.TempDir()
		cfg.Server.UploadDir = t.TempDir()
		cfg.Auth.IPAllowlistRequired = true
		cfg.Auth.IPAllowlist = []string{"not-an-ip"}
		if _, err := New(cfg, &fakeConverter{}, nil); err == nil {
			t.Error("expected allowlist error")
		}
	})

	t.Run("invalid trusted proxy", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Server.OutputDir = t.TempDir()
		cfg.Server.UploadDir = t.TempDir()
		cfg.Server.TrustedProxies = []string{"proxy.internal"}
		if _, err := New(cfg, &fakeConverter{}, nil); err == nil {
			t.Error("expected trusted proxy error")
		}
	})
}

func TestHealth(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, &fakeConverter{}, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decodeBody[healthResponse](t, rec)
	if got.Status != "ok" || got.MaxConcurrency != 4 {
		t.Errorf("health = %+v", got)
	}
}

// ---------------------------------------------------------------------------
// Conversion endpoints
// ---------------------------------------------------------------------------

func TestConvertJSON_Attachment(t *testing.T) {
	t.Parallel()

	conv := &fakeConverter{fellBack: true}
	s, cfg := newTestServer(t, conv, nil)

	rec := postJSON(t, s.Handler(), "/api/convert", htmlBody, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Errorf("Content-Type = %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != `attachment; filename="output.pdf"` {
		t.Errorf("Content-Disposition = %q", cd)
	}
	if rec.Header().Get("X-Render-Fallback") != "true" {
		t.Error("fallback header missing")
	}
	if !strings.HasPrefix(rec.Body.String(), "%PDF-") {
		t.Errorf("body = %q", rec.Body.String())
	}
	if n := dirEntries(t, cfg.Server.OutputDir); n != 0 {
		t.Errorf("output dir has %d files, want the artifact removed", n)
	}
}

func TestConvertJSON_Link(t *testing.T) {
	t.Parallel()

	conv := &fakeConverter{}
	s, cfg := newTestServer(t, conv, func(c *config.Config) { c.Server.BaseURL = "https://cdn.example.com/" })

	body := map[string]string{"content": `<svg width="4" height="3"></svg>`, "type": "SVG", "format": "png"}
	rec := postJSON(t, s.Handler(), "/api/convert/url", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	got := decodeBody[linkResponse](t, rec)
	if !got.Success || got.FileType != "image/png" {
		t.Errorf("response = %+v", got)
	}
	if !strings.HasPrefix(got.FileName, "svg-") || !strings.HasSuffix(got.FileName, ".png") {
		t.Errorf("FileName = %q", got.FileName)
	}
	if got.FileURL != "https://cdn.example.com/output/"+got.FileName {
		t.Errorf("FileURL = %q", got.FileURL)
	}
	if got.Width != 4 || got.Height != 3 || got.Pages != 1 {
		t.Errorf("probe = %vx%v pages %d, want 4x3 pages 1", got.Width, got.Height, got.Pages)
	}
	if conv.lastRequest().Type != markup2pdf.ContentSVG {
		t.Errorf("type not normalized: %q", conv.lastRequest().Type)
	}

	if _, err := os.Stat(filepath.Join(cfg.Server.OutputDir, got.FileName)); err != nil {
		t.Fatalf("artifact should be kept: %v", err)
	}

	served := httptest.NewRecorder()
	s.Handler().ServeHTTP(served, httptest.NewRequest(http.MethodGet, "/output/"+got.FileName, nil))
	if served.Code != http.StatusOK || !bytes.Equal(served.Body.Bytes(), testPNG(4, 3)) {
		t.Errorf("GET /output/ status = %d", served.Code)
	}
}

func TestConvertJSON_LinkDerivesBaseURL(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, &fakeConverter{}, nil)
	rec := postJSON(t, s.Handler(), "/api/convert/url", htmlBody, http.Header{"X-Forwarded-Proto": {"https"}})

	got := decodeBody[linkResponse](t, rec)
	if !strings.HasPrefix(got.FileURL, "https://example.com/output/output-") {
		t.Errorf("FileURL = %q", got.FileURL)
	}
}

func TestOutputDirectoryListingHidden(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, &fakeConverter{}, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/output/", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestConvertJSON_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{name: "empty content", body: `{"content":"  ","type":"html","format":"pdf"}`, wantMsg: "content cannot be empty"},
		{name: "missing content", body: `{"type":"html","format":"pdf"}`, wantMsg: "content cannot be empty"},
		{name: "bad type", body: `{"content":"x","type":"xml","format":"pdf"}`, wantMsg: "invalid content type"},
		{name: "bad format", body: `{"content":"x","type":"html","format":"jpg"}`, wantMsg: "invalid output format"},
		{name: "selector too long", body: `{"content":"x","type":"html","format":"pdf","selector":"` + strings.Repeat("a", 1025) + `"}`, wantMsg: "selector"},
		{name: "malformed json", body: `{"content":`, wantMsg: "malformed JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			conv := &fakeConverter{}
			s, _ := newTestServer(t, conv, nil)
			req := httptest.NewRequest(http.MethodPost, "/api/convert", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
			got := decodeBody[errorResponse](t, rec)
			if got.Success || !strings.Contains(got.Error, tt.wantMsg) {
				t.Errorf("error = %q, want it to mention %q", got.Error, tt.wantMsg)
			}
			if conv.calls() != 0 {
				t.Error("converter must not run for invalid requests")
			}
		})
	}
}

func TestConvert_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		mode       string
		wantStatus int
		wantStack  string
	}{
		{name: "invalid content", err: fmt.Errorf("%w: no <svg> element", markup2pdf.ErrInvalidContent), mode: config.ModeDevelopment, wantStatus: http.StatusUnprocessableEntity},
		{name: "element not found", err: fmt.Errorf("%w: %q", markup2pdf.ErrElementNotFound, ".x"), mode: config.ModeDevelopment, wantStatus: http.StatusUnprocessableEntity, wantStack: "hint:"},
		{name: "browser unavailable", err: fmt.Errorf("%w: no chrome", markup2pdf.ErrBrowserConnect), mode: config.ModeDevelopment, wantStatus: http.StatusServiceUnavailable, wantStack: "no chrome"},
		{name: "render failure", err: fmt.Errorf("%w: boom", markup2pdf.ErrPDFGeneration), mode: config.ModeDevelopment, wantStatus: http.StatusInternalServerError, wantStack: "boom"},
		{name: "io failure", err: fmt.Errorf("%w: disk full", markup2pdf.ErrIOFailure), mode: config.ModeDevelopment, wantStatus: http.StatusInternalServerError, wantStack: "hint:"},
		{name: "production hides stack", err: fmt.Errorf("%w: boom", markup2pdf.ErrPDFGeneration), mode: config.ModeProduction, wantStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s, _ := newTestServer(t, &fakeConverter{err: tt.err}, func(c *config.Config) {
				c.Server.Mode = tt.mode
				c.Auth.APIKeys = []string{"k"}
			})
			rec := postJSON(t, s.Handler(), "/api/convert/url", map[string]string{
				"content": "<p>x</p>", "type": "html", "format": "png", "selector": ".x",
			}, http.Header{"X-Api-Key": {"k"}})

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			got := decodeBody[errorResponse](t, rec)
			if got.Error != tt.err.Error() {
				t.Errorf("error = %q, want %q", got.Error, tt.err.Error())
			}
			if tt.mode == config.ModeProduction && got.Stack != "" {
				t.Errorf("stack leaked in production: %q", got.Stack)
			}
			if tt.wantStack != "" && !strings.Contains(got.Stack, tt.wantStack) {
				t.Errorf("stack = %q, want it to contain %q", got.Stack, tt.wantStack)
			}
		})
	}
}

func multipartRequest(t *testing.T, path string, fields map[string]string, file string) *http.Request {
	t.Helper()
	return multipartFieldRequest(t, path, "file", fields, file)
}

func multipartFieldRequest(t *testing.T, path, field string, fields map[string]string, file string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatal(err)
		}
	}
	if file != "" {
		fw, err := mw.CreateFormFile(field, "page.html")
		if err != nil {
			t.Fatal(err)
		}
		_, _ = io.WriteString(fw, file)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestConvertUpload(t *testing.T) {
	t.Parallel()

	conv := &fakeConverter{}
	s, cfg := newTestServer(t, conv, nil)

	req := multipartRequest(t, "/api/convert/file",
		map[string]string{"type": "html", "format": "png", "selector": " .content "},
		`<div class="content">hello</div>`)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if rec.Header().Get("Content-Type") != "image/png" {
		t.Errorf("Content-Type = %q", rec.Header().Get("Content-Type"))
	}
	got := conv.lastRequest()
	if got.Content != `<div class="content">hello</div>` || got.Selector != ".content" {
		t.Errorf("converter request = %+v", got)
	}
	if n := dirEntries(t, cfg.Server.UploadDir); n != 0 {
		t.Errorf("upload dir has %d files, want 0", n)
	}
	if n := dirEntries(t, cfg.Server.OutputDir); n != 0 {
		t.Errorf("output dir has %d files, want 0", n)
	}
}

func TestConvertUpload_Link(t *testing.T) {
	t.Parallel()

	s, cfg := newTestServer(t, &fakeConverter{}, nil)
	req := multipartRequest(t, "/api/convert/file/url", map[string]string{"type": "html", "format": "pdf"}, "<p>x</p>")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	got := decodeBody[linkResponse](t, rec)
	if got.FileType != "application/pdf" {
		t.Errorf("FileType = %q", got.FileType)
	}
	if n := dirEntries(t, cfg.Server.OutputDir); n != 1 {
		t.Errorf("output dir has %d files, want the linked artifact", n)
	}
}

func TestConvertUpload_MissingFile(t *testing.T) {
	t.Parallel()

	conv := &fakeConverter{}
	s, _ := newTestServer(t, conv, nil)
	req := multipartRequest(t, "/api/convert/file", map[string]string{"type": "html", "format": "pdf"}, "")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if conv.calls() != 0 {
		t.Error("converter must not run without a file")
	}
}

func TestConvertText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		path       string
		body       string
		wantType   markup2pdf.ContentType
		wantFormat markup2pdf.OutputFormat
		wantPrefix string
	}{
		{name: "html defaults to pdf", path: "/convert-html", body: "<p>x</p>", wantType: markup2pdf.ContentHTML, wantFormat: markup2pdf.FormatPDF, wantPrefix: "output/output-"},
		{name: "html png", path: "/convert-html?format=png&selector=%23main", body: "<p>x</p>", wantType: markup2pdf.ContentHTML, wantFormat: markup2pdf.FormatPNG, wantPrefix: "output/output-"},
		{name: "svg defaults to png", path: "/convert-svg", body: "<svg></svg>", wantType: markup2pdf.ContentSVG, wantFormat: markup2pdf.FormatPNG, wantPrefix: "output/svg-"},
		{name: "unknown format means png", path: "/convert-svg?format=gif", body: "<svg></svg>", wantType: markup2pdf.ContentSVG, wantFormat: markup2pdf.FormatPNG, wantPrefix: "output/svg-"},
		{name: "svg pdf", path: "/convert-svg?format=PDF", body: "<svg></svg>", wantType: markup2pdf.ContentSVG, wantFormat: markup2pdf.FormatPDF, wantPrefix: "output/svg-"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			conv := &fakeConverter{}
			s, _ := newTestServer(t, conv, nil)
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, tt.path, strings.NewReader(tt.body)))

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
			}
			got := decodeBody[pathResponse](t, rec)
			if !got.Success || !strings.HasPrefix(got.FilePath, tt.wantPrefix) || !strings.HasSuffix(got.FilePath, "."+string(tt.wantFormat)) {
				t.Errorf("response = %+v", got)
			}
			req := conv.lastRequest()
			if req.Type != tt.wantType || req.Format != tt.wantFormat {
				t.Errorf("request = %+v", req)
			}
		})
	}
}

func TestConvertFileText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		path         string
		field        string
		fields       map[string]string
		wantType     markup2pdf.ContentType
		wantFormat   markup2pdf.OutputFormat
		wantSelector string
		wantPrefix   string
	}{
		{
			name:       "html file defaults to pdf",
			path:       "/convert-file",
			field:      "htmlFile",
			wantType:   markup2pdf.ContentHTML,
			wantFormat: markup2pdf.FormatPDF,
			wantPrefix: "output/output-",
		},
		{
			name:         "html file png with selector",
			path:         "/convert-file",
			field:        "htmlFile",
			fields:       map[string]string{"format": "png", "selector": "#main"},
			wantType:     markup2pdf.ContentHTML,
			wantFormat:   markup2pdf.FormatPNG,
			wantSelector: "#main",
			wantPrefix:   "output/output-",
		},
		{
			name:       "svg file defaults to png",
			path:       "/convert-svg-file",
			field:      "svgFile",
			wantType:   markup2pdf.ContentSVG,
			wantFormat: markup2pdf.FormatPNG,
			wantPrefix: "output/svg-",
		},
		{
			name:       "svg file pdf",
			path:       "/convert-svg-file",
			field:      "svgFile",
			fields:     map[string]string{"format": "pdf"},
			wantType:   markup2pdf.ContentSVG,
			wantFormat: markup2pdf.FormatPDF,
			wantPrefix: "output/svg-",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			conv := &fakeConverter{}
			s, cfg := newTestServer(t, conv, nil)
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, multipartFieldRequest(t, tt.path, tt.field, tt.fields, "<svg></svg><p>x</p>"))

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
			}
			got := decodeBody[pathResponse](t, rec)
			if !got.Success || !strings.HasPrefix(got.FilePath, tt.wantPrefix) || !strings.HasSuffix(got.FilePath, "."+string(tt.wantFormat)) {
				t.Errorf("response = %+v", got)
			}
			req := conv.lastRequest()
			if req.Type != tt.wantType || req.Format != tt.wantFormat || req.Selector != tt.wantSelector {
				t.Errorf("request = %+v", req)
			}
			if n := dirEntries(t, cfg.Server.UploadDir); n != 0 {
				t.Errorf("upload dir has %d files, want 0", n)
			}
		})
	}
}

func TestConvertFileText_WrongField(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, &fakeConverter{}, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, multipartRequest(t, "/convert-file", nil, "<p>x</p>"))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if got := decodeBody[errorResponse](t, rec); got.Success || !strings.Contains(got.Error, "no file uploaded") {
		t.Errorf("response = %+v", got)
	}
}

func TestConvertText_EmptyBody(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, &fakeConverter{}, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/convert-html", strings.NewReader("   ")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestBodyLimit(t *testing.T) {
	t.Parallel()

	conv := &fakeConverter{}
	s, _ := newTestServer(t, conv, func(c *config.Config) { c.Server.MaxBodyBytes = 64 })

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/convert-html", strings.NewReader(strings.Repeat("x", 65))))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
	if conv.calls() != 0 {
		t.Error("converter must not run for oversized bodies")
	}
}

// ---------------------------------------------------------------------------
// Gates
// ---------------------------------------------------------------------------

func TestAPIKeyGate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		mode       string
		required   bool
		header     http.Header
		query      string
		wantStatus int
	}{
		{name: "development skips gate", mode: config.ModeDevelopment, wantStatus: http.StatusOK},
		{name: "development required gate", mode: config.ModeDevelopment, required: true, wantStatus: http.StatusUnauthorized},
		{name: "production missing key", mode: config.ModeProduction, wantStatus: http.StatusUnauthorized},
		{name: "production wrong key", mode: config.ModeProduction, header: http.Header{"X-Api-Key": {"nope"}}, wantStatus: http.StatusUnauthorized},
		{name: "header key", mode: config.ModeProduction, header: http.Header{"X-Api-Key": {"secret-2"}}, wantStatus: http.StatusOK},
		{name: "bearer key", mode: config.ModeProduction, header: http.Header{"Authorization": {"Bearer secret-1"}}, wantStatus: http.StatusOK},
		{name: "query key", mode: config.ModeProduction, query: "?api_key=secret-1", wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s, _ := newTestServer(t, &fakeConverter{}, func(c *config.Config) {
				c.Server.Mode = tt.mode
				c.Auth.APIKeyRequired = tt.required
				c.Auth.APIKeys = []string{"secret-1", "secret-2"}
			})
			rec := postJSON(t, s.Handler(), "/api/convert"+tt.query, htmlBody, tt.header)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d (%s)", rec.Code, tt.wantStatus, rec.Body)
			}
		})
	}
}

func TestAPIKeyGate_DoesNotCoverTextEndpoints(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, &fakeConverter{}, func(c *config.Config) {
		c.Server.Mode = config.ModeProduction
		c.Auth.APIKeys = []string{"k"}
	})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/convert-html", strings.NewReader("<p>x</p>")))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func signToken(t *testing.T, secret string, method jwt.SigningMethod) string {
	t.Helper()
	tok := jwt.NewWithClaims(method, jwt.RegisteredClaims{
		Subject:   "tester",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	s, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestJWTGate(t *testing.T) {
	t.Parallel()

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	})
	expiredToken, err := expired.SignedString([]byte("jwt-secret"))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		auth       string
		wantStatus int
	}{
		{name: "missing token", auth: "", wantStatus: http.StatusUnauthorized},
		{name: "valid token", auth: "Bearer " + signToken(t, "jwt-secret", jwt.SigningMethodHS256), wantStatus: http.StatusOK},
		{name: "wrong secret", auth: "Bearer " + signToken(t, "other", jwt.SigningMethodHS256), wantStatus: http.StatusUnauthorized},
		{name: "other HMAC algorithm", auth: "Bearer " + signToken(t, "jwt-secret", jwt.SigningMethodHS512), wantStatus: http.StatusUnauthorized},
		{name: "expired token", auth: "Bearer " + expiredToken, wantStatus: http.StatusUnauthorized},
		{name: "garbage", auth: "Bearer not.a.token", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s, _ := newTestServer(t, &fakeConverter{}, func(c *config.Config) {
				c.Auth.JWTRequired = true
				c.Auth.JWTSecret = "jwt-secret"
			})
			header := http.Header{}
			if tt.auth != "" {
				header.Set("Authorization", tt.auth)
			}
			rec := postJSON(t, s.Handler(), "/api/convert", htmlBody, header)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestIPAllowlistGate(t *testing.T) {
	t.Parallel()

	const proxy = "172.16.0.5:443"

	tests := []struct {
		name       string
		remoteAddr string
		header     http.Header
		wantStatus int
	}{
		{name: "inside CIDR", remoteAddr: "10.1.2.3:5000", wantStatus: http.StatusOK},
		{name: "exact address", remoteAddr: "203.0.113.7:5000", wantStatus: http.StatusOK},
		{name: "outside list", remoteAddr: "192.168.1.1:5000", wantStatus: http.StatusForbidden},
		{
			name:       "forwarding header from an untrusted peer is ignored",
			remoteAddr: "192.168.1.1:5000",
			header:     http.Header{"X-Real-Ip": {"10.1.2.3"}, "X-Forwarded-For": {"10.1.2.3"}},
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "X-Real-Ip from a trusted proxy",
			remoteAddr: proxy,
			header:     http.Header{"X-Real-Ip": {"10.1.2.3"}},
			wantStatus: http.StatusOK,
		},
		{
			name:       "X-Forwarded-For skips trusted hops",
			remoteAddr: proxy,
			header:     http.Header{"X-Forwarded-For": {"10.1.2.3, 172.16.0.9"}},
			wantStatus: http.StatusOK,
		},
		{
			name:       "client-supplied X-Forwarded-For entry is not trusted",
			remoteAddr: proxy,
			header:     http.Header{"X-Forwarded-For": {"10.1.2.3, 192.168.1.1"}},
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "trusted proxy without forwarding headers",
			remoteAddr: proxy,
			wantStatus: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			s, _ := newTestServer(t, &fakeConverter{}, func(c *config.Config) {
				c.Auth.IPAllowlistRequired = true
				c.Auth.IPAllowlist = []string{"10.0.0.0/8", "203.0.113.7"}
				c.Server.TrustedProxies = []string{"172.16.0.0/12"}
			})
			rec := postJSONFrom(t, s.Handler(), tt.remoteAddr, "/api/convert", htmlBody, tt.header)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, &fakeConverter{}, func(c *config.Config) {
		c.RateLimit.Enabled = true
		c.RateLimit.RequestsPerMinute = 1
		c.RateLimit.Burst = 2
	})

	send := func(ip string) *httptest.ResponseRecorder {
		return postJSONFrom(t, s.Handler(), ip+":5000", "/api/convert", htmlBody, nil)
	}

	for i := 0; i < 2; i++ {
		if rec := send("198.51.100.1"); rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, rec.Code)
		}
	}
	rec := send("198.51.100.1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("Retry-After header missing")
	}
	if got := decodeBody[errorResponse](t, rec); got.Success {
		t.Error("success should be false")
	}

	// A forged forwarding header does not open a fresh bucket.
	forged := postJSONFrom(t, s.Handler(), "198.51.100.1:5000", "/api/convert", htmlBody,
		http.Header{"X-Real-Ip": {"203.0.113.50"}, "X-Forwarded-For": {"203.0.113.51"}})
	if forged.Code != http.StatusTooManyRequests {
		t.Errorf("forged header status = %d, want 429", forged.Code)
	}

	if rec := send("198.51.100.2"); rec.Code != http.StatusOK {
		t.Errorf("other client status = %d, want 200", rec.Code)
	}

	// Health checks are never limited.
	health := httptest.NewRecorder()
	hreq := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	hreq.RemoteAddr = "198.51.100.1:5000"
	s.Handler().ServeHTTP(health, hreq)
	if health.Code != http.StatusOK {
		t.Errorf("healthz status = %d", health.Code)
	}
}

func TestClientLimiter_Sweep(t *testing.T) {
	t.Parallel()

	l := newClientLimiter(60, 1)
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	l.reserve("a")
	now = now.Add(10 * time.Minute)
	l.reserve("b")
	l.sweep(5 * time.Minute)

	if l.size() != 1 {
		t.Errorf("size = %d, want 1", l.size())
	}
	if ok, _ := l.reserve("b"); ok {
		t.Error("b should still be limited after the sweep")
	}
	now = now.Add(time.Second)
	if ok, _ := l.reserve("b"); !ok {
		t.Error("b should have a token after one second at 60/min")
	}
}

// ---------------------------------------------------------------------------
// Metrics and lifecycle
// ---------------------------------------------------------------------------

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, &fakeConverter{fellBack: true}, nil)
	if rec := postJSON(t, s.Handler(), "/api/convert", htmlBody, nil); rec.Code != http.StatusOK {
		t.Fatalf("convert status = %d", rec.Code)
	}

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`markup2pdf_conversions_total{engine="chrome",format="pdf",outcome="success",type="html"} 1`,
		`markup2pdf_fallbacks_total{format="pdf"} 1`,
		`markup2pdf_render_capacity 4`,
		`markup2pdf_http_requests_total{code="200",method="POST",route="/api/convert"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestNotFound(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, &fakeConverter{}, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
	if got := decodeBody[errorResponse](t, rec); got.Error != "not found" {
		t.Errorf("error = %q", got.Error)
	}
}

// panicConverter panics inside Convert to exercise the recoverer.
type panicConverter struct{ fakeConverter }

func (p *panicConverter) Convert(context.Context, markup2pdf.Request, string) (*markup2pdf.Result, error) {
	panic("unexpected")
}

func TestRecoverer(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, &panicConverter{}, nil)
	rec := postJSON(t, s.Handler(), "/api/convert", htmlBody, nil)
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t, &fakeConverter{}, func(c *config.Config) { c.Server.ShutdownTimeout = time.Second })
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	_ = resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not return after cancel")
	}
}

func TestStatusFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{markup2pdf.ErrEmptyContent, http.StatusBadRequest},
		{markup2pdf.ErrEmptyOutputPath, http.StatusBadRequest},
		{markup2pdf.ErrElementNotFound, http.StatusUnprocessableEntity},
		{markup2pdf.ErrLegacyUnavailable, http.StatusServiceUnavailable},
		{markup2pdf.ErrScreenshot, http.StatusInternalServerError},
		{&http.MaxBytesError{Limit: 1}, http.StatusRequestEntityTooLarge},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
