package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	markup2pdf "github.com/alnah/go-markup2pdf"
	"github.com/alnah/go-markup2pdf/internal/artifact"
)

// delivery selects how a successful conversion is returned.
type delivery int

const (
	deliverAttachment delivery = iota // artifact bytes, file removed afterwards
	deliverLink                       // JSON with a URL under /output/
)

// multipartMemory is the in-memory part of a multipart form; the rest spills to disk.
const multipartMemory = 1 << 20

// convertRequest is the body of the /api/convert endpoints. Multipart
// uploads fill Content from the uploaded file.
type convertRequest struct {
	Content  string `json:"content" form:"content" validate:"required"`
	Type     string `json:"type" form:"type" validate:"required,oneof=html svg"`
	Format   string `json:"format" form:"format" validate:"required,oneof=pdf png"`
	Selector string `json:"selector" form:"selector" validate:"max=1024"`
}

func (c convertRequest) toRequest() markup2pdf.Request {
	return markup2pdf.Request{
		Content:  c.Content,
		Type:     markup2pdf.ContentType(c.Type),
		Format:   markup2pdf.OutputFormat(c.Format),
		Selector: strings.TrimSpace(c.Selector),
	}
}

// linkResponse describes an artifact kept under /output/.
type linkResponse struct {
	Success  bool    `json:"success"`
	FileURL  string  `json:"fileUrl"`
	FileName string  `json:"fileName"`
	FileType string  `json:"fileType"`
	Engine   string  `json:"engine"`
	Size     int     `json:"size"`
	Width    float64 `json:"width,omitempty"`
	Height   float64 `json:"height,omitempty"`
	Pages    int     `json:"pages,omitempty"`
}

// pathResponse is returned by the raw text endpoints.
type pathResponse struct {
	Success  bool   `json:"success"`
	FilePath string `json:"filePath"`
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateRequest normalizes req and reports the first invalid field as a
// markup2pdf validation error.
func (s *Server) validateRequest(req *convertRequest) error {
	req.Type = strings.ToLower(strings.TrimSpace(req.Type))
	req.Format = strings.ToLower(strings.TrimSpace(req.Format))
	if strings.TrimSpace(req.Content) == "" {
		req.Content = ""
	}

	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", markup2pdf.ErrValidation, err)
	}
	fe := verrs[0]
	switch fe.Field() {
	case "content":
		return markup2pdf.ErrEmptyContent
	case "type":
		return fmt.Errorf("%w: %q (must be html or svg)", markup2pdf.ErrInvalidContentType, req.Type)
	case "format":
		return fmt.Errorf("%w: %q (must be pdf or png)", markup2pdf.ErrInvalidOutputFormat, req.Format)
	default:
		return fmt.Errorf("%w: %s %s", markup2pdf.ErrValidation, fe.Field(), validationMessage(fe))
	}
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	default:
		return "is invalid"
	}
}

func (s *Server) handleConvertJSON(mode delivery) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxBodyBytes)

		var req convertRequest
		dec := json.NewDecoder(r.Body)
		if err := dec.Decode(&req); err != nil {
			var maxBytes *http.MaxBytesError
			if errors.As(err, &maxBytes) {
				s.writeError(w, r, err, "")
				return
			}
			s.writeError(w, r, fmt.Errorf("%w: malformed JSON body: %v", markup2pdf.ErrValidation, err), "")
			return
		}
		s.convert(w, r, req, mode)
	}
}

func (s *Server) handleConvertUpload(mode delivery) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUploadBytes)
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var maxBytes *http.MaxBytesError
			if errors.As(err, &maxBytes) {
				s.writeError(w, r, err, "")
				return
			}
			s.writeError(w, r, fmt.Errorf("%w: malformed multipart body: %v", markup2pdf.ErrValidation, err), "")
			return
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()

		content, err := s.readUpload(r, "file")
		if err != nil {
			s.writeError(w, r, err, "")
			return
		}

		s.convert(w, r, convertRequest{
			Content:  content,
			Type:     r.FormValue("type"),
			Format:   r.FormValue("format"),
			Selector: r.FormValue("selector"),
		}, mode)
	}
}

// readUpload stores the named file part under the upload directory, reads it
// back and removes it.
func (s *Server) readUpload(r *http.Request, field string) (string, error) {
	file, _, err := r.FormFile(field)
	if err != nil {
		return "", fmt.Errorf("%w: no file uploaded", markup2pdf.ErrValidation)
	}
	defer func() { _ = file.Close() }()

	dst, err := os.CreateTemp(s.cfg.Server.UploadDir, "upload-*")
	if err != nil {
		return "", fmt.Errorf("%w: storing upload: %v", markup2pdf.ErrIOFailure, err)
	}
	defer func() { _ = os.Remove(dst.Name()) }()

	if _, err := io.Copy(dst, file); err != nil {
		_ = dst.Close()
		return "", fmt.Errorf("%w: storing upload: %v", markup2pdf.ErrIOFailure, err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("%w: storing upload: %v", markup2pdf.ErrIOFailure, err)
	}

	data, err := os.ReadFile(dst.Name())
	if err != nil {
		return "", fmt.Errorf("%w: reading upload: %v", markup2pdf.ErrIOFailure, err)
	}
	return string(data), nil
}

// handleConvertText serves the raw body endpoints. The format query
// parameter falls back to defaultFormat; anything other than pdf means png.
func (s *Server) handleConvertText(contentType markup2pdf.ContentType, defaultFormat markup2pdf.OutputFormat) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxBodyBytes)
		body, err := io.ReadAll(r.Body)
		if err != nil {
			s.writeError(w, r, err, "")
			return
		}

		s.convertToPath(w, r, convertRequest{
			Content:  string(body),
			Type:     string(contentType),
			Format:   string(looseFormat(r.URL.Query().Get("format"), defaultFormat)),
			Selector: r.URL.Query().Get("selector"),
		})
	}
}

// handleConvertFileText serves the multipart counterparts of the raw body
// endpoints: the markup comes from the field part, format and selector from
// form values.
func (s *Server) handleConvertFileText(field string, contentType markup2pdf.ContentType, defaultFormat markup2pdf.OutputFormat) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Server.MaxUploadBytes)
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var maxBytes *http.MaxBytesError
			if errors.As(err, &maxBytes) {
				s.writeError(w, r, err, "")
				return
			}
			s.writeError(w, r, fmt.Errorf("%w: malformed multipart body: %v", markup2pdf.ErrValidation, err), "")
			return
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()

		content, err := s.readUpload(r, field)
		if err != nil {
			s.writeError(w, r, err, "")
			return
		}
		s.convertToPath(w, r, convertRequest{
			Content:  content,
			Type:     string(contentType),
			Format:   string(looseFormat(r.FormValue("format"), defaultFormat)),
			Selector: r.FormValue("selector"),
		})
	}
}

// looseFormat maps a format parameter the way the raw endpoints always have:
// empty means def, pdf means PDF and anything else means PNG.
func looseFormat(v string, def markup2pdf.OutputFormat) markup2pdf.OutputFormat {
	switch {
	case v == "":
		return def
	case strings.EqualFold(v, string(markup2pdf.FormatPDF)):
		return markup2pdf.FormatPDF
	default:
		return markup2pdf.FormatPNG
	}
}

// convertToPath converts req and answers with the relative output path.
func (s *Server) convertToPath(w http.ResponseWriter, r *http.Request, req convertRequest) {
	name, _, err := s.run(r, req)
	if err != nil {
		s.writeError(w, r, err, req.Selector)
		return
	}
	writeJSON(w, http.StatusOK, pathResponse{Success: true, FilePath: "output/" + name})
}

func (s *Server) convert(w http.ResponseWriter, r *http.Request, req convertRequest, mode delivery) {
	name, res, err := s.run(r, req)
	if err != nil {
		s.writeError(w, r, err, req.Selector)
		return
	}

	switch mode {
	case deliverAttachment:
		s.sendAttachment(w, r, res)
	case deliverLink:
		s.sendLink(w, r, name, res)
	}
}

// run validates req and converts it into a uniquely named file in the
// output directory.
func (s *Server) run(r *http.Request, req convertRequest) (string, *markup2pdf.Result, error) {
	if err := s.validateRequest(&req); err != nil {
		return "", nil, err
	}
	lib := req.toRequest()

	name := outputName(lib.Type, lib.Format)
	start := time.Now()
	res, err := s.conv.Convert(r.Context(), lib, filepath.Join(s.cfg.Server.OutputDir, name))
	if err != nil {
		s.metrics.conversion(req.Type, req.Format, "", false, 0, time.Since(start), err)
		return "", nil, err
	}
	s.metrics.conversion(req.Type, req.Format, res.Engine, res.FellBack, res.Size, res.Duration, nil)
	s.logger.Info("conversion complete",
		zap.String("file", name),
		zap.String("type", req.Type),
		zap.String("format", req.Format),
		zap.String("engine", res.Engine),
		zap.Bool("fallback", res.FellBack),
		zap.Int("bytes", res.Size),
		zap.Duration("duration", res.Duration),
	)
	return name, res, nil
}

// outputName mirrors the historical prefixes: output- for HTML, svg- for SVG.
func outputName(t markup2pdf.ContentType, f markup2pdf.OutputFormat) string {
	prefix := "output"
	if t == markup2pdf.ContentSVG {
		prefix = "svg"
	}
	return prefix + "-" + uuid.NewString() + "." + f.Extension()
}

// sendAttachment streams the artifact and removes it afterwards.
func (s *Server) sendAttachment(w http.ResponseWriter, r *http.Request, res *markup2pdf.Result) {
	defer func() {
		if err := os.Remove(res.OutputPath); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("removing delivered artifact", zap.String("path", res.OutputPath), zap.Error(err))
		}
	}()

	data, err := os.ReadFile(res.OutputPath)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: reading artifact: %v", markup2pdf.ErrIOFailure, err), "")
		return
	}

	ext := strings.TrimPrefix(filepath.Ext(res.OutputPath), ".")
	h := w.Header()
	h.Set("Content-Type", res.MIMEType)
	h.Set("Content-Disposition", fmt.Sprintf(`attachment; filename="output.%s"`, ext))
	h.Set("Content-Length", fmt.Sprint(len(data)))
	h.Set("X-Render-Engine", res.Engine)
	if res.FellBack {
		h.Set("X-Render-Fallback", "true")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) sendLink(w http.ResponseWriter, r *http.Request, name string, res *markup2pdf.Result) {
	resp := linkResponse{
		Success:  true,
		FileURL:  s.baseURL(r) + "/output/" + name,
		FileName: name,
		FileType: res.MIMEType,
		Engine:   res.Engine,
		Size:     res.Size,
	}
	if info, err := artifact.Probe(res.OutputPath); err != nil {
		s.logger.Warn("probing artifact", zap.String("file", name), zap.Error(err))
	} else {
		resp.Width, resp.Height, resp.Pages = info.Width, info.Height, info.Pages
	}
	writeJSON(w, http.StatusOK, resp)
}

// baseURL returns the configured public URL, or one derived from the request.
func (s *Server) baseURL(r *http.Request) string {
	if s.cfg.Server.BaseURL != "" {
		return strings.TrimRight(s.cfg.Server.BaseURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p == "http" || p == "https" {
		scheme = p
	}
	return scheme + "://" + r.Host
}
