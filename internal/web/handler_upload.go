package web

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"

	"github.com/vbonduro/siteoptic/internal/domain"
	"github.com/vbonduro/siteoptic/internal/service"
)

const maxPhotoSize = 20 * 1024 * 1024 // 20 MB

// errBadUpload marks upload problems the user can fix.
var errBadUpload = errors.New("invalid upload")

// allowedImageTypes is the set of MIME types accepted for uploaded photos,
// detected with net/http.DetectContentType magic-byte sniffing.
var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
}

// allowedImageMIME returns the detected MIME type and true if the data is an
// accepted image format, or ("", false) otherwise.
func allowedImageMIME(data []byte) (string, bool) {
	mime := http.DetectContentType(data)
	if allowedImageTypes[mime] {
		return mime, true
	}
	return "", false
}

// formOptions reads the analysis flags from a submitted form.
func (s *Server) formOptions(r *http.Request) domain.AnalysisOptions {
	def := s.service.DefaultOptions()
	return domain.AnalysisOptions{
		Language:      domain.ParseLanguage(r.FormValue("language"), def.Language),
		Focus:         domain.ParseFocus(r.FormValue("focus")),
		CustomRequest: r.FormValue("request"),
	}
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	sess, turns, err := s.currentSession(w, r)
	if err != nil {
		http.Error(w, "failed to load session", http.StatusInternalServerError)
		s.logger.Error("load session failed", "error", err)
		return
	}
	page := s.newIndexPage(sess, turns)

	// Leave room for the other form fields and multipart framing.
	r.Body = http.MaxBytesReader(w, r.Body, maxPhotoSize+1<<20)
	if err := r.ParseMultipartForm(maxPhotoSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.renderFailure(w, r, page, fmt.Errorf("%w: image is larger than 20 MB", errBadUpload))
			return
		}
		s.renderFailure(w, r, page, fmt.Errorf("%w: failed to parse form", errBadUpload))
		return
	}
	opts := s.formOptions(r)
	page.Options = opts

	file, header, err := r.FormFile("image")
	if err != nil {
		s.renderFailure(w, r, page, fmt.Errorf("%w: choose a JPG or PNG photo to analyze", errBadUpload))
		return
	}
	defer closeWithLog(file, "upload file", s.logger)

	imageData, err := io.ReadAll(io.LimitReader(file, maxPhotoSize+1))
	if err != nil {
		http.Error(w, "failed to read file", http.StatusInternalServerError)
		s.logger.Error("read upload failed", "session_id", sess.ID, "error", err)
		return
	}
	if len(imageData) > maxPhotoSize {
		s.renderFailure(w, r, page, fmt.Errorf("%w: image is larger than 20 MB", errBadUpload))
		return
	}
	if len(imageData) == 0 {
		s.renderFailure(w, r, page, service.ErrEmptyImage)
		return
	}

	mimeType, ok := allowedImageMIME(imageData)
	if !ok {
		s.renderFailure(w, r, page, fmt.Errorf("%w: unsupported image format, use JPG or PNG", errBadUpload))
		return
	}

	if _, err := s.service.Analyze(r.Context(), sess.ID, imageData, mimeType, filepath.Base(header.Filename), opts); err != nil {
		s.renderFailure(w, r, page, err)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handlePhoto(w http.ResponseWriter, r *http.Request) {
	sess, _, err := s.lookupSession(r)
	if err != nil {
		http.Error(w, "failed to load session", http.StatusInternalServerError)
		s.logger.Error("load session failed", "error", err)
		return
	}
	if sess == nil {
		http.NotFound(w, r)
		return
	}

	reader, mimeType, err := s.service.Photo(r.Context(), sess.ID)
	if err != nil {
		if !errors.Is(err, service.ErrNoAnalysis) {
			s.logger.Error("open photo failed", "session_id", sess.ID, "error", err)
		}
		http.NotFound(w, r)
		return
	}
	defer closeWithLog(reader, "photo reader", s.logger)

	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Cache-Control", "private, no-cache")
	if _, err := io.Copy(w, reader); err != nil {
		s.logger.Error("write photo failed", "session_id", sess.ID, "error", err)
	}
}

// closeWithLog closes c and logs any error, using label to identify the resource.
func closeWithLog(c io.Closer, label string, logger *slog.Logger) {
	if err := c.Close(); err != nil {
		logger.Error("failed to close resource", "label", label, "error", err)
	}
}
