package web

import (
	"bytes"
	"errors"
	"net/http"

	"github.com/vbonduro/siteoptic/internal/domain"
	"github.com/vbonduro/siteoptic/internal/prompt"
	"github.com/vbonduro/siteoptic/internal/service"
	"github.com/vbonduro/siteoptic/internal/vision"
)

// indexPage is the data for pages/index.html and partials/transcript.html.
type indexPage struct {
	Session    *domain.Session
	Turns      []*domain.Turn
	Options    domain.AnalysisOptions
	Languages  []domain.Language
	Foci       []domain.Focus
	MaxRequest int
	Message    string
	Error      string
}

func (s *Server) newIndexPage(sess *domain.Session, turns []*domain.Turn) *indexPage {
	opts := s.service.DefaultOptions()
	if sess != nil && sess.Analyzed() {
		opts = sess.Options
	}
	return &indexPage{
		Session:    sess,
		Turns:      turns,
		Options:    opts,
		Languages:  domain.Languages,
		Foci:       domain.Foci,
		MaxRequest: prompt.MaxCustomRequest,
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	sess, turns, err := s.lookupSession(r)
	if err != nil {
		http.Error(w, "failed to load session", http.StatusInternalServerError)
		s.logger.Error("load session failed", "error", err)
		return
	}
	s.renderIndex(w, http.StatusOK, s.newIndexPage(sess, turns))
}

func (s *Server) renderIndex(w http.ResponseWriter, status int, page *indexPage) {
	if err := s.renderPage(w, status, page,
		"base.html", "pages/index.html", "partials/transcript.html",
	); err != nil {
		s.logger.Error("render page failed", "error", err)
	}
}

// renderFailure re-renders the page with err shown verbatim.
func (s *Server) renderFailure(w http.ResponseWriter, r *http.Request, page *indexPage, err error) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "status", status, "error", err)
	}
	page.Error = err.Error()
	if isHTMX(r) {
		// htmx only swaps 2xx responses.
		if err := s.renderPartial(w, "partials/transcript.html", page); err != nil {
			s.logger.Error("render partial failed", "error", err)
		}
		return
	}
	s.renderIndex(w, status, page)
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, service.ErrGeneration):
		return http.StatusBadGateway
	case errors.Is(err, service.ErrNoAnalysis):
		return http.StatusConflict
	case errors.Is(err, service.ErrEmptyMessage),
		errors.Is(err, service.ErrEmptyImage),
		errors.Is(err, errBadUpload):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	sess, _, err := s.lookupSession(r)
	if err != nil {
		http.Error(w, "failed to load session", http.StatusInternalServerError)
		s.logger.Error("load session failed", "error", err)
		return
	}
	if sess == nil {
		http.Error(w, "analyze a photo before downloading the report", http.StatusConflict)
		return
	}

	var buf bytes.Buffer
	if err := s.service.ExportReport(r.Context(), sess.ID, &buf); err != nil {
		if errors.Is(err, service.ErrNoAnalysis) {
			http.Error(w, "analyze a photo before downloading the report", http.StatusConflict)
			return
		}
		http.Error(w, "failed to build report", http.StatusInternalServerError)
		s.logger.Error("export report failed", "session_id", sess.ID, "error", err)
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", `attachment; filename="siteoptic-report.pdf"`)
	if _, err := buf.WriteTo(w); err != nil {
		s.logger.Error("write report failed", "session_id", sess.ID, "error", err)
	}
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if id := sessionID(r); id != "" {
		if err := s.service.Reset(r.Context(), id); err != nil {
			http.Error(w, "failed to reset session", http.StatusInternalServerError)
			s.logger.Error("reset session failed", "session_id", id, "error", err)
			return
		}
	}
	clearSessionCookie(w, r)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

type modelsPage struct {
	Models []vision.ModelInfo
	Error  string
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	page := &modelsPage{}
	status := http.StatusOK

	models, err := s.service.ListModels(r.Context())
	switch {
	case errors.Is(err, service.ErrModelsUnsupported):
		status = http.StatusNotImplemented
		page.Error = err.Error()
	case err != nil:
		status = http.StatusBadGateway
		page.Error = err.Error()
		s.logger.Error("list models failed", "error", err)
	default:
		page.Models = models
	}

	if err := s.renderPage(w, status, page, "base.html", "pages/models.html"); err != nil {
		s.logger.Error("render page failed", "error", err)
	}
}
