package web

import (
	"net/http"
)

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	sess, turns, err := s.currentSession(w, r)
	if err != nil {
		http.Error(w, "failed to load session", http.StatusInternalServerError)
		s.logger.Error("load session failed", "error", err)
		return
	}
	page := s.newIndexPage(sess, turns)
	message := r.FormValue("message")
	page.Message = message

	if _, err := s.service.Ask(r.Context(), sess.ID, message); err != nil {
		s.renderFailure(w, r, page, err)
		return
	}

	if !isHTMX(r) {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	_, turns, err = s.service.GetSession(r.Context(), sess.ID)
	if err != nil {
		http.Error(w, "failed to load transcript", http.StatusInternalServerError)
		s.logger.Error("load transcript failed", "session_id", sess.ID, "error", err)
		return
	}
	page.Turns = turns
	page.Message = ""
	if err := s.renderPartial(w, "partials/transcript.html", page); err != nil {
		s.logger.Error("render partial failed", "error", err)
	}
}
