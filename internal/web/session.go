package web

import (
	"errors"
	"net/http"

	"github.com/vbonduro/siteoptic/internal/domain"
	"github.com/vbonduro/siteoptic/internal/service"
)

const sessionCookie = "siteoptic_session"

// lookupSession returns the browser's session and transcript, or a nil
// session when the cookie is missing or stale. Read-only pages use it so a
// visit alone does not create a session.
func (s *Server) lookupSession(r *http.Request) (*domain.Session, []*domain.Turn, error) {
	id := sessionID(r)
	if id == "" {
		return nil, nil, nil
	}
	sess, turns, err := s.service.GetSession(r.Context(), id)
	if errors.Is(err, service.ErrSessionNotFound) {
		return nil, nil, nil
	}
	return sess, turns, err
}

// currentSession is lookupSession for form posts: it starts a new session and
// sets the cookie when there is none.
func (s *Server) currentSession(w http.ResponseWriter, r *http.Request) (*domain.Session, []*domain.Turn, error) {
	sess, turns, err := s.lookupSession(r)
	if err != nil || sess != nil {
		return sess, turns, err
	}

	sess, err = s.service.StartSession(r.Context())
	if err != nil {
		return nil, nil, err
	}
	setSessionCookie(w, r, sess.ID, 0)
	return sess, nil, nil
}

// sessionID returns the cookie value without creating a session.
func sessionID(r *http.Request) string {
	c, err := r.Cookie(sessionCookie)
	if err != nil {
		return ""
	}
	return c.Value
}

func setSessionCookie(w http.ResponseWriter, r *http.Request, id string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

func clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	setSessionCookie(w, r, "", -1)
}
