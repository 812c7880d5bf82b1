package web

import (
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionCookie is the cookie carrying the browser's session id.
const SessionCookie = "robopanel_session"

const (
	sessionTTL  = 24 * time.Hour // how long an idle session is kept
	maxSessions = 10000          // least recently seen sessions are evicted beyond this
)

// Session is the per-browser state: the devices picked on the device page.
type Session struct {
	ID       string
	Devices  map[string]string // device type → device name
	lastSeen time.Time
}

// Device returns the selected device of the given type.
func (s *Session) Device(typ string) string {
	return s.Devices[typ]
}

// sessions is an in-memory session store keyed by cookie value.
type sessions struct {
	mu    sync.Mutex
	items map[string]*Session
	now   func() time.Time
}

func newSessions() *sessions {
	return &sessions{items: make(map[string]*Session), now: time.Now}
}

// lookup returns a snapshot of the caller's session without creating one.
func (s *sessions) lookup(r *http.Request) (Session, bool) {
	c, err := r.Cookie(SessionCookie)
	if err != nil {
		return Session{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	sess, ok := s.items[c.Value]
	if !ok || now.Sub(sess.lastSeen) > sessionTTL {
		return Session{}, false
	}
	sess.lastSeen = now
	return Session{ID: sess.ID, Devices: maps.Clone(sess.Devices)}, true
}

// get returns a snapshot of the caller's session, creating one and setting
// the cookie when the request has none.
func (s *sessions) get(w http.ResponseWriter, r *http.Request) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.prune(now)

	if c, err := r.Cookie(SessionCookie); err == nil {
		if sess, ok := s.items[c.Value]; ok {
			sess.lastSeen = now
			return Session{ID: sess.ID, Devices: maps.Clone(sess.Devices)}
		}
	}

	if len(s.items) >= maxSessions {
		s.evictOldest()
	}
	sess := &Session{ID: uuid.NewString(), Devices: map[string]string{}, lastSeen: now}
	s.items[sess.ID] = sess
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return Session{ID: sess.ID, Devices: map[string]string{}}
}

// setDevices replaces the selected devices of session id.
func (s *sessions) setDevices(id string, devices map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.items[id]; ok {
		sess.Devices = maps.Clone(devices)
		sess.lastSeen = s.now()
	}
}

func (s *sessions) prune(now time.Time) {
	for id, sess := range s.items {
		if now.Sub(sess.lastSeen) > sessionTTL {
			delete(s.items, id)
		}
	}
}

func (s *sessions) evictOldest() {
	var oldest *Session
	for _, sess := range s.items {
		if oldest == nil || sess.lastSeen.Before(oldest.lastSeen) {
			oldest = sess
		}
	}
	if oldest != nil {
		delete(s.items, oldest.ID)
	}
}
