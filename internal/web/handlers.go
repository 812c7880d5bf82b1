package web

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strings"

	"github.com/deixis/robopanel/internal/control"
	"github.com/deixis/robopanel/internal/runner"
)

// recentRuns is how many records GET /runs returns.
const recentRuns = 20

// indexData is the view model of the device page.
type indexData struct {
	Devices map[string]string
	Types   []string
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.get(w, r)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	data := indexData{Devices: sess.Devices, Types: control.DeviceTypes(sess.Devices)}
	if err := indexTmpl.Execute(w, data); err != nil {
		s.logger.Error("rendering index", "error", err)
	}
}

func (s *Server) handleGetDevices(w http.ResponseWriter, r *http.Request) {
	reply, err := s.ctl.Devices(r.Context(), r.FormValue("username"))
	s.respond(w, reply, err)
}

// handleSetDevices stores the devices picked in the browser, sent as
// repeated "devices[]" (or "devices") values of the form "name:type", and
// answers with the resulting type → name map.
func (s *Server) handleSetDevices(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.get(w, r)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	entries := append(r.PostForm["devices[]"], r.PostForm["devices"]...)
	devices := control.SelectDevices(entries)
	s.sessions.setDevices(sess.ID, devices)
	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleFeed(fc control.FeedCommand) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, _ := s.sessions.lookup(r)
		id := r.FormValue("id")
		if id == "" {
			id = sess.Device(fc.DeviceType())
		}
		reply, err := s.ctl.Feed(r.Context(), id, fc)
		s.respond(w, reply, err)
	}
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	sess, _ := s.sessions.lookup(r)
	id := r.FormValue("id")
	if id == "" {
		id = sess.Device(control.CommandDeviceType)
	}
	reply, err := s.ctl.Command(r.Context(), id, r.FormValue("cmd"), r.FormValue("data"))
	s.respond(w, reply, err)
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	reply, err := s.ctl.Signup(r.Context(), r.FormValue("newUser"), r.FormValue("newPass"))
	s.respond(w, reply, err)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, s.runs.Recent(recentRuns))
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if s.runs == nil {
		http.NotFound(w, r)
		return
	}
	rec, err := s.runs.Load(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			http.NotFound(w, r)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if strings.Contains(r.Header.Get("Accept"), "text/plain") {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(rec.Summary()))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// respond writes a script reply: 422 for rejected input, 504 when the
// script ran out of time, 502 for any other failure and 200 otherwise.
// The body is the text the caller should show.
func (s *Server) respond(w http.ResponseWriter, reply *control.Reply, err error) {
	if err != nil {
		var v *control.ValidationError
		if errors.As(err, &v) {
			http.Error(w, v.Message, http.StatusUnprocessableEntity)
			return
		}
		s.logger.Error("handling request", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Run-ID", reply.RunID)
	w.WriteHeader(statusOf(reply.Outcome))
	_, _ = w.Write(reply.Body)
}

func statusOf(out *runner.Outcome) int {
	if out.OK() {
		return http.StatusOK
	}
	if out.Failure.Reason == runner.TimedOut {
		return http.StatusGatewayTimeout
	}
	return http.StatusBadGateway
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
