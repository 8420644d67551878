package host

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"pmworker/internal/pmworker"
)

const maxControlBody = 1 << 20

func (s *Server) controlMux() *http.ServeMux {
	mux := http.NewServeMux()
	p := ControlPrefix
	mux.HandleFunc("POST "+p+"install", s.handleInstall)
	mux.HandleFunc("POST "+p+"activate", s.handleActivate)
	mux.HandleFunc("POST "+p+"sync", s.handleSync)
	mux.HandleFunc("POST "+p+"push", s.handlePush)
	mux.HandleFunc("POST "+p+"notificationclick", s.handleNotificationClick)
	mux.HandleFunc("POST "+p+"notificationclose", s.handleNotificationClose)
	mux.HandleFunc("POST "+p+"message", s.handleMessage)
	mux.HandleFunc("GET "+p+"state", s.handleState)
	mux.HandleFunc("POST "+p+"queue", s.handleEnqueue)
	mux.HandleFunc("POST "+p+"clients", s.handleRegisterClient)
	mux.HandleFunc("DELETE "+p+"clients/{id}", s.handleUnregisterClient)
	mux.HandleFunc("GET "+p+"clients/{id}/messages", s.handleDrainMessages)
	mux.HandleFunc("GET "+p+"notifications", s.handleNotifications)
	return mux
}

func (s *Server) handleInstall(w http.ResponseWriter, r *http.Request) {
	if err := s.worker.OnInstall(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeState(w, r)
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	if err := s.worker.OnActivate(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.StartPrefetch()
	s.writeState(w, r)
}

type syncResponse struct {
	Tag      string `json:"tag"`
	Pending  int    `json:"pending"`
	Replayed int    `json:"replayed"`
	Stuck    int    `json:"stuck"`
	Failed   int    `json:"failed"`
	Dropped  int    `json:"dropped"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	tag := r.URL.Query().Get("tag")
	if tag == "" {
		tag = s.cfg.Sync.Tag
	}
	rep := s.worker.OnSync(r.Context(), tag)
	out := syncResponse{
		Tag:      tag,
		Pending:  rep.Pending,
		Replayed: rep.Replayed,
		Stuck:    rep.Stuck,
		Failed:   rep.Failed,
		Dropped:  rep.Dropped,
	}
	if rep.ReadErr != nil {
		out.Error = rep.ReadErr.Error()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxControlBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.worker.OnPush(r.Context(), payload))
}

type notificationEvent struct {
	Tag    string `json:"tag"`
	Action string `json:"action,omitempty"`
}

func (s *Server) handleNotificationClick(w http.ResponseWriter, r *http.Request) {
	var ev notificationEvent
	if !decodeBody(w, r, &ev) {
		return
	}
	n, ok := s.tray.Get(ev.Tag)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("no notification with that tag"))
		return
	}
	s.worker.OnNotificationClick(r.Context(), pmworker.NotificationClick{Notification: n, Action: ev.Action})
	w.WriteHeader(http.StatusNoContent)
}

// handleNotificationClose is the user dismissing a notification without
// clicking it.
func (s *Server) handleNotificationClose(w http.ResponseWriter, r *http.Request) {
	var ev notificationEvent
	if !decodeBody(w, r, &ev) {
		return
	}
	n, ok := s.tray.Get(ev.Tag)
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("no notification with that tag"))
		return
	}
	if err := s.tray.Close(r.Context(), ev.Tag); err != nil {
		log.Printf("notificationclose: %v", err)
	}
	s.worker.OnNotificationClose(r.Context(), n)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var msg pmworker.ClientMessage
	if !decodeBody(w, r, &msg) {
		return
	}
	if msg.Type == "" {
		writeError(w, http.StatusBadRequest, errors.New("message type is required"))
		return
	}
	var (
		reply   any
		replied bool
	)
	s.worker.OnMessage(r.Context(), msg, func(v any) {
		reply, replied = v, true
	})
	if !replied {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

type stateResponse struct {
	State   string `json:"state"`
	Version string `json:"version"`
	Static  string `json:"staticCache"`
	Dynamic string `json:"dynamicCache"`
	Queued  int    `json:"queued"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	s.writeState(w, r)
}

func (s *Server) writeState(w http.ResponseWriter, r *http.Request) {
	out := stateResponse{
		State:   s.worker.State().String(),
		Version: s.cfg.Version(),
		Static:  s.cfg.StaticCacheName(),
		Dynamic: s.cfg.DynamicCacheName(),
		Queued:  -1,
	}
	if s.queue != nil {
		// state is a diagnostic; a queue error leaves queued at -1
		if actions, err := s.queue.List(r.Context()); err == nil {
			out.Queued = len(actions)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		writeError(w, http.StatusServiceUnavailable, errors.New("no action queue configured"))
		return
	}
	var a pmworker.OfflineAction
	if !decodeBody(w, r, &a) {
		return
	}
	id, err := s.queue.Enqueue(r.Context(), a)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

type registerRequest struct {
	URL     string `json:"url"`
	Focused bool   `json:"focused"`
}

// handleRegisterClient adds a window. Windows that load while the worker is
// active are controlled immediately; earlier ones wait for a claim.
func (s *Server) handleRegisterClient(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.URL == "" {
		writeError(w, http.StatusBadRequest, errors.New("url is required"))
		return
	}
	c := s.windows.Register(req.URL, req.Focused, s.worker.State() == pmworker.StateActive)
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) handleUnregisterClient(w http.ResponseWriter, r *http.Request) {
	if !s.windows.Unregister(r.PathValue("id")) {
		writeError(w, http.StatusNotFound, pmworker.ErrNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDrainMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.windows.Drain(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.tray.List())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxControlBody))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("control: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
