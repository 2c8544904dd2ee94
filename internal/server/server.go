package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/strefethen/castbridge/internal/cast"
	"github.com/strefethen/castbridge/internal/devices"
	"github.com/strefethen/castbridge/internal/discovery"
	"github.com/strefethen/castbridge/internal/soap"
)

// Server is the collaborator-facing surface: a read-only device list,
// session commands and an event stream. It owns the at-most-one-session
// rule; casting to a new device tears down the previous session.
type Server struct {
	log      *logrus.Entry
	registry *devices.Registry
	manager  *discovery.Manager
	soap     *soap.Client
	events   *EventHub

	sessionMu sync.Mutex
	session   *cast.Session
}

func New(log *logrus.Entry, registry *devices.Registry, manager *discovery.Manager, soapClient *soap.Client) *Server {
	s := &Server{
		log:      log,
		registry: registry,
		manager:  manager,
		soap:     soapClient,
		events:   NewEventHub(log),
	}
	registry.Subscribe(s.events)
	return s
}

// Router builds the HTTP API.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/devices", s.listDevices)
	r.Post("/api/discovery/rescan", s.rescan)
	r.Post("/api/cast", s.castMedia)
	r.Post("/api/stop", s.stopPlayback)
	r.Post("/api/pause", s.pause)
	r.Post("/api/resume", s.resume)
	r.Post("/api/seek", s.seek)
	r.Get("/api/position", s.position)
	r.Put("/api/volume", s.setVolume)
	r.Get("/api/volume", s.getVolume)
	r.Put("/api/mute", s.setMute)
	r.Get("/api/events", s.events.Handle)

	return r
}

type deviceView struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Kind         string `json:"kind"`
	Address      string `json:"address"`
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model,omitempty"`
}

func (s *Server) listDevices(w http.ResponseWriter, _ *http.Request) {
	list := s.registry.List()
	views := make([]deviceView, 0, len(list))
	for _, device := range list {
		views = append(views, deviceView{
			ID:           device.ID,
			Name:         device.Name,
			Kind:         string(device.Kind),
			Address:      device.Address,
			Manufacturer: device.Manufacturer,
			Model:        device.Model,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": views})
}

func (s *Server) rescan(w http.ResponseWriter, _ *http.Request) {
	s.manager.Reset(true)
	s.manager.Boost()
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "rescanning"})
}

type castRequest struct {
	DeviceID string         `json:"device_id"`
	URL      string         `json:"url"`
	Metadata *cast.Metadata `json:"metadata,omitempty"`
}

func (s *Server) castMedia(w http.ResponseWriter, r *http.Request) {
	var req castRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.DeviceID == "" || req.URL == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "device_id and url are required"})
		return
	}

	device, ok := s.registry.Get(req.DeviceID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "device not found"})
		return
	}

	session, err := s.openSession(device)
	if err != nil {
		writeError(w, statusForCastError(err), err)
		return
	}

	if err := session.Cast(r.Context(), req.URL, req.Metadata); err != nil {
		writeError(w, statusForCastError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "casting", "session_id": session.ID})
}

// openSession returns a session bound to device, tearing down any prior
// session bound to a different device.
func (s *Server) openSession(device devices.CastDevice) (*cast.Session, error) {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()

	if s.session != nil && s.session.Device().ID == device.ID && s.session.State() != cast.StateDisconnected {
		return s.session, nil
	}
	if s.session != nil {
		s.session.Disconnect()
	}

	session := cast.NewSession(s.log, s.soap)
	session.Subscribe(s.events)
	if err := session.Connect(device); err != nil {
		return nil, err
	}
	s.session = session
	return session, nil
}

func (s *Server) currentSession() *cast.Session {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	return s.session
}

func (s *Server) stopPlayback(w http.ResponseWriter, r *http.Request) {
	session := s.currentSession()
	if session == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "stopped"})
		return
	}
	if err := session.Stop(r.Context()); err != nil {
		writeError(w, statusForCastError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "stopped"})
}

func (s *Server) pause(w http.ResponseWriter, r *http.Request) {
	s.sessionCommand(w, func(session *cast.Session) error {
		return session.Pause(r.Context())
	})
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	s.sessionCommand(w, func(session *cast.Session) error {
		return session.Resume(r.Context())
	})
}

type seekRequest struct {
	Seconds int `json:"seconds"`
}

func (s *Server) seek(w http.ResponseWriter, r *http.Request) {
	var req seekRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.sessionCommand(w, func(session *cast.Session) error {
		return session.Seek(r.Context(), time.Duration(req.Seconds)*time.Second)
	})
}

func (s *Server) position(w http.ResponseWriter, r *http.Request) {
	session := s.currentSession()
	if session == nil {
		writeError(w, http.StatusConflict, cast.ErrSessionNotActive)
		return
	}
	pos, err := session.PositionInfo(r.Context())
	if err != nil {
		writeError(w, statusForCastError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"elapsed_seconds":  int(pos.Elapsed.Seconds()),
		"duration_seconds": int(pos.Duration.Seconds()),
	})
}

type volumeRequest struct {
	Level int `json:"level"`
}

func (s *Server) setVolume(w http.ResponseWriter, r *http.Request) {
	var req volumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Level < 0 || req.Level > 100 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "level must be 0-100"})
		return
	}
	s.sessionCommand(w, func(session *cast.Session) error {
		return session.SetVolume(r.Context(), req.Level)
	})
}

func (s *Server) getVolume(w http.ResponseWriter, r *http.Request) {
	session := s.currentSession()
	if session == nil {
		writeError(w, http.StatusConflict, cast.ErrSessionNotActive)
		return
	}
	level, err := session.GetVolume(r.Context())
	if err != nil {
		writeError(w, statusForCastError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"level": level})
}

type muteRequest struct {
	Muted bool `json:"muted"`
}

func (s *Server) setMute(w http.ResponseWriter, r *http.Request) {
	var req muteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.sessionCommand(w, func(session *cast.Session) error {
		return session.SetMute(r.Context(), req.Muted)
	})
}

func (s *Server) sessionCommand(w http.ResponseWriter, command func(*cast.Session) error) {
	session := s.currentSession()
	if session == nil {
		writeError(w, http.StatusConflict, cast.ErrSessionNotActive)
		return
	}
	if err := command(session); err != nil {
		writeError(w, statusForCastError(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func statusForCastError(err error) int {
	switch {
	case err == cast.ErrSessionNotActive:
		return http.StatusConflict
	case err == cast.ErrUnsupportedDevice:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}
