package cast

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/strefethen/castbridge/internal/devices"
	"github.com/strefethen/castbridge/internal/soap"
)

// State tags where a session is in its lifecycle.
type State string

const (
	StateDisconnected State = "DISCONNECTED"
	StateConnected    State = "CONNECTED"
	StateCasting      State = "CASTING"
)

// Listener receives session lifecycle and playback transitions.
type Listener interface {
	SessionChanged(state State)
	PlaybackStateChanged(state string)
}

// Position is the playback position reported by GetPositionInfo. Zero
// values mean the renderer did not report the field.
type Position struct {
	Elapsed  time.Duration
	Duration time.Duration
}

// Session drives playback on exactly one device for its whole lifetime.
// Opening a session for another device means tearing this one down first;
// that rule belongs to the caller.
type Session struct {
	ID   string
	log  *logrus.Entry
	soap *soap.Client

	mu        sync.Mutex
	device    devices.CastDevice
	state     State
	mediaURL  string
	metadata  *Metadata
	listeners []Listener
}

func NewSession(log *logrus.Entry, client *soap.Client) *Session {
	return &Session{
		ID:    uuid.NewString(),
		log:   log,
		soap:  client,
		state: StateDisconnected,
	}
}

// Subscribe registers a listener for session and playback transitions.
func (s *Session) Subscribe(l Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Device returns the session's target device.
func (s *Session) Device() devices.CastDevice {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device
}

// MediaURL returns the URL currently casting, if any.
func (s *Session) MediaURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mediaURL
}

// Connect binds the session to a device. The device must carry an
// AVTransport endpoint.
func (s *Session) Connect(device devices.CastDevice) error {
	if !device.Controllable() {
		return ErrUnsupportedDevice
	}

	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return fmt.Errorf("session already bound to %s", s.device.Name)
	}
	s.device = device
	s.state = StateConnected
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"device": device.Name, "id": device.ID}).Info("session connected")
	s.notifySession(StateConnected)
	return nil
}

// Cast sends SetAVTransportURI followed by Play and records the media.
func (s *Session) Cast(ctx context.Context, mediaURL string, meta *Metadata) error {
	device, err := s.activeDevice()
	if err != nil {
		return err
	}

	didl := BuildDIDL(mediaURL, meta)
	_, err = s.soap.Invoke(ctx, soap.ServiceAVTransport, device.ControlURL, "SetAVTransportURI", soap.Args(
		"InstanceID", "0",
		"CurrentURI", mediaURL,
		"CurrentURIMetaData", didl,
	))
	if err != nil {
		return err
	}

	if err := s.play(ctx, device); err != nil {
		return err
	}

	s.mu.Lock()
	s.state = StateCasting
	s.mediaURL = mediaURL
	s.metadata = meta
	s.mu.Unlock()

	s.notifySession(StateCasting)
	s.notifyPlayback("PLAYING")
	return nil
}

// Stop halts playback and drops back to connected. Calling Stop on a
// disconnected session is a no-op, not an error.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateDisconnected {
		s.mu.Unlock()
		return nil
	}
	device := s.device
	s.mu.Unlock()

	_, err := s.soap.Invoke(ctx, soap.ServiceAVTransport, device.ControlURL, "Stop", soap.Args(
		"InstanceID", "0",
	))
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.state = StateConnected
	s.mediaURL = ""
	s.metadata = nil
	s.mu.Unlock()

	s.notifySession(StateConnected)
	s.notifyPlayback("STOPPED")
	return nil
}

// Pause suspends playback without leaving the casting state.
func (s *Session) Pause(ctx context.Context) error {
	device, err := s.activeDevice()
	if err != nil {
		return err
	}
	_, err = s.soap.Invoke(ctx, soap.ServiceAVTransport, device.ControlURL, "Pause", soap.Args(
		"InstanceID", "0",
	))
	if err != nil {
		return err
	}
	s.notifyPlayback("PAUSED_PLAYBACK")
	return nil
}

// Resume continues paused playback.
func (s *Session) Resume(ctx context.Context) error {
	device, err := s.activeDevice()
	if err != nil {
		return err
	}
	if err := s.play(ctx, device); err != nil {
		return err
	}
	s.notifyPlayback("PLAYING")
	return nil
}

// Seek jumps to an absolute position within the current track.
func (s *Session) Seek(ctx context.Context, position time.Duration) error {
	device, err := s.activeDevice()
	if err != nil {
		return err
	}
	_, err = s.soap.Invoke(ctx, soap.ServiceAVTransport, device.ControlURL, "Seek", soap.Args(
		"InstanceID", "0",
		"Unit", "REL_TIME",
		"Target", FormatDuration(position),
	))
	return err
}

// PositionInfo reports elapsed time and track duration. Fields the
// renderer omits come back zero.
func (s *Session) PositionInfo(ctx context.Context) (Position, error) {
	device, err := s.activeDevice()
	if err != nil {
		return Position{}, err
	}
	payload, err := s.soap.Invoke(ctx, soap.ServiceAVTransport, device.ControlURL, "GetPositionInfo", soap.Args(
		"InstanceID", "0",
	))
	if err != nil {
		return Position{}, err
	}
	info := soap.ParsePositionInfo(payload)
	return Position{
		Elapsed:  ParseDuration(info.RelTime),
		Duration: ParseDuration(info.TrackDuration),
	}, nil
}

// SetVolume sets the master volume (0-100) via RenderingControl.
func (s *Session) SetVolume(ctx context.Context, level int) error {
	device, err := s.activeDevice()
	if err != nil {
		return err
	}
	_, err = s.soap.Invoke(ctx, soap.ServiceRenderingControl, device.RenderingControlURL(), "SetVolume", soap.Args(
		"InstanceID", "0",
		"Channel", "Master",
		"DesiredVolume", strconv.Itoa(level),
	))
	return err
}

// GetVolume reads the master volume.
func (s *Session) GetVolume(ctx context.Context) (int, error) {
	device, err := s.activeDevice()
	if err != nil {
		return 0, err
	}
	payload, err := s.soap.Invoke(ctx, soap.ServiceRenderingControl, device.RenderingControlURL(), "GetVolume", soap.Args(
		"InstanceID", "0",
		"Channel", "Master",
	))
	if err != nil {
		return 0, err
	}
	return soap.ParseVolume(payload).CurrentVolume, nil
}

// SetMute mutes or unmutes the master channel.
func (s *Session) SetMute(ctx context.Context, muted bool) error {
	device, err := s.activeDevice()
	if err != nil {
		return err
	}
	desired := "0"
	if muted {
		desired = "1"
	}
	_, err = s.soap.Invoke(ctx, soap.ServiceRenderingControl, device.RenderingControlURL(), "SetMute", soap.Args(
		"InstanceID", "0",
		"Channel", "Master",
		"DesiredMute", desired,
	))
	return err
}

// Disconnect releases the device without sending anything on the wire.
func (s *Session) Disconnect() {
	s.mu.Lock()
	changed := s.state != StateDisconnected
	s.state = StateDisconnected
	s.mediaURL = ""
	s.metadata = nil
	s.mu.Unlock()

	if changed {
		s.notifySession(StateDisconnected)
	}
}

func (s *Session) play(ctx context.Context, device devices.CastDevice) error {
	_, err := s.soap.Invoke(ctx, soap.ServiceAVTransport, device.ControlURL, "Play", soap.Args(
		"InstanceID", "0",
		"Speed", "1",
	))
	return err
}

func (s *Session) activeDevice() (devices.CastDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateDisconnected {
		return devices.CastDevice{}, ErrSessionNotActive
	}
	return s.device, nil
}

func (s *Session) notifySession(state State) {
	for _, l := range s.snapshotListeners() {
		l.SessionChanged(state)
	}
}

func (s *Session) notifyPlayback(state string) {
	for _, l := range s.snapshotListeners() {
		l.PlaybackStateChanged(state)
	}
}

func (s *Session) snapshotListeners() []Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	return listeners
}

// FormatDuration renders a duration as the HH:MM:SS form Seek expects.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d:%02d", total/3600, (total/60)%60, total%60)
}

// ParseDuration reads the H:MM:SS strings renderers report. Unparsable or
// absent values come back zero.
func ParseDuration(value string) time.Duration {
	if value == "" || value == "NOT_IMPLEMENTED" {
		return 0
	}
	var h, m, sec int
	if _, err := fmt.Sscanf(value, "%d:%d:%d", &h, &m, &sec); err != nil {
		return 0
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(sec)*time.Second
}
