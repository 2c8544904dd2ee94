package discovery

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/strefethen/castbridge/internal/devices"
)

// KnownEndpoints feeds previously seen device addresses back into
// discovery and records fresh sightings. Optional; a nil store disables
// the channel.
type KnownEndpoints interface {
	Endpoints() []string
	Touch(address string)
}

// Options tune the discovery manager. Zero values get sensible defaults;
// tests shrink the timers.
type Options struct {
	FetchTimeout time.Duration
	SettleWindow time.Duration
	HTTPClient   *http.Client
	ConnFactory  ConnFactory
	// AdvertEnabled turns the mDNS channel on. Tests leave it off so no
	// real multicast happens.
	AdvertEnabled bool
}

func (o *Options) applyDefaults() {
	if o.FetchTimeout <= 0 {
		o.FetchTimeout = 5 * time.Second
	}
	if o.SettleWindow <= 0 {
		o.SettleWindow = 3 * time.Second
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{
			Timeout: o.FetchTimeout,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: 3 * time.Second}).DialContext,
				TLSHandshakeTimeout: 3 * time.Second,
				IdleConnTimeout:     30 * time.Second,
			},
		}
	}
}

// Manager is the serialization point for all mutable discovery state: the
// pending/done fetch sets, the Sonos zone map and the one-shot topology
// settle timer. SSDP responses, mDNS resolutions and fetch completions all
// funnel through it so dedup and registry mutation stay race-free.
type Manager struct {
	log      *logrus.Entry
	opts     Options
	registry *devices.Registry
	resolver *devices.Resolver
	known    KnownEndpoints

	ssdp   *SSDPDiscoverer
	advert *AdvertDiscoverer

	mu          sync.Mutex
	running     bool
	generation  int
	pending     map[string]struct{}
	done        map[string]struct{}
	zones       map[string]devices.SonosZone
	settleTimer *time.Timer
	armed       bool
	fetchCtx    context.Context
	fetchCancel context.CancelFunc
}

func NewManager(log *logrus.Entry, opts Options, registry *devices.Registry, resolver *devices.Resolver, known KnownEndpoints) *Manager {
	opts.applyDefaults()
	m := &Manager{
		log:      log,
		opts:     opts,
		registry: registry,
		resolver: resolver,
		known:    known,
		pending:  make(map[string]struct{}),
		done:     make(map[string]struct{}),
		zones:    make(map[string]devices.SonosZone),
	}
	m.ssdp = NewSSDPDiscoverer(log, opts.ConnFactory, m.Enqueue)
	m.advert = NewAdvertDiscoverer(log, m.Enqueue)
	return m
}

// Start opens both discovery channels and replays remembered endpoints as
// direct description probes.
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	m.fetchCtx, m.fetchCancel = context.WithCancel(context.Background())
	m.mu.Unlock()

	if err := m.ssdp.Start(); err != nil {
		// Roll back so a later Start can try again.
		m.mu.Lock()
		m.running = false
		m.invalidateLocked()
		m.mu.Unlock()
		return err
	}
	if m.opts.AdvertEnabled {
		if err := m.advert.Start(); err != nil {
			m.log.WithError(err).Warn("mdns browse unavailable, continuing with ssdp only")
		}
	}

	if m.known != nil {
		for _, addr := range m.known.Endpoints() {
			m.Enqueue(fmt.Sprintf("http://%s:%d%s", addr, sonosControlPort, descriptionPath))
		}
	}
	return nil
}

// Stop shuts down both channels, cancels outstanding fetches and the armed
// settle timer. Safe to call even if never started.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.invalidateLocked()
	m.mu.Unlock()

	m.ssdp.Stop()
	m.advert.Stop()
}

// Boost issues one extra SSDP broadcast round if discovery is active.
func (m *Manager) Boost() {
	m.ssdp.Boost()
}

// Reset clears the fetch bookkeeping and the zone map so a fresh discovery
// pass re-processes everything, cancelling outstanding work. With
// keepDevices the visible device list survives, so a manual refresh does
// not flicker.
func (m *Manager) Reset(keepDevices bool) {
	m.mu.Lock()
	m.invalidateLocked()
	if m.running {
		m.fetchCtx, m.fetchCancel = context.WithCancel(context.Background())
	}
	m.mu.Unlock()

	if !keepDevices {
		m.registry.Clear()
	}
}

// Clear cancels every in-flight fetch and empties the device list.
func (m *Manager) Clear() {
	m.Reset(false)
}

// invalidateLocked bumps the session generation so completions of already
// running fetches and timers become silent no-ops.
func (m *Manager) invalidateLocked() {
	m.generation++
	m.pending = make(map[string]struct{})
	m.done = make(map[string]struct{})
	m.zones = make(map[string]devices.SonosZone)
	m.armed = false
	if m.settleTimer != nil {
		m.settleTimer.Stop()
		m.settleTimer = nil
	}
	if m.fetchCancel != nil {
		m.fetchCancel()
		m.fetchCancel = nil
		m.fetchCtx = nil
	}
}

// Enqueue schedules a description fetch for a location URL. Locations
// already pending or already resolved this session are ignored, so any
// number of channels can surface the same document.
func (m *Manager) Enqueue(location string) {
	if location == "" {
		return
	}

	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	if _, isPending := m.pending[location]; isPending {
		m.mu.Unlock()
		return
	}
	if _, isDone := m.done[location]; isDone {
		m.mu.Unlock()
		return
	}
	m.pending[location] = struct{}{}
	gen := m.generation
	ctx := m.fetchCtx
	m.mu.Unlock()

	go m.fetch(ctx, gen, location)
}

func (m *Manager) fetch(ctx context.Context, gen int, location string) {
	payload, err := m.get(ctx, location)
	if err != nil {
		// Expected on unreachable devices and on discovery resets; the
		// location is released so a later sighting can retry.
		m.log.WithError(err).WithField("location", location).Debug("description fetch failed")
		m.mu.Lock()
		if gen == m.generation {
			delete(m.pending, location)
		}
		m.mu.Unlock()
		return
	}

	desc := ParseDescription(payload)
	m.handleDescription(gen, location, desc)
}

func (m *Manager) get(ctx context.Context, location string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, m.opts.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, location, nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("description fetch: http %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (m *Manager) handleDescription(gen int, location string, desc Description) {
	m.mu.Lock()
	if gen != m.generation {
		// Session was reset while this fetch was in flight.
		m.mu.Unlock()
		return
	}
	delete(m.pending, location)
	m.done[location] = struct{}{}

	switch Classify(desc) {
	case ClassExcluded:
		m.mu.Unlock()
		m.log.WithField("manufacturer", desc.Manufacturer).Debug("excluded manufacturer")
		return

	case ClassSonos:
		m.addZoneLocked(gen, location, desc)
		m.mu.Unlock()
		return

	case ClassRenderer:
		m.mu.Unlock()
		controlURL := resolveControlURL(location, desc.AVTransportPath)
		if controlURL == "" {
			m.log.WithField("name", desc.FriendlyName).Debug("renderer without AVTransport endpoint dropped")
			return
		}
		host, port := splitLocation(location)
		m.registry.Add(devices.CastDevice{
			ID:           desc.UDN,
			Name:         desc.FriendlyName,
			Kind:         devices.KindDLNARenderer,
			Address:      host,
			Port:         port,
			Manufacturer: desc.Manufacturer,
			Model:        desc.ModelName,
			ControlURL:   controlURL,
			DescURL:      location,
		})
		return

	default:
		m.mu.Unlock()
		m.log.WithFields(logrus.Fields{"name": desc.FriendlyName, "manufacturer": desc.Manufacturer}).
			Debug("unclassified device dropped")
		return
	}
}

// addZoneLocked merges a Sonos zone into the zone map (first write per UDN
// wins) and arms the one-shot topology settle timer on the first zone of
// the session.
func (m *Manager) addZoneLocked(gen int, location string, desc Description) {
	if desc.UDN == "" {
		return
	}
	if _, exists := m.zones[desc.UDN]; !exists {
		host, port := splitLocation(location)
		room := desc.RoomName
		if room == "" {
			room = desc.FriendlyName
		}
		m.zones[desc.UDN] = devices.SonosZone{
			UDN:        desc.UDN,
			RoomName:   room,
			Address:    host,
			Port:       port,
			ControlURL: resolveControlURL(location, desc.AVTransportPath),
			DescURL:    location,
		}
		if m.known != nil && host != "" {
			go m.known.Touch(host)
		}
	}

	if !m.armed {
		m.armed = true
		m.settleTimer = time.AfterFunc(m.opts.SettleWindow, func() {
			m.resolveTopology(gen)
		})
	}
}

// resolveTopology runs once per settle-window arming. Group-derived devices
// fully replace the prior Sonos entries; the standalone fallback inside the
// resolver covers topology failure.
func (m *Manager) resolveTopology(gen int) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		return
	}
	snapshot := make(map[string]devices.SonosZone, len(m.zones))
	for udn, zone := range m.zones {
		snapshot[udn] = zone
	}
	ctx := m.fetchCtx
	m.mu.Unlock()

	resolved := m.resolver.Resolve(ctx, snapshot)

	m.mu.Lock()
	stale := gen != m.generation
	m.mu.Unlock()
	if stale {
		return
	}
	m.registry.ReplaceKind(devices.KindSonosGroup, resolved)
}

// splitLocation returns host and port of a location URL; port defaults
// to 80.
func splitLocation(location string) (string, int) {
	parsed, err := url.Parse(location)
	if err != nil {
		return "", 0
	}
	port := 80
	if p := parsed.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}
	return parsed.Hostname(), port
}
