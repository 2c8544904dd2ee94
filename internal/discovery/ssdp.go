package discovery

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	ssdpAddr      = "239.255.255.250:1900"
	ssdpUserAgent = "castbridge/1.0 UPnP/1.1"
)

// Two search targets: generic DLNA renderers and Sonos zone players.
var searchTargets = []string{
	"urn:schemas-upnp-org:device:MediaRenderer:1",
	"urn:schemas-upnp-org:device:ZonePlayer:1",
}

// Broadcast offsets from Start. Early and repeated rounds cover
// slow-responding hardware without flooding the segment.
var broadcastOffsets = []time.Duration{
	500 * time.Millisecond,
	3 * time.Second,
	6 * time.Second,
	9 * time.Second,
	12 * time.Second,
}

// ConnFactory opens the UDP socket used for SSDP. Injectable so tests can
// run without a network.
type ConnFactory func() (net.PacketConn, error)

func defaultConnFactory() (net.PacketConn, error) {
	return net.ListenPacket("udp4", ":0")
}

// SSDPDiscoverer owns one UDP socket, broadcasts M-SEARCH rounds on a fixed
// schedule and forwards every parsed LOCATION header to its sink. It does
// not deduplicate; the same location may legitimately arrive through other
// channels and dedup belongs to the fetcher.
type SSDPDiscoverer struct {
	log         *logrus.Entry
	connFactory ConnFactory
	sink        func(location string)

	mu     sync.Mutex
	conn   net.PacketConn
	cancel context.CancelFunc
}

func NewSSDPDiscoverer(log *logrus.Entry, factory ConnFactory, sink func(string)) *SSDPDiscoverer {
	if factory == nil {
		factory = defaultConnFactory
	}
	return &SSDPDiscoverer{log: log, connFactory: factory, sink: sink}
}

// Start opens the socket, begins listening for responses and schedules the
// broadcast rounds. Calling Start on a running discoverer is a no-op.
func (s *SSDPDiscoverer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return nil
	}

	conn, err := s.connFactory()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.conn = conn
	s.cancel = cancel

	go s.readLoop(conn)
	go s.broadcastLoop(ctx, conn)
	return nil
}

// Stop cancels scheduled broadcasts and closes the socket. Safe to call
// even if never started.
func (s *SSDPDiscoverer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return
	}
	s.cancel()
	s.conn.Close()
	s.cancel = nil
	s.conn = nil
}

// Boost issues one extra broadcast round immediately if discovery is
// active; no-op otherwise.
func (s *SSDPDiscoverer) Boost() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	go s.sendRound(conn)
}

func (s *SSDPDiscoverer) broadcastLoop(ctx context.Context, conn net.PacketConn) {
	var elapsed time.Duration
	for _, offset := range broadcastOffsets {
		select {
		case <-ctx.Done():
			return
		case <-time.After(offset - elapsed):
		}
		elapsed = offset
		s.sendRound(conn)
	}
}

func (s *SSDPDiscoverer) sendRound(conn net.PacketConn) {
	dest, err := net.ResolveUDPAddr("udp4", ssdpAddr)
	if err != nil {
		s.log.WithError(err).Warn("resolving ssdp multicast address")
		return
	}
	for _, target := range searchTargets {
		msg := buildSearchRequest(target)
		if _, err := conn.WriteTo([]byte(msg), dest); err != nil {
			s.log.WithError(err).Debug("ssdp search send failed")
		}
	}
}

func (s *SSDPDiscoverer) readLoop(conn net.PacketConn) {
	buf := make([]byte, 2048)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			// Closed socket terminates the loop; nothing to report.
			return
		}
		location := parseLocation(string(buf[:n]))
		if location == "" {
			continue
		}
		s.sink(location)
	}
}

func buildSearchRequest(target string) string {
	return strings.Join([]string{
		"M-SEARCH * HTTP/1.1",
		"HOST: " + ssdpAddr,
		"MAN: \"ssdp:discover\"",
		"MX: 3",
		"ST: " + target,
		"USER-AGENT: " + ssdpUserAgent,
		"",
		"",
	}, "\r\n")
}

// parseLocation pulls the LOCATION header out of an SSDP response.
// Malformed responses are silently dropped.
func parseLocation(raw string) string {
	scanner := bufio.NewScanner(strings.NewReader(raw))
	if !scanner.Scan() {
		return ""
	}
	if !strings.Contains(scanner.Text(), "200") {
		return ""
	}
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			break
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(parts[0]), "LOCATION") {
			return strings.TrimSpace(parts[1])
		}
	}
	return ""
}
