package discovery

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus"
)

const (
	sonosAdvertService = "_sonos._tcp"
	advertDomain       = "local."
	sonosControlPort   = 1400
	descriptionPath    = "/xml/device_description.xml"
	resolveTimeout     = 5 * time.Second
)

// AdvertDiscoverer browses mDNS advertisements for Sonos units. It is an
// independent channel from SSDP for networks where switches eat multicast
// search responses; both channels feed the same fetcher, which dedups.
type AdvertDiscoverer struct {
	log  *logrus.Entry
	sink func(location string)

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewAdvertDiscoverer(log *logrus.Entry, sink func(string)) *AdvertDiscoverer {
	return &AdvertDiscoverer{log: log, sink: sink}
}

// Start begins browsing. No-op if already browsing.
func (a *AdvertDiscoverer) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return nil
	}

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	entries := make(chan *zeroconf.ServiceEntry)

	go a.consume(ctx, entries)

	if err := resolver.Browse(ctx, sonosAdvertService, advertDomain, entries); err != nil {
		cancel()
		return err
	}

	a.cancel = cancel
	return nil
}

// Stop cancels the browse and any in-flight resolution. Safe to call even
// if never started.
func (a *AdvertDiscoverer) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel == nil {
		return
	}
	a.cancel()
	a.cancel = nil
}

func (a *AdvertDiscoverer) consume(ctx context.Context, entries <-chan *zeroconf.ServiceEntry) {
	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-entries:
			if !ok {
				return
			}
			if entry == nil {
				continue
			}
			addr := a.resolveIPv4(ctx, entry)
			if addr == "" {
				continue
			}
			a.sink(fmt.Sprintf("http://%s:%d%s", addr, sonosControlPort, descriptionPath))
		}
	}
}

// resolveIPv4 picks an IPv4 address for an advertised instance. The Sonos
// control plane is IPv4-only, so IPv6-only instances are skipped. Entries
// without a resolved address get one DNS lookup with a bounded timeout;
// failures drop the instance, discovery being best-effort.
func (a *AdvertDiscoverer) resolveIPv4(ctx context.Context, entry *zeroconf.ServiceEntry) string {
	if len(entry.AddrIPv4) > 0 {
		return entry.AddrIPv4[0].String()
	}
	if entry.HostName == "" {
		return ""
	}

	lookupCtx, cancel := context.WithTimeout(ctx, resolveTimeout)
	defer cancel()

	addrs, err := net.DefaultResolver.LookupIPAddr(lookupCtx, entry.HostName)
	if err != nil {
		a.log.WithError(err).WithField("host", entry.HostName).Debug("advert resolution failed")
		return ""
	}
	for _, addr := range addrs {
		if v4 := addr.IP.To4(); v4 != nil {
			return v4.String()
		}
	}
	a.log.WithField("host", entry.HostName).Debug("skipping IPv6-only instance")
	return ""
}
