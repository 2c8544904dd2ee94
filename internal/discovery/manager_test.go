package discovery

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/castbridge/internal/devices"
	"github.com/strefethen/castbridge/internal/soap"
)

func sonosZoneDescription(udn, room string) string {
	return fmt.Sprintf(`<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
  <device>
    <deviceType>urn:schemas-upnp-org:device:ZonePlayer:1</deviceType>
    <friendlyName>%s - Sonos One</friendlyName>
    <manufacturer>Sonos, Inc.</manufacturer>
    <modelName>Sonos One</modelName>
    <UDN>uuid:%s</UDN>
    <roomName>%s</roomName>
    <serviceList>
      <service>
        <serviceType>urn:schemas-upnp-org:service:AVTransport:1</serviceType>
        <controlURL>/MediaRenderer/AVTransport/Control</controlURL>
      </service>
    </serviceList>
  </device>
</root>`, room, udn, room)
}

func rendererDescription(udn, name string) string {
	return fmt.Sprintf(`<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
  <device>
    <deviceType>urn:schemas-upnp-org:device:MediaRenderer:1</deviceType>
    <friendlyName>%s</friendlyName>
    <manufacturer>Samsung Electronics</manufacturer>
    <modelName>UE43RU7400</modelName>
    <UDN>uuid:%s</UDN>
    <serviceList>
      <service>
        <serviceType>urn:schemas-upnp-org:service:AVTransport:1</serviceType>
        <controlURL>/upnp/control/AVTransport1</controlURL>
      </service>
    </serviceList>
  </device>
</root>`, name, udn)
}

func topologyResponse(inner string) string {
	escaped := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;").Replace(inner)
	return `<?xml version="1.0"?>
<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/">
  <s:Body>
    <u:GetZoneGroupStateResponse xmlns:u="urn:schemas-upnp-org:service:ZoneGroupTopology:1">
      <ZoneGroupState>` + escaped + `</ZoneGroupState>
    </u:GetZoneGroupStateResponse>
  </s:Body>
</s:Envelope>`
}

func newTestManager(t *testing.T, registry *devices.Registry, settle time.Duration) *Manager {
	t.Helper()
	log := testLog()
	resolver := devices.NewResolver(log, soap.NewClient(log, 2*time.Second))
	m := NewManager(log, Options{
		FetchTimeout: 2 * time.Second,
		SettleWindow: settle,
		ConnFactory:  func() (net.PacketConn, error) { return newFakePacketConn(), nil },
	}, registry, resolver, nil)
	require.NoError(t, m.Start())
	t.Cleanup(m.Stop)
	return m
}

func TestManager_DeduplicatesLocations(t *testing.T) {
	var fetches int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fetches, 1)
		w.Write([]byte(rendererDescription("tv-1", "Bedroom TV")))
	}))
	defer srv.Close()

	registry := devices.NewRegistry(testLog())
	m := newTestManager(t, registry, 50*time.Millisecond)

	location := srv.URL + "/desc.xml"
	for i := 0; i < 5; i++ {
		m.Enqueue(location)
	}

	require.Eventually(t, func() bool {
		return len(registry.List()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// A resolved location stays resolved for the session.
	m.Enqueue(location)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&fetches))

	list := registry.List()
	require.Len(t, list, 1)
	assert.Equal(t, "Bedroom TV", list[0].Name)
	assert.Equal(t, devices.KindDLNARenderer, list[0].Kind)
}

func TestManager_SingleTopologyFirePerBurst(t *testing.T) {
	inner := `<ZoneGroupState><ZoneGroups>` +
		`<ZoneGroup Coordinator="RINCON_A" ID="RINCON_A:1">` +
		`<ZoneGroupMember UUID="RINCON_A" ZoneName="Kitchen"/>` +
		`<ZoneGroupMember UUID="RINCON_B" ZoneName="Den"/>` +
		`</ZoneGroup>` +
		`</ZoneGroups></ZoneGroupState>`

	var topologyHits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/desc/a.xml":
			w.Write([]byte(sonosZoneDescription("RINCON_A", "Kitchen")))
		case "/desc/b.xml":
			w.Write([]byte(sonosZoneDescription("RINCON_B", "Den")))
		case "/desc/c.xml":
			w.Write([]byte(sonosZoneDescription("RINCON_C", "Attic")))
		case "/ZoneGroupTopology/Control":
			atomic.AddInt32(&topologyHits, 1)
			w.Write([]byte(topologyResponse(inner)))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	registry := devices.NewRegistry(testLog())
	m := newTestManager(t, registry, 200*time.Millisecond)

	// Three zones arrive inside one settle window.
	m.Enqueue(srv.URL + "/desc/a.xml")
	m.Enqueue(srv.URL + "/desc/b.xml")
	m.Enqueue(srv.URL + "/desc/c.xml")

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&topologyHits) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		return len(registry.List()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	list := registry.List()
	assert.Equal(t, "Kitchen +1", list[0].Name)
	assert.Equal(t, "RINCON_A", list[0].ID)
	assert.Equal(t, devices.KindSonosGroup, list[0].Kind)

	// The timer is one-shot; no further resolutions without new zones.
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&topologyHits))
}

func TestManager_ExcludedManufacturerNeverRegistered(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<root><device>
			<friendlyName>DiskStation</friendlyName>
			<manufacturer>Synology</manufacturer>
			<modelName>DS920+</modelName>
			<UDN>uuid:nas-1</UDN>
			<serviceList><service>
				<serviceType>urn:schemas-upnp-org:service:AVTransport:1</serviceType>
				<controlURL>/upnp/control/AVTransport1</controlURL>
			</service></serviceList>
		</device></root>`))
	}))
	defer srv.Close()

	registry := devices.NewRegistry(testLog())
	m := newTestManager(t, registry, 50*time.Millisecond)

	m.Enqueue(srv.URL + "/desc.xml")
	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, registry.List())
}

func TestManager_RendererWithoutAVTransportDropped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<root><device>
			<friendlyName>Living Room Television</friendlyName>
			<manufacturer>Obscure Corp</manufacturer>
			<UDN>uuid:tv-2</UDN>
		</device></root>`))
	}))
	defer srv.Close()

	registry := devices.NewRegistry(testLog())
	m := newTestManager(t, registry, 50*time.Millisecond)

	m.Enqueue(srv.URL + "/desc.xml")
	time.Sleep(200 * time.Millisecond)
	assert.Empty(t, registry.List())
}

func TestManager_FailedFetchReleasesLocation(t *testing.T) {
	var fetches int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&fetches, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(rendererDescription("tv-1", "Bedroom TV")))
	}))
	defer srv.Close()

	registry := devices.NewRegistry(testLog())
	m := newTestManager(t, registry, 50*time.Millisecond)

	location := srv.URL + "/desc.xml"
	m.Enqueue(location)
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&fetches) == 1
	}, 2*time.Second, 10*time.Millisecond)

	// First attempt failed, so a later sighting retries.
	require.Eventually(t, func() bool {
		m.Enqueue(location)
		return len(registry.List()) == 1
	}, 2*time.Second, 20*time.Millisecond)
}

func TestManager_ResetKeepsDevicesButReprocesses(t *testing.T) {
	var fetches int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fetches, 1)
		w.Write([]byte(rendererDescription("tv-1", "Bedroom TV")))
	}))
	defer srv.Close()

	registry := devices.NewRegistry(testLog())
	m := newTestManager(t, registry, 50*time.Millisecond)

	location := srv.URL + "/desc.xml"
	m.Enqueue(location)
	require.Eventually(t, func() bool {
		return len(registry.List()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	m.Reset(true)

	// Devices survive a keep-devices reset.
	require.Len(t, registry.List(), 1)

	// The done set was dropped, so the same location fetches again.
	m.Enqueue(location)
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&fetches) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManager_ClearEmptiesRegistry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(rendererDescription("tv-1", "Bedroom TV")))
	}))
	defer srv.Close()

	registry := devices.NewRegistry(testLog())
	m := newTestManager(t, registry, 50*time.Millisecond)

	m.Enqueue(srv.URL + "/desc.xml")
	require.Eventually(t, func() bool {
		return len(registry.List()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	m.Clear()
	assert.Empty(t, registry.List())
}

func TestManager_StartRetriesAfterSocketFailure(t *testing.T) {
	var fetches int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fetches, 1)
		w.Write([]byte(rendererDescription("tv-1", "Bedroom TV")))
	}))
	defer srv.Close()

	log := testLog()
	registry := devices.NewRegistry(log)
	resolver := devices.NewResolver(log, soap.NewClient(log, time.Second))

	var attempts int32
	m := NewManager(log, Options{
		ConnFactory: func() (net.PacketConn, error) {
			if atomic.AddInt32(&attempts, 1) == 1 {
				return nil, net.ErrClosed
			}
			return newFakePacketConn(), nil
		},
	}, registry, resolver, nil)

	require.Error(t, m.Start())

	// The failed attempt must not leave the manager half-started.
	m.Enqueue(srv.URL + "/desc.xml")
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, atomic.LoadInt32(&fetches))

	require.NoError(t, m.Start())
	t.Cleanup(m.Stop)

	m.Enqueue(srv.URL + "/desc.xml")
	require.Eventually(t, func() bool {
		return len(registry.List()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestManager_EnqueueBeforeStartIgnored(t *testing.T) {
	var fetches int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&fetches, 1)
	}))
	defer srv.Close()

	log := testLog()
	registry := devices.NewRegistry(log)
	resolver := devices.NewResolver(log, soap.NewClient(log, time.Second))
	m := NewManager(log, Options{
		ConnFactory: func() (net.PacketConn, error) { return newFakePacketConn(), nil },
	}, registry, resolver, nil)

	m.Enqueue(srv.URL + "/desc.xml")
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, atomic.LoadInt32(&fetches))
}
