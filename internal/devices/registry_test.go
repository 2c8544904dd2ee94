package devices

import (
	"fmt"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog() *logrus.Entry {
	logger, _ := logtest.NewNullLogger()
	return logger.WithField("test", true)
}

type recordingListener struct {
	mu    sync.Mutex
	calls int
	last  []CastDevice
}

func (l *recordingListener) DevicesChanged(list []CastDevice) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	l.last = list
}

func (l *recordingListener) snapshot() (int, []CastDevice) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls, l.last
}

func renderer(id, name string) CastDevice {
	return CastDevice{
		ID:         id,
		Name:       name,
		Kind:       KindDLNARenderer,
		Address:    "10.0.0.9",
		Port:       8080,
		ControlURL: "http://10.0.0.9:8080/AVTransport/Control",
	}
}

func TestRegistry_RejectsDeviceWithoutControlEndpoint(t *testing.T) {
	registry := NewRegistry(testLog())

	added := registry.Add(CastDevice{ID: "uuid-1", Name: "Broken", Kind: KindDLNARenderer})
	assert.False(t, added)
	assert.Empty(t, registry.List())
}

func TestRegistry_AddIsIdempotentPerID(t *testing.T) {
	registry := NewRegistry(testLog())
	listener := &recordingListener{}
	registry.Subscribe(listener)

	require.True(t, registry.Add(renderer("uuid-1", "TV")))
	assert.False(t, registry.Add(renderer("uuid-1", "TV again")))

	list := registry.List()
	require.Len(t, list, 1)
	assert.Equal(t, "TV", list[0].Name)

	calls, _ := listener.snapshot()
	assert.Equal(t, 1, calls)
}

func TestRegistry_ReplaceKindSwapsOnlyThatKind(t *testing.T) {
	registry := NewRegistry(testLog())
	require.True(t, registry.Add(renderer("tv-1", "TV")))

	zoneA := CastDevice{ID: "RINCON_A", Name: "Kitchen", Kind: KindSonosGroup, Address: "10.0.0.2", Port: 1400, ControlURL: "http://10.0.0.2:1400/MediaRenderer/AVTransport/Control"}
	registry.ReplaceKind(KindSonosGroup, []CastDevice{zoneA})

	group := CastDevice{ID: "RINCON_A", Name: "Kitchen +2", Kind: KindSonosGroup, Address: "10.0.0.2", Port: 1400, ControlURL: zoneA.ControlURL}
	registry.ReplaceKind(KindSonosGroup, []CastDevice{group})

	list := registry.List()
	require.Len(t, list, 2)
	names := []string{list[0].Name, list[1].Name}
	assert.Contains(t, names, "TV")
	assert.Contains(t, names, "Kitchen +2")
	assert.NotContains(t, names, "Kitchen")
}

func TestRegistry_ListSortedByName(t *testing.T) {
	registry := NewRegistry(testLog())
	registry.Add(renderer("b", "Zeta"))
	registry.Add(renderer("a", "Alpha"))

	list := registry.List()
	require.Len(t, list, 2)
	assert.Equal(t, "Alpha", list[0].Name)
	assert.Equal(t, "Zeta", list[1].Name)
}

func TestRegistry_ConcurrentAddsDeliverFreshFinalList(t *testing.T) {
	registry := NewRegistry(testLog())
	listener := &recordingListener{}
	registry.Subscribe(listener)

	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			registry.Add(renderer(fmt.Sprintf("uuid-%02d", i), fmt.Sprintf("Device %02d", i)))
		}(i)
	}
	wg.Wait()

	// The last delivered snapshot must reflect every completed add; an
	// older list delivered after a newer one would strand the UI.
	calls, last := listener.snapshot()
	assert.Equal(t, n, calls)
	require.Len(t, last, n)
	assert.Equal(t, registry.List(), last)
}

func TestRegistry_ClearNotifiesOnce(t *testing.T) {
	registry := NewRegistry(testLog())
	registry.Add(renderer("a", "TV"))

	listener := &recordingListener{}
	registry.Subscribe(listener)

	registry.Clear()
	registry.Clear() // already empty, no second notification

	calls, last := listener.snapshot()
	assert.Equal(t, 1, calls)
	assert.Empty(t, last)
}
