package devices

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// Listener receives the full device list whenever the externally visible
// set changes.
type Listener interface {
	DevicesChanged(devices []CastDevice)
}

// Registry is the single authoritative store of resolved devices. Multiple
// discovery producers mutate it concurrently; all mutation happens under
// one mutex and listeners are notified outside of it.
type Registry struct {
	log *logrus.Entry

	mu        sync.RWMutex
	devices   map[string]CastDevice
	listeners []Listener

	// notifyMu orders notification delivery: the list snapshot and its
	// dispatch happen as one unit, so subscribers never see an older list
	// after a newer one.
	notifyMu sync.Mutex
}

func NewRegistry(log *logrus.Entry) *Registry {
	return &Registry{
		log:     log,
		devices: make(map[string]CastDevice),
	}
}

// Subscribe registers a listener for devices-changed notifications.
func (r *Registry) Subscribe(l Listener) {
	r.mu.Lock()
	r.listeners = append(r.listeners, l)
	r.mu.Unlock()
}

// Add inserts a device idempotently. A device without a control endpoint or
// with an already-known id is ignored.
func (r *Registry) Add(device CastDevice) bool {
	if device.ID == "" || !device.Controllable() {
		return false
	}

	r.mu.Lock()
	if _, exists := r.devices[device.ID]; exists {
		r.mu.Unlock()
		return false
	}
	r.devices[device.ID] = device
	r.mu.Unlock()

	r.log.WithFields(logrus.Fields{"id": device.ID, "name": device.Name, "kind": device.Kind}).
		Info("device added")
	r.notify()
	return true
}

// Remove deletes a device by id.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	_, exists := r.devices[id]
	delete(r.devices, id)
	r.mu.Unlock()

	if exists {
		r.notify()
	}
}

// ReplaceKind atomically swaps every device of the given kind for the
// provided replacements. Used by topology resolution: Sonos entries are
// either all groups or all standalone zones, never a mix.
func (r *Registry) ReplaceKind(kind DeviceKind, replacements []CastDevice) {
	r.mu.Lock()
	for id, device := range r.devices {
		if device.Kind == kind {
			delete(r.devices, id)
		}
	}
	for _, device := range replacements {
		if device.ID == "" || !device.Controllable() {
			continue
		}
		r.devices[device.ID] = device
	}
	r.mu.Unlock()

	r.notify()
}

// Clear empties the device list.
func (r *Registry) Clear() {
	r.mu.Lock()
	empty := len(r.devices) == 0
	r.devices = make(map[string]CastDevice)
	r.mu.Unlock()

	if !empty {
		r.notify()
	}
}

// Get returns a device by id.
func (r *Registry) Get(id string) (CastDevice, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	device, ok := r.devices[id]
	return device, ok
}

// List returns the visible device list sorted by name.
func (r *Registry) List() []CastDevice {
	r.mu.RLock()
	list := make([]CastDevice, 0, len(r.devices))
	for _, device := range r.devices {
		list = append(list, device)
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].Name != list[j].Name {
			return list[i].Name < list[j].Name
		}
		return list[i].ID < list[j].ID
	})
	return list
}

func (r *Registry) notify() {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	list := r.List()
	r.mu.RLock()
	listeners := make([]Listener, len(r.listeners))
	copy(listeners, r.listeners)
	r.mu.RUnlock()

	for _, l := range listeners {
		l.DevicesChanged(list)
	}
}
