package devices

import "fmt"

// DeviceKind tags what kind of renderer a CastDevice is.
type DeviceKind string

const (
	KindSonosGroup   DeviceKind = "SONOS_GROUP"
	KindDLNARenderer DeviceKind = "DLNA_RENDERER"
)

// CastDevice is a controllable renderer as exposed to callers. ID is the
// device UDN, or the coordinator UDN for Sonos groups.
type CastDevice struct {
	ID           string
	Name         string
	Kind         DeviceKind
	Address      string
	Port         int
	Manufacturer string
	Model        string
	ControlURL   string
	DescURL      string
}

// Controllable reports whether the device carries an AVTransport control
// endpoint. Devices without one never enter the registry.
func (d CastDevice) Controllable() bool {
	return d.ControlURL != ""
}

// RenderingControlURL is the volume/mute endpoint. Unlike AVTransport it
// lives at a fixed path on the device rather than being advertised in the
// description document.
func (d CastDevice) RenderingControlURL() string {
	return fmt.Sprintf("http://%s:%d/MediaRenderer/RenderingControl/Control", d.Address, d.Port)
}

// SonosZone is one physical Sonos unit as parsed from its description
// document. Zones live only in the discovery manager's zone map; the
// registry never stores them directly.
type SonosZone struct {
	UDN        string
	RoomName   string
	Address    string
	Port       int
	ControlURL string
	DescURL    string
}

// SonosGroup is one coordinator-led group from a topology response.
// Recomputed on every topology fetch, never persisted.
type SonosGroup struct {
	Coordinator string
	Members     []string
}
