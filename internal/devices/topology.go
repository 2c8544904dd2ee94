package devices

import (
	"context"
	"encoding/xml"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/strefethen/castbridge/internal/soap"
)

// Resolver turns a set of discovered Sonos zones into the devices callers
// actually target: one CastDevice per group, led by its coordinator, or one
// per zone when topology cannot be fetched.
type Resolver struct {
	log  *logrus.Entry
	soap *soap.Client
}

func NewResolver(log *logrus.Entry, client *soap.Client) *Resolver {
	return &Resolver{log: log, soap: client}
}

// Resolve queries zone group topology and returns the Sonos device set.
// Topology is ecosystem-global, so any zone can answer; on failure every
// known zone is exposed standalone instead. The result is always either all
// groups or all standalone zones.
func (r *Resolver) Resolve(ctx context.Context, zones map[string]SonosZone) []CastDevice {
	if len(zones) == 0 {
		return nil
	}

	target, ok := pickTarget(zones)
	if !ok {
		return standaloneDevices(zones)
	}

	controlURL := fmt.Sprintf("http://%s:%d/ZoneGroupTopology/Control", target.Address, target.Port)
	payload, err := r.soap.Invoke(ctx, soap.ServiceZoneGroupTopology, controlURL, "GetZoneGroupState", nil)
	if err != nil {
		r.log.WithError(err).Warn("topology query failed, exposing zones standalone")
		return standaloneDevices(zones)
	}

	groups := ParseZoneGroups(payload)
	groupDevices := make([]CastDevice, 0, len(groups))
	for _, group := range groups {
		coordinator, known := zones[group.Coordinator]
		if !known || coordinator.ControlURL == "" {
			continue
		}
		name := coordinator.RoomName
		if extra := len(group.Members) - 1; extra > 0 {
			name = fmt.Sprintf("%s +%d", coordinator.RoomName, extra)
		}
		groupDevices = append(groupDevices, CastDevice{
			ID:           coordinator.UDN,
			Name:         name,
			Kind:         KindSonosGroup,
			Address:      coordinator.Address,
			Port:         coordinator.Port,
			Manufacturer: "Sonos",
			ControlURL:   coordinator.ControlURL,
			DescURL:      coordinator.DescURL,
		})
	}

	if len(groupDevices) == 0 {
		r.log.Warn("topology response yielded no usable groups")
		return standaloneDevices(zones)
	}
	return groupDevices
}

// pickTarget selects the lowest-UDN zone carrying an address, for a
// deterministic query target.
func pickTarget(zones map[string]SonosZone) (SonosZone, bool) {
	udns := make([]string, 0, len(zones))
	for udn := range zones {
		udns = append(udns, udn)
	}
	sort.Strings(udns)
	for _, udn := range udns {
		zone := zones[udn]
		if zone.Address != "" {
			return zone, true
		}
	}
	return SonosZone{}, false
}

// standaloneDevices exposes each zone as its own device, skipping zones
// without a control endpoint and deduplicating by room name (stereo pairs
// share one room).
func standaloneDevices(zones map[string]SonosZone) []CastDevice {
	udns := make([]string, 0, len(zones))
	for udn := range zones {
		udns = append(udns, udn)
	}
	sort.Strings(udns)

	seenRooms := make(map[string]struct{})
	result := make([]CastDevice, 0, len(zones))
	for _, udn := range udns {
		zone := zones[udn]
		if zone.ControlURL == "" {
			continue
		}
		if _, dup := seenRooms[zone.RoomName]; dup {
			continue
		}
		seenRooms[zone.RoomName] = struct{}{}
		result = append(result, CastDevice{
			ID:           zone.UDN,
			Name:         zone.RoomName,
			Kind:         KindSonosGroup,
			Address:      zone.Address,
			Port:         zone.Port,
			Manufacturer: "Sonos",
			ControlURL:   zone.ControlURL,
			DescURL:      zone.DescURL,
		})
	}
	return result
}

// ParseZoneGroups extracts coordinator-led groups from a GetZoneGroupState
// response. The zone group XML arrives escaped inside the SOAP body.
func ParseZoneGroups(payload []byte) []SonosGroup {
	zoneXML := soap.ParseTextValue(payload, "ZoneGroupState")
	if zoneXML == "" {
		zoneXML = string(payload)
	}

	decoder := xml.NewDecoder(strings.NewReader(zoneXML))
	var groups []SonosGroup
	var current *SonosGroup

	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		switch se := tok.(type) {
		case xml.StartElement:
			switch se.Name.Local {
			case "ZoneGroup":
				group := SonosGroup{}
				for _, attr := range se.Attr {
					if attr.Name.Local == "Coordinator" {
						group.Coordinator = attr.Value
					}
				}
				groups = append(groups, group)
				current = &groups[len(groups)-1]
			case "ZoneGroupMember":
				if current == nil {
					continue
				}
				for _, attr := range se.Attr {
					if attr.Name.Local == "UUID" && attr.Value != "" {
						current.Members = append(current.Members, attr.Value)
					}
				}
			}
		}
	}

	result := groups[:0]
	for _, group := range groups {
		if group.Coordinator != "" {
			result = append(result, group)
		}
	}
	return result
}
