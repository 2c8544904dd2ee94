package discovery

import "strings"

// Class is the outcome of classifying a description document.
type Class int

const (
	// ClassExcluded matches NAS/router/hub vendors that advertise
	// MediaRenderer-ish services nobody can cast to.
	ClassExcluded Class = iota
	// ClassSonos is a Sonos zone; it goes to the zone map, not the registry.
	ClassSonos
	// ClassRenderer is a confidently castable DLNA renderer.
	ClassRenderer
	// ClassUnknown is everything else; dropped.
	ClassUnknown
)

var excludedManufacturers = []string{
	"synology",
	"qnap",
	"western digital",
	"netgear",
	"asustor",
	"buffalo",
	"seagate",
	"d-link",
	"tp-link",
	"ubiquiti",
	"asus",
	"fritz",
}

var tvManufacturers = []string{
	"samsung",
	"lg electronics",
	"sony",
	"philips",
	"panasonic",
	"tcl",
	"hisense",
	"vizio",
	"sharp",
	"toshiba",
	"grundig",
}

// Classify applies the manufacturer rules in order: exclusion list, then
// Sonos, then known TV vendors or a "tv"/"television" hint in the model or
// friendly name. Anything unclassified is dropped rather than guessed at.
func Classify(desc Description) Class {
	manufacturer := strings.ToLower(desc.Manufacturer)

	for _, excluded := range excludedManufacturers {
		if strings.Contains(manufacturer, excluded) {
			return ClassExcluded
		}
	}

	if strings.Contains(manufacturer, "sonos") {
		return ClassSonos
	}

	for _, vendor := range tvManufacturers {
		if strings.Contains(manufacturer, vendor) {
			return ClassRenderer
		}
	}

	model := strings.ToLower(desc.ModelName)
	friendly := strings.ToLower(desc.FriendlyName)
	if strings.Contains(model, "tv") || strings.Contains(friendly, "tv") ||
		strings.Contains(model, "television") || strings.Contains(friendly, "television") {
		return ClassRenderer
	}

	return ClassUnknown
}
