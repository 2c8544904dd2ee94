package discovery

import (
	"bytes"
	"encoding/xml"
	"net/url"
	"strings"
)

// Description holds the fields we extract from a UPnP device description
// document. The documents have a small, stable shape; a full schema parse
// buys nothing here.
type Description struct {
	FriendlyName    string
	Manufacturer    string
	ModelName       string
	UDN             string
	RoomName        string
	AVTransportPath string
}

// ParseDescription extracts the known fields from a description document.
// Tag names match case-insensitively and the first occurrence wins; the
// root device's UDN appears before any embedded device's.
func ParseDescription(payload []byte) Description {
	decoder := xml.NewDecoder(bytes.NewReader(payload))
	var desc Description

	inService := false
	var svcType, svcControl string

	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		switch se := tok.(type) {
		case xml.StartElement:
			name := se.Name.Local
			switch {
			case strings.EqualFold(name, "service"):
				inService = true
				svcType, svcControl = "", ""
			case inService && strings.EqualFold(name, "serviceType"):
				svcType = decodeText(decoder, &se)
			case inService && strings.EqualFold(name, "controlURL"):
				svcControl = decodeText(decoder, &se)
			case strings.EqualFold(name, "friendlyName"):
				if desc.FriendlyName == "" {
					desc.FriendlyName = decodeText(decoder, &se)
				}
			case strings.EqualFold(name, "manufacturer"):
				if desc.Manufacturer == "" {
					desc.Manufacturer = decodeText(decoder, &se)
				}
			case strings.EqualFold(name, "modelName"):
				if desc.ModelName == "" {
					desc.ModelName = decodeText(decoder, &se)
				}
			case strings.EqualFold(name, "UDN"):
				if desc.UDN == "" {
					desc.UDN = strings.TrimPrefix(decodeText(decoder, &se), "uuid:")
				}
			case strings.EqualFold(name, "roomName"):
				if desc.RoomName == "" {
					desc.RoomName = decodeText(decoder, &se)
				}
			}
		case xml.EndElement:
			if strings.EqualFold(se.Name.Local, "service") {
				if desc.AVTransportPath == "" && strings.Contains(svcType, ":AVTransport:") {
					desc.AVTransportPath = svcControl
				}
				inService = false
			}
		}
	}

	return desc
}

func decodeText(decoder *xml.Decoder, se *xml.StartElement) string {
	var value string
	if err := decoder.DecodeElement(&value, se); err != nil {
		return ""
	}
	return strings.TrimSpace(value)
}

// resolveControlURL turns a possibly-relative controlURL from a description
// document into an absolute URL against the document's location.
func resolveControlURL(location, controlPath string) string {
	if controlPath == "" {
		return ""
	}
	ref, err := url.Parse(controlPath)
	if err != nil {
		return ""
	}
	if ref.IsAbs() {
		return ref.String()
	}
	base, err := url.Parse(location)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
