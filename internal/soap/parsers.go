package soap

import (
	"bytes"
	"encoding/xml"
	"strconv"
	"strings"
)

// ParseTextValue returns the text content of the first element named
// element in payload, or "" when absent. Tag names match case-insensitively
// because device firmwares disagree on casing.
func ParseTextValue(payload []byte, element string) string {
	decoder := xml.NewDecoder(bytes.NewReader(payload))
	for {
		tok, err := decoder.Token()
		if err != nil {
			break
		}
		switch se := tok.(type) {
		case xml.StartElement:
			if strings.EqualFold(se.Name.Local, element) {
				var value string
				if err := decoder.DecodeElement(&value, &se); err == nil {
					return strings.TrimSpace(value)
				}
			}
		}
	}
	return ""
}

// ParsePositionInfo extracts the fields of a GetPositionInfo response.
// Missing fields come back zero-valued.
func ParsePositionInfo(payload []byte) PositionInfo {
	track, _ := strconv.Atoi(ParseTextValue(payload, "Track"))
	return PositionInfo{
		Track:         track,
		TrackDuration: ParseTextValue(payload, "TrackDuration"),
		TrackURI:      ParseTextValue(payload, "TrackURI"),
		RelTime:       ParseTextValue(payload, "RelTime"),
	}
}

// ParseVolume extracts CurrentVolume from a GetVolume response.
func ParseVolume(payload []byte) VolumeInfo {
	vol, _ := strconv.Atoi(ParseTextValue(payload, "CurrentVolume"))
	return VolumeInfo{CurrentVolume: vol}
}
