package cast

import (
	"strings"

	"github.com/strefethen/castbridge/internal/soap"
)

// Metadata describes what is playing. It is supplied by the caller and
// serialized to DIDL-Lite for SetAVTransportURI; its structure is otherwise
// opaque to this package.
type Metadata struct {
	Title       string `json:"title"`
	Artist      string `json:"artist,omitempty"`
	Album       string `json:"album,omitempty"`
	ArtURI      string `json:"art_uri,omitempty"`
	ContentType string `json:"content_type,omitempty"`
}

// BuildDIDL serializes metadata to the DIDL-Lite document renderers expect
// alongside a transport URI. An empty Metadata yields an empty string,
// which devices accept.
func BuildDIDL(mediaURL string, meta *Metadata) string {
	if meta == nil {
		return ""
	}

	contentType := meta.ContentType
	if contentType == "" {
		contentType = "audio/mpeg"
	}

	var b strings.Builder
	b.WriteString(`<DIDL-Lite xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/"`)
	b.WriteString(` xmlns:dc="http://purl.org/dc/elements/1.1/"`)
	b.WriteString(` xmlns:upnp="urn:schemas-upnp-org:metadata-1-0/upnp/">`)
	b.WriteString(`<item id="0" parentID="-1" restricted="1">`)
	b.WriteString(`<dc:title>`)
	b.WriteString(soap.EscapeXML(meta.Title))
	b.WriteString(`</dc:title>`)
	if meta.Artist != "" {
		b.WriteString(`<dc:creator>`)
		b.WriteString(soap.EscapeXML(meta.Artist))
		b.WriteString(`</dc:creator>`)
	}
	if meta.Album != "" {
		b.WriteString(`<upnp:album>`)
		b.WriteString(soap.EscapeXML(meta.Album))
		b.WriteString(`</upnp:album>`)
	}
	if meta.ArtURI != "" {
		b.WriteString(`<upnp:albumArtURI>`)
		b.WriteString(soap.EscapeXML(meta.ArtURI))
		b.WriteString(`</upnp:albumArtURI>`)
	}
	b.WriteString(`<upnp:class>object.item.audioItem.musicTrack</upnp:class>`)
	b.WriteString(`<res protocolInfo="http-get:*:`)
	b.WriteString(soap.EscapeXML(contentType))
	b.WriteString(`:*">`)
	b.WriteString(soap.EscapeXML(mediaURL))
	b.WriteString(`</res>`)
	b.WriteString(`</item>`)
	b.WriteString(`</DIDL-Lite>`)
	return b.String()
}
