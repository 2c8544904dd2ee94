package soap

// UPnP service types used by the bridge. The SOAP client itself is
// service-agnostic; these constants exist so callers spell them once.
const (
	ServiceAVTransport       = "urn:schemas-upnp-org:service:AVTransport:1"
	ServiceRenderingControl  = "urn:schemas-upnp-org:service:RenderingControl:1"
	ServiceZoneGroupTopology = "urn:schemas-upnp-org:service:ZoneGroupTopology:1"
)

// Arg is one named SOAP action argument. Arguments are sent in the order
// given; UPnP control points are allowed to care about ordering.
type Arg struct {
	Name  string
	Value string
}

// Args builds an ordered argument list from name/value pairs.
func Args(pairs ...string) []Arg {
	args := make([]Arg, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		args = append(args, Arg{Name: pairs[i], Value: pairs[i+1]})
	}
	return args
}

// PositionInfo mirrors a GetPositionInfo response (subset).
type PositionInfo struct {
	Track         int
	TrackDuration string
	TrackURI      string
	RelTime       string
}

// VolumeInfo mirrors a GetVolume response.
type VolumeInfo struct {
	CurrentVolume int
}
