package supervisor

// Wire response sentinels sent as the single reply byte after a complete
// auth frame (spec.md §4.3/§6: "one response byte"). Their exact encoding
// is the external protocol's to define; these values are this
// implementation's choice, not dictated by spec.md.
const (
	AuthFailed           byte = 0x00
	AuthSuccessNew       byte = 0x01
	AuthSuccessReconnect byte = 0x02
)
