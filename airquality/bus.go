package airquality

// Bus is a two-wire addressable bus. Every call is a complete, blocking
// transaction bounded by the transport's own timeout.
type Bus interface {
	// Scan returns the addresses that acknowledged a probe.
	Scan() ([]uint16, error)
	Write(addr uint16, w []byte) error
	Read(addr uint16, r []byte) error
}
