package models

// Capability is an optional operation a broker adapter declares support
// for. Consumers must check before invoking anything outside the default
// set (authenticate, validate credentials).
type Capability string

const (
	CapabilityPlaceOrder       Capability = "PLACE_ORDER"
	CapabilityCancelOrder      Capability = "CANCEL_ORDER"
	CapabilityGetPositions     Capability = "GET_POSITIONS"
	CapabilityHistoricalData   Capability = "HISTORICAL_DATA"
	CapabilityMarketDataStream Capability = "MARKET_DATA_STREAM"
	CapabilityOCO              Capability = "OCO"
)

// CapabilitySet is an immutable set of declared capabilities.
type CapabilitySet map[Capability]struct{}

// NewCapabilitySet builds a set from the given capabilities.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	s := make(CapabilitySet, len(caps))
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

// Has reports whether c is in the set.
func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// List returns the capabilities in the set.
func (s CapabilitySet) List() []Capability {
	out := make([]Capability, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	return out
}
