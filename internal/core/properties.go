package core

import "sync"

// PropertyValue is the state of a system-wide feature switch.
type PropertyValue string

// Feature switch states.
const (
	PropAllowed PropertyValue = "ALLOWED"
	PropDenied  PropertyValue = "DENIED"
)

// System property names consulted by the core.
const (
	// PropGroupAutosharing gates administrative toggling of group-wide
	// autosharing. When denied, only individuals may toggle their own
	// membership.
	PropGroupAutosharing = "GROUP_AUTOSHARING_AVAILABLE"
	// PropPublicSharing gates world grants system-wide.
	PropPublicSharing = "PUBLIC_SHARING"
)

// PropertyStore holds system-wide feature switches. Unset properties default
// to allowed.
type PropertyStore struct {
	mu     sync.RWMutex
	values map[string]PropertyValue
}

// NewPropertyStore constructs a property store with every switch allowed.
func NewPropertyStore() *PropertyStore {
	return &PropertyStore{values: make(map[string]PropertyValue)}
}

// Get returns the current value of the property.
func (p *PropertyStore) Get(name string) PropertyValue {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if v, ok := p.values[name]; ok {
		return v
	}
	return PropAllowed
}

// Set stores a property value. Authorization is enforced by the service.
func (p *PropertyStore) Set(name string, value PropertyValue) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[name] = value
}

// Allowed reports whether the property permits its gated action.
func (p *PropertyStore) Allowed(name string) bool {
	return p.Get(name) == PropAllowed
}
