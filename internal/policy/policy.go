// Package policy gates device-signal enrichment. Toggling a flag only
// affects items recorded afterwards; buffered items keep the Device they
// were stamped with.
package policy

import (
	"sync"

	"github.com/DevEngageLab/mtpush-sdk/internal/types"
)

// Identifiers are the raw device values a platform can supply. Empty
// means unavailable or denied.
type Identifiers struct {
	IDFA    string
	IDFV    string
	Carrier string
}

// PlatformSignal supplies raw identifier values. A nil PlatformSignal is
// treated as collection disabled.
type PlatformSignal interface {
	Identifiers() Identifiers
}

// Control holds the collection toggles.
type Control struct {
	IDFA    bool
	IDFV    bool
	Carrier bool
}

// DefaultControl collects carrier only.
func DefaultControl() Control {
	return Control{IDFA: false, IDFV: false, Carrier: true}
}

// Update is a partial change; nil fields keep their current value.
type Update struct {
	IDFA    *bool
	IDFV    *bool
	Carrier *bool
}

// Policy is safe for concurrent use.
type Policy struct {
	mu       sync.RWMutex
	control  Control
	platform PlatformSignal
}

// New returns a Policy with DefaultControl.
func New(platform PlatformSignal) *Policy {
	return &Policy{control: DefaultControl(), platform: platform}
}

// Apply merges u into the current control and returns the result.
func (p *Policy) Apply(u Update) Control {
	p.mu.Lock()
	defer p.mu.Unlock()
	if u.IDFA != nil {
		p.control.IDFA = *u.IDFA
	}
	if u.IDFV != nil {
		p.control.IDFV = *u.IDFV
	}
	if u.Carrier != nil {
		p.control.Carrier = *u.Carrier
	}
	return p.control
}

// Control returns the current toggles.
func (p *Policy) Control() Control {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.control
}

// SetPlatform replaces the signal source.
func (p *Policy) SetPlatform(platform PlatformSignal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.platform = platform
}

// Enrich returns the device signals allowed by the current toggles.
func (p *Policy) Enrich() types.Device {
	p.mu.RLock()
	control, platform := p.control, p.platform
	p.mu.RUnlock()

	if platform == nil {
		return types.Device{}
	}
	ids := platform.Identifiers()

	var d types.Device
	if control.IDFA {
		d.IDFA = ids.IDFA
	}
	if control.IDFV {
		d.IDFV = ids.IDFV
	}
	if control.Carrier {
		d.Carrier = ids.Carrier
	}
	return d
}

// Bool returns a pointer to b, for building an Update.
func Bool(b bool) *bool { return &b }
