package block

import "sync"

// Channel mirrors a single per-channel attribute set on a block (level,
// mute, inversion, fault-on-inactive, label, and level bounds). Fields
// are pointers so a block only reports the attributes its device block
// type actually supports; an attribute a block never queries or
// subscribes to stays nil for the lifetime of the object.
//
// Unlike the schema this is grounded on, there is no update callback
// wired through the channel itself: a block writes to the device via
// Base.Set and then calls the Channel setter directly once it has the
// device's answer, which avoids the update-triggers-callback-triggers-
// update cycle a property-based design invites.
type Channel struct {
	mu sync.RWMutex

	Index int
	label string

	muted           *bool
	inverted        *bool
	faultOnInactive *bool

	level    *float64
	minLevel *float64
	maxLevel *float64
}

// NewChannel returns a channel for the given 1-based index and label.
func NewChannel(index int, label string) *Channel {
	return &Channel{Index: index, label: label}
}

// Snapshot is a point-in-time, read-only copy of a Channel's state.
type Snapshot struct {
	Index           int
	Label           string
	Muted           *bool
	Inverted        *bool
	FaultOnInactive *bool
	Level           *float64
	MinLevel        *float64
	MaxLevel        *float64
}

// Snapshot returns a copy of the channel's current state.
func (c *Channel) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		Index:           c.Index,
		Label:           c.label,
		Muted:           c.muted,
		Inverted:        c.inverted,
		FaultOnInactive: c.faultOnInactive,
		Level:           c.level,
		MinLevel:        c.minLevel,
		MaxLevel:        c.maxLevel,
	}
}

func (c *Channel) Label() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.label
}

func (c *Channel) Muted() (bool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.muted == nil {
		return false, false
	}
	return *c.muted, true
}

func (c *Channel) Level() (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.level == nil {
		return 0, false
	}
	return *c.level, true
}

// SetMuted updates local state after a successful device write or a
// routed subscription push; it never talks to the device itself.
func (c *Channel) SetMuted(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted = &v
}

func (c *Channel) SetInverted(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inverted = &v
}

func (c *Channel) SetFaultOnInactive(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.faultOnInactive = &v
}

func (c *Channel) SetLevel(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.level = &v
}

func (c *Channel) SetLevelBounds(min, max float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.minLevel = &min
	c.maxLevel = &max
}

func (c *Channel) SetLabel(label string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.label = label
}
