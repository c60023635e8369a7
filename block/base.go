// Package block defines the common object framework every DSP block type
// builds on: construction from either a cached attribute helper or a live
// query, subscription registration, attribute write-through, and the
// capability interfaces the catalog and session façade dispatch against.
package block

import (
	"fmt"

	"github.com/enp6s0/tesira-go/session"
	"github.com/enp6s0/tesira-go/ttp"
	"github.com/sirupsen/logrus"
)

// AttributeTag names an attribute a Channel tracks locally. Base.Set and
// the concrete blocks take the device attribute name as a plain string
// and do not use these tags.
type AttributeTag string

const (
	AttrMuted           AttributeTag = "muted"
	AttrLevel           AttributeTag = "level"
	AttrInverted        AttributeTag = "inverted"
	AttrFaultOnInactive AttributeTag = "fault_on_inactive"
)

// Instance is the capability every constructed block satisfies: enough to
// be addressed, routed publish messages, and exported back to the cache.
type Instance interface {
	session.SubscriptionOwner
	ExportHelper() map[string]any
}

// Resubscriber is implemented by blocks whose subscriptions should be
// reissued after a reconnect or on every poller tick, since the device
// tolerates redundant subscribe commands.
type Resubscriber interface {
	Resubscribe() error
}

// Poller is implemented by blocks with attributes that cannot be
// subscribed to and must instead be periodically re-queried.
type Poller interface {
	RefreshStatus() error
}

// Base is embedded by every concrete block type. It owns the block ID,
// the engine used to talk to the device, and the small set of command
// helpers shared by every block.
type Base struct {
	ID  string
	Eng *session.Engine
	Log *logrus.Entry
}

// NewBase returns a Base ready to be embedded by a concrete block.
func NewBase(id string, eng *session.Engine, log *logrus.Entry) Base {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return Base{ID: id, Eng: eng, Log: log.WithField("block", id)}
}

// BlockID implements session.SubscriptionOwner.
func (b *Base) BlockID() string {
	return b.ID
}

// submit writes cmd and translates a device-level rejection into a
// *ttp.ProtocolError so callers can distinguish it from a transport or
// timeout failure.
func (b *Base) submit(cmd string) (ttp.Value, error) {
	resp, err := b.Eng.Submit(cmd)
	if err != nil {
		return ttp.Value{}, err
	}
	if resp.Kind == ttp.Error {
		return ttp.Value{}, ttp.AsProtocolError(cmd, resp)
	}
	return resp.Value, nil
}

// Query issues "<id> get <attr>" or, for channel > 0, "<id> get <attr> <channel>".
func (b *Base) Query(attr string, channel int) (ttp.Value, error) {
	cmd := fmt.Sprintf("%s get %s", b.ID, attr)
	if channel > 0 {
		cmd = fmt.Sprintf("%s %d", cmd, channel)
	}
	return b.submit(cmd)
}

// Set issues a device write for attr, quoting the block ID as the device
// expects. channel is nil for attributes with no channel dimension at
// all; otherwise it is always written as a literal, including 0 (which
// addresses every channel at once), so callers must pass a non-nil
// pointer even for an all-channels write. Callers apply the write-through
// policy themselves: on success update local state from value, on error
// leave it untouched.
func (b *Base) Set(attr string, channel *int, value string) error {
	var cmd string
	if channel != nil {
		cmd = fmt.Sprintf(`"%s" set %s %d %s`, b.ID, attr, *channel, value)
	} else {
		cmd = fmt.Sprintf(`"%s" set %s %s`, b.ID, attr, value)
	}
	_, err := b.submit(cmd)
	return err
}

// SubscribeToken deterministically names the publish token for a given
// attribute and optional channel, so re-subscription after a reconnect
// produces the same token the device already associates with this block.
func SubscribeToken(blockID, attr string, channel *int) string {
	if channel == nil {
		return fmt.Sprintf("%s_%s", blockID, attr)
	}
	return fmt.Sprintf("%s_%s_%d", blockID, attr, *channel)
}

// Subscribe issues a subscribe command for attr (optionally scoped to a
// channel), suggesting a deterministic label so re-subscription after a
// reconnect lines up with the token already in use, then registers owner
// under whatever token the device's reply actually carries. It is safe
// to call again with the same arguments; the device tolerates redundant
// subscribes and Engine.Register simply replaces the existing record.
func (b *Base) Subscribe(attr string, channel *int, owner session.SubscriptionOwner) error {
	label := SubscribeToken(b.ID, attr, channel)

	var cmd string
	if channel != nil {
		cmd = fmt.Sprintf(`"%s" subscribe "%s" %d "%s"`, b.ID, attr, *channel, label)
	} else {
		cmd = fmt.Sprintf(`"%s" subscribe "%s" "%s"`, b.ID, attr, label)
	}

	val, err := b.submit(cmd)
	if err != nil {
		return fmt.Errorf("subscribe %s/%s: %w", b.ID, attr, err)
	}

	token := label
	if field, ok := val.Field("publishToken"); ok {
		token = field.String()
	}
	b.Eng.Register(token, attr, owner)
	return nil
}
