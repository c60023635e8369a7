// Package mutecontrol implements the mute-only block class: channels
// with just a mute flag (no level), an optional "ganged" topology flag
// meaning all channels mute together, and an aggregate "mutes" vector
// subscription.
package mutecontrol

import (
	"fmt"

	"github.com/enp6s0/tesira-go/block"
	"github.com/enp6s0/tesira-go/catalog"
	"github.com/enp6s0/tesira-go/session"
	"github.com/sirupsen/logrus"
)

const Version = "0.1.0"

func init() {
	catalog.Register("MuteControl", Version, New)
}

// Block is a mute-only control block.
type Block struct {
	block.Base
	ganged   bool
	channels map[int]*block.Channel
}

func New(id string, eng *session.Engine, log *logrus.Entry, helper map[string]any) (block.Instance, error) {
	b := &Block{Base: block.NewBase(id, eng, log), channels: make(map[int]*block.Channel)}

	if helper != nil {
		if err := b.loadHelper(helper); err != nil {
			b.Log.WithError(err).Warn("cannot use initialization helper, querying instead")
			if err := b.queryAttributes(); err != nil {
				return nil, err
			}
		}
	} else if err := b.queryAttributes(); err != nil {
		return nil, err
	}

	if err := b.registerSubscriptions(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Block) queryAttributes() error {
	ganged, err := b.Query("ganged", 0)
	if err != nil {
		return fmt.Errorf("%s: query ganged: %w", b.ID, err)
	}
	gangedB, err := ganged.Bool()
	if err != nil {
		return fmt.Errorf("%s: ganged not a bool: %w", b.ID, err)
	}
	b.ganged = gangedB

	n, err := b.Query("numChannels", 0)
	if err != nil {
		return fmt.Errorf("%s: query numChannels: %w", b.ID, err)
	}
	count64, err := n.Int()
	if err != nil {
		return fmt.Errorf("%s: numChannels not an int: %w", b.ID, err)
	}
	count := int(count64)

	for i := 1; i <= count; i++ {
		label, err := b.Query("label", i)
		if err != nil {
			return fmt.Errorf("%s: query label %d: %w", b.ID, i, err)
		}
		b.channels[i] = block.NewChannel(i, label.String())
	}
	return nil
}

func (b *Block) loadHelper(helper map[string]any) error {
	ganged, ok := helper["ganged"].(bool)
	if !ok {
		return fmt.Errorf("%s: helper missing ganged flag", b.ID)
	}
	raw, ok := helper["channels"].(map[string]any)
	if !ok {
		return fmt.Errorf("%s: helper missing channels map", b.ID)
	}

	channels := make(map[int]*block.Channel, len(raw))
	for _, v := range raw {
		entry, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("%s: malformed channel helper entry", b.ID)
		}
		idxF, ok := entry["index"].(float64)
		if !ok {
			return fmt.Errorf("%s: missing channel index", b.ID)
		}
		label, _ := entry["label"].(string)
		channels[int(idxF)] = block.NewChannel(int(idxF), label)
	}

	b.ganged = ganged
	b.channels = channels
	return nil
}

func (b *Block) registerSubscriptions() error {
	return b.Subscribe("mutes", nil, b)
}

// Resubscribe implements block.Resubscriber.
func (b *Block) Resubscribe() error {
	return b.registerSubscriptions()
}

// HandlePublish implements session.SubscriptionOwner.
func (b *Block) HandlePublish(p session.Publish) {
	if p.Type != "mutes" {
		b.Log.WithField("type", p.Type).Debug("unhandled subscription callback")
		return
	}
	vals, err := p.Value.Bools()
	if err != nil {
		b.Log.WithError(err).Warn("invalid mutes publish")
		return
	}
	for i, muted := range vals {
		idx := i + 1
		ch, ok := b.channels[idx]
		if !ok {
			b.Log.WithField("index", idx).Error("mute response invalid index")
			continue
		}
		ch.SetMuted(muted)
	}
}

// SetMute sets the mute state for channel (0 = all channels) and
// updates local state on success.
func (b *Block) SetMute(channel int, value bool) error {
	if err := b.Set("mute", &channel, boolLit(value)); err != nil {
		return err
	}
	if channel == 0 {
		for _, ch := range b.channels {
			ch.SetMuted(value)
		}
	} else if ch, ok := b.channels[channel]; ok {
		ch.SetMuted(value)
	}
	return nil
}

// Ganged reports whether this block's channels mute as a single group.
func (b *Block) Ganged() bool {
	return b.ganged
}

// Channel returns the channel at the given 1-based index, if known.
func (b *Block) Channel(index int) (*block.Channel, bool) {
	ch, ok := b.channels[index]
	return ch, ok
}

// ExportHelper implements block.Instance.
func (b *Block) ExportHelper() map[string]any {
	channels := make(map[string]any, len(b.channels))
	for idx, ch := range b.channels {
		snap := ch.Snapshot()
		channels[fmt.Sprintf("%d", idx)] = map[string]any{
			"index": snap.Index,
			"label": snap.Label,
		}
	}
	return map[string]any{"ganged": b.ganged, "channels": channels}
}

func boolLit(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
