// Package levelmute implements the subscribable level-and-mute block
// class: a set of 1-based channels, each with a label and level bounds
// queried once, and mute/level state kept live via an aggregate "mutes"
// and "levels" vector subscription. LevelControl, DanteInput, and
// DanteOutput all share this shape on the device.
package levelmute

import (
	"fmt"

	"github.com/enp6s0/tesira-go/block"
	"github.com/enp6s0/tesira-go/catalog"
	"github.com/enp6s0/tesira-go/session"
	"github.com/sirupsen/logrus"
)

// Version gates the cached attribute helper: a mismatch forces re-query.
const Version = "0.1.0"

func init() {
	catalog.Register("LevelControl", Version, New)
	catalog.Register("DanteInput", Version, New)
	catalog.Register("DanteOutput", Version, New)
}

// Block is a level-and-mute block with subscription support.
type Block struct {
	block.Base
	channels map[int]*block.Channel
}

// New constructs a Block, restoring channel topology from helper when
// valid, otherwise querying the device, then registers subscriptions.
func New(id string, eng *session.Engine, log *logrus.Entry, helper map[string]any) (block.Instance, error) {
	b := &Block{Base: block.NewBase(id, eng, log), channels: make(map[int]*block.Channel)}

	if helper != nil {
		if err := b.loadHelper(helper); err != nil {
			b.Log.WithError(err).Warn("cannot use initialization helper, querying instead")
			if err := b.queryTopology(); err != nil {
				return nil, err
			}
		}
	} else if err := b.queryTopology(); err != nil {
		return nil, err
	}

	if err := b.registerSubscriptions(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Block) queryTopology() error {
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
		ch := block.NewChannel(i, label.String())

		min, err := b.Query("minLevel", i)
		if err != nil {
			return fmt.Errorf("%s: query minLevel %d: %w", b.ID, i, err)
		}
		max, err := b.Query("maxLevel", i)
		if err != nil {
			return fmt.Errorf("%s: query maxLevel %d: %w", b.ID, i, err)
		}
		minF, _ := min.Float()
		maxF, _ := max.Float()
		ch.SetLevelBounds(minF, maxF)

		b.channels[i] = ch
	}
	return nil
}

func (b *Block) loadHelper(helper map[string]any) error {
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
		idx, label, min, max, err := decodeChannelHelper(entry)
		if err != nil {
			return fmt.Errorf("%s: %w", b.ID, err)
		}
		ch := block.NewChannel(idx, label)
		ch.SetLevelBounds(min, max)
		channels[idx] = ch
	}
	b.channels = channels
	return nil
}

func decodeChannelHelper(entry map[string]any) (index int, label string, min, max float64, err error) {
	idxF, ok := entry["index"].(float64)
	if !ok {
		return 0, "", 0, 0, fmt.Errorf("missing index")
	}
	label, _ = entry["label"].(string)
	min, _ = entry["min_level"].(float64)
	max, _ = entry["max_level"].(float64)
	return int(idxF), label, min, max, nil
}

// registerSubscriptions registers (or re-registers) the aggregate mutes
// and levels vector subscriptions. It is idempotent: the device and the
// engine both tolerate redundant subscribes.
func (b *Block) registerSubscriptions() error {
	if err := b.Subscribe("mutes", nil, b); err != nil {
		return err
	}
	if err := b.Subscribe("levels", nil, b); err != nil {
		return err
	}
	return nil
}

// Resubscribe implements block.Resubscriber.
func (b *Block) Resubscribe() error {
	return b.registerSubscriptions()
}

// HandlePublish implements session.SubscriptionOwner.
func (b *Block) HandlePublish(p session.Publish) {
	switch p.Type {
	case "mutes":
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
	case "levels":
		vals, err := p.Value.Floats()
		if err != nil {
			b.Log.WithError(err).Warn("invalid levels publish")
			return
		}
		for i, level := range vals {
			idx := i + 1
			ch, ok := b.channels[idx]
			if !ok {
				b.Log.WithField("index", idx).Error("level response invalid index")
				continue
			}
			ch.SetLevel(level)
		}
	default:
		b.Log.WithField("type", p.Type).Debug("unhandled subscription callback")
	}
}

// SetMute sets the mute state for channel (0 = all channels) and, on
// success, updates local state to match.
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

// SetLevel sets the level for channel (0 = all channels) and, on
// success, updates local state to match.
func (b *Block) SetLevel(channel int, value float64) error {
	if err := b.Set("level", &channel, fmt.Sprintf("%g", value)); err != nil {
		return err
	}
	if channel == 0 {
		for _, ch := range b.channels {
			ch.SetLevel(value)
		}
	} else if ch, ok := b.channels[channel]; ok {
		ch.SetLevel(value)
	}
	return nil
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
			"index":     snap.Index,
			"label":     snap.Label,
			"min_level": derefOr(snap.MinLevel, 0),
			"max_level": derefOr(snap.MaxLevel, 0),
		}
	}
	return map[string]any{"channels": channels}
}

func derefOr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func boolLit(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
