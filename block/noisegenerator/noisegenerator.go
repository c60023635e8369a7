// Package noisegenerator implements the noise generator block: it shares
// the level-and-mute-without-subscription shape, but has no label
// attribute on the device, so channel labels are auto-generated instead
// of queried.
package noisegenerator

import (
	"fmt"

	"github.com/enp6s0/tesira-go/block"
	"github.com/enp6s0/tesira-go/catalog"
	"github.com/enp6s0/tesira-go/session"
	"github.com/sirupsen/logrus"
)

const Version = "0.1.0"

func init() {
	catalog.Register("NoiseGenerator", Version, New)
}

// Block is a noise generator: channels with level and mute, polled.
type Block struct {
	block.Base
	channels map[int]*block.Channel
}

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

	if err := b.RefreshStatus(); err != nil {
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
		label := fmt.Sprintf("%s_%d", b.ID, i)
		ch := block.NewChannel(i, label)

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
		idxF, ok := entry["index"].(float64)
		if !ok {
			return fmt.Errorf("%s: missing channel index", b.ID)
		}
		label, _ := entry["label"].(string)
		min, _ := entry["min_level"].(float64)
		max, _ := entry["max_level"].(float64)

		ch := block.NewChannel(int(idxF), label)
		ch.SetLevelBounds(min, max)
		channels[int(idxF)] = ch
	}
	b.channels = channels
	return nil
}

// RefreshStatus implements block.Poller.
func (b *Block) RefreshStatus() error {
	for idx, ch := range b.channels {
		muted, err := b.Query("mute", idx)
		if err != nil {
			return fmt.Errorf("%s: query mute %d: %w", b.ID, idx, err)
		}
		mutedB, err := muted.Bool()
		if err != nil {
			return fmt.Errorf("%s: mute %d not a bool: %w", b.ID, idx, err)
		}
		ch.SetMuted(mutedB)

		level, err := b.Query("level", idx)
		if err != nil {
			return fmt.Errorf("%s: query level %d: %w", b.ID, idx, err)
		}
		levelF, err := level.Float()
		if err != nil {
			return fmt.Errorf("%s: level %d not a float: %w", b.ID, idx, err)
		}
		ch.SetLevel(levelF)
	}
	return nil
}

func (b *Block) HandlePublish(p session.Publish) {
	b.Log.WithField("type", p.Type).Warn("unexpected publish on a non-subscribing block")
}

func (b *Block) SetMute(channel int, value bool) error {
	if err := b.Set("mute", &channel, boolLit(value)); err != nil {
		return err
	}
	if ch, ok := b.channels[channel]; ok {
		ch.SetMuted(value)
	}
	return nil
}

func (b *Block) SetLevel(channel int, value float64) error {
	if err := b.Set("level", &channel, fmt.Sprintf("%g", value)); err != nil {
		return err
	}
	if ch, ok := b.channels[channel]; ok {
		ch.SetLevel(value)
	}
	return nil
}

func (b *Block) Channel(index int) (*block.Channel, bool) {
	ch, ok := b.channels[index]
	return ch, ok
}

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
