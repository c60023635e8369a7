// Package sourceselector implements the source selector block class: a
// set of sources of which at most one is selected, with optional stereo
// pairing (which halves the reported input/output counts), a single
// output mute and output level, and a per-source level and selected flag.
package sourceselector

import (
	"fmt"
	"sync"

	"github.com/enp6s0/tesira-go/block"
	"github.com/enp6s0/tesira-go/catalog"
	"github.com/enp6s0/tesira-go/session"
	"github.com/sirupsen/logrus"
)

const Version = "0.1.0"

func init() {
	catalog.Register("SourceSelector", Version, New)
}

// Block is a source selector.
type Block struct {
	block.Base

	mu sync.RWMutex

	stereoEnable   bool
	numInputs      int
	numOutputs     int
	selectedSource int
	outputMute     bool
	outputLevel    float64
	sourceLevels   map[int]float64
	sourceSelected map[int]bool
}

func New(id string, eng *session.Engine, log *logrus.Entry, helper map[string]any) (block.Instance, error) {
	b := &Block{
		Base:           block.NewBase(id, eng, log),
		sourceLevels:   make(map[int]float64),
		sourceSelected: make(map[int]bool),
	}

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

	if err := b.queryStatus(); err != nil {
		return nil, err
	}
	if err := b.registerSubscriptions(); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Block) queryTopology() error {
	stereo, err := b.Query("stereoEnable", 0)
	if err != nil {
		return fmt.Errorf("%s: query stereoEnable: %w", b.ID, err)
	}
	stereoB, err := stereo.Bool()
	if err != nil {
		return fmt.Errorf("%s: stereoEnable not a bool: %w", b.ID, err)
	}

	in, err := b.Query("numInputs", 0)
	if err != nil {
		return fmt.Errorf("%s: query numInputs: %w", b.ID, err)
	}
	numIn64, err := in.Int()
	if err != nil {
		return fmt.Errorf("%s: numInputs not an int: %w", b.ID, err)
	}
	numIn := int(numIn64)

	out, err := b.Query("numOutputs", 0)
	if err != nil {
		return fmt.Errorf("%s: query numOutputs: %w", b.ID, err)
	}
	numOut64, err := out.Int()
	if err != nil {
		return fmt.Errorf("%s: numOutputs not an int: %w", b.ID, err)
	}
	numOut := int(numOut64)

	// A stereo-paired selector reports channel counts doubled on the
	// wire; halve them so indices here address stereo pairs.
	if stereoB {
		numIn /= 2
		numOut /= 2
	}

	b.mu.Lock()
	b.stereoEnable = stereoB
	b.numInputs = numIn
	b.numOutputs = numOut
	b.mu.Unlock()
	return nil
}

func (b *Block) loadHelper(helper map[string]any) error {
	stereo, ok := helper["stereo_enable"].(bool)
	if !ok {
		return fmt.Errorf("%s: helper missing stereo_enable", b.ID)
	}
	numInF, ok := helper["num_inputs"].(float64)
	if !ok {
		return fmt.Errorf("%s: helper missing num_inputs", b.ID)
	}
	numOutF, ok := helper["num_outputs"].(float64)
	if !ok {
		return fmt.Errorf("%s: helper missing num_outputs", b.ID)
	}

	b.mu.Lock()
	b.stereoEnable = stereo
	b.numInputs = int(numInF)
	b.numOutputs = int(numOutF)
	b.mu.Unlock()
	return nil
}

func (b *Block) queryStatus() error {
	sel, err := b.Query("sourceSelection", 0)
	if err != nil {
		return fmt.Errorf("%s: query sourceSelection: %w", b.ID, err)
	}
	selN64, err := sel.Int()
	if err != nil {
		return fmt.Errorf("%s: sourceSelection not an int: %w", b.ID, err)
	}
	selN := int(selN64)

	muted, err := b.Query("outputMute", 0)
	if err != nil {
		return fmt.Errorf("%s: query outputMute: %w", b.ID, err)
	}
	mutedB, err := muted.Bool()
	if err != nil {
		return fmt.Errorf("%s: outputMute not a bool: %w", b.ID, err)
	}

	level, err := b.Query("outputLevel", 0)
	if err != nil {
		return fmt.Errorf("%s: query outputLevel: %w", b.ID, err)
	}
	levelF, err := level.Float()
	if err != nil {
		return fmt.Errorf("%s: outputLevel not a float: %w", b.ID, err)
	}

	b.mu.Lock()
	b.selectedSource = selN
	b.outputMute = mutedB
	b.outputLevel = levelF
	for i := 1; i <= b.numInputs; i++ {
		b.sourceSelected[i] = i == selN
	}
	b.mu.Unlock()
	return nil
}

// registerSubscriptions subscribes to the output-level attributes and
// the per-source level of every known input.
func (b *Block) registerSubscriptions() error {
	if err := b.Subscribe("outputMute", nil, b); err != nil {
		return err
	}
	if err := b.Subscribe("outputLevel", nil, b); err != nil {
		return err
	}
	if err := b.Subscribe("sourceSelection", nil, b); err != nil {
		return err
	}

	b.mu.RLock()
	numInputs := b.numInputs
	b.mu.RUnlock()

	for i := 1; i <= numInputs; i++ {
		channel := i
		if err := b.Subscribe("sourceLevel", &channel, b); err != nil {
			return err
		}
	}
	return nil
}

// Resubscribe implements block.Resubscriber.
func (b *Block) Resubscribe() error {
	return b.registerSubscriptions()
}

// HandlePublish implements session.SubscriptionOwner.
//
// sourceLevel publishes arrive with the originating source's index in
// the response's own channel field, so that field is what identifies
// which source's level changed.
func (b *Block) HandlePublish(p session.Publish) {
	switch p.Type {
	case "outputMute":
		v, err := p.Value.Bool()
		if err != nil {
			b.Log.WithError(err).Warn("invalid outputMute publish")
			return
		}
		b.mu.Lock()
		b.outputMute = v
		b.mu.Unlock()

	case "outputLevel":
		v, err := p.Value.Float()
		if err != nil {
			b.Log.WithError(err).Warn("invalid outputLevel publish")
			return
		}
		b.mu.Lock()
		b.outputLevel = v
		b.mu.Unlock()

	case "sourceSelection":
		v64, err := p.Value.Int()
		if err != nil {
			b.Log.WithError(err).Warn("invalid sourceSelection publish")
			return
		}
		v := int(v64)
		b.mu.Lock()
		b.selectedSource = v
		for i := range b.sourceSelected {
			b.sourceSelected[i] = i == v
		}
		b.mu.Unlock()

	case "sourceLevel":
		if p.Channel == nil {
			b.Log.Error("sourceLevel publish missing channel index")
			return
		}
		idx := *p.Channel
		v, err := p.Value.Float()
		if err != nil {
			b.Log.WithError(err).Warn("invalid sourceLevel publish")
			return
		}
		b.mu.Lock()
		b.sourceLevels[idx] = v
		b.mu.Unlock()

	default:
		b.Log.WithField("type", p.Type).Debug("unhandled subscription callback")
	}
}

// SetMuted sets the output mute state.
func (b *Block) SetMuted(value bool) error {
	if err := b.Set("outputMute", nil, boolLit(value)); err != nil {
		return err
	}
	b.mu.Lock()
	b.outputMute = value
	b.mu.Unlock()
	return nil
}

// SetSelectedSource selects the given source (0 deselects all sources).
func (b *Block) SetSelectedSource(source int) error {
	if err := b.Set("sourceSelection", nil, fmt.Sprintf("%d", source)); err != nil {
		return err
	}
	b.mu.Lock()
	b.selectedSource = source
	for i := range b.sourceSelected {
		b.sourceSelected[i] = i == source
	}
	b.mu.Unlock()
	return nil
}

// SetOutputLevel sets the output level.
func (b *Block) SetOutputLevel(value float64) error {
	if err := b.Set("outputLevel", nil, fmt.Sprintf("%g", value)); err != nil {
		return err
	}
	b.mu.Lock()
	b.outputLevel = value
	b.mu.Unlock()
	return nil
}

// SetSourceLevel sets the level of the given source.
func (b *Block) SetSourceLevel(source int, value float64) error {
	if err := b.Set("sourceLevel", &source, fmt.Sprintf("%g", value)); err != nil {
		return err
	}
	b.mu.Lock()
	b.sourceLevels[source] = value
	b.mu.Unlock()
	return nil
}

// Status is a point-in-time snapshot of the selector's state.
type Status struct {
	SelectedSource int
	OutputMute     bool
	OutputLevel    float64
	SourceLevels   map[int]float64
	SourceSelected map[int]bool
}

func (b *Block) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	levels := make(map[int]float64, len(b.sourceLevels))
	for k, v := range b.sourceLevels {
		levels[k] = v
	}
	selected := make(map[int]bool, len(b.sourceSelected))
	for k, v := range b.sourceSelected {
		selected[k] = v
	}
	return Status{
		SelectedSource: b.selectedSource,
		OutputMute:     b.outputMute,
		OutputLevel:    b.outputLevel,
		SourceLevels:   levels,
		SourceSelected: selected,
	}
}

// ExportHelper implements block.Instance.
func (b *Block) ExportHelper() map[string]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return map[string]any{
		"stereo_enable": b.stereoEnable,
		"num_inputs":    b.numInputs,
		"num_outputs":   b.numOutputs,
	}
}

func boolLit(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
