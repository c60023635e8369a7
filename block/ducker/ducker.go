// Package ducker implements the ducker block class: a stateful compound
// block (mix sense, threshold, attack/release, input gain) that has no
// subscription support and is instead refreshed in full on every poll.
package ducker

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
	catalog.Register("Ducker", Version, New)
}

// Block is a ducker: every attribute is a scalar, always polled.
type Block struct {
	block.Base

	mu sync.RWMutex

	mixSense      bool
	senseLevel    float64
	senseMute     bool
	threshold     float64
	duckingLevel  float64
	attackTime    float64
	releaseTime   float64
	inputMute     bool
	inputLevel    float64
	minInputLevel float64
	maxInputLevel float64
	bypass        bool
}

func New(id string, eng *session.Engine, log *logrus.Entry, helper map[string]any) (block.Instance, error) {
	b := &Block{Base: block.NewBase(id, eng, log)}
	if err := b.RefreshStatus(); err != nil {
		return nil, err
	}
	return b, nil
}

// RefreshStatus implements block.Poller: ducker attributes are always
// fully re-queried, since the block has no status subscriptions.
func (b *Block) RefreshStatus() error {
	mixSense, err := b.queryBool("mixSense")
	if err != nil {
		return err
	}
	senseLevel, err := b.queryFloat("senseLevel")
	if err != nil {
		return err
	}
	senseMute, err := b.queryBool("senseMute")
	if err != nil {
		return err
	}
	threshold, err := b.queryFloat("threshold")
	if err != nil {
		return err
	}
	duckingLevel, err := b.queryFloat("duckingLevel")
	if err != nil {
		return err
	}
	attackTime, err := b.queryFloat("attackTime")
	if err != nil {
		return err
	}
	releaseTime, err := b.queryFloat("releaseTime")
	if err != nil {
		return err
	}
	inputMute, err := b.queryBool("inputMute")
	if err != nil {
		return err
	}
	inputLevel, err := b.queryFloat("inputLevel")
	if err != nil {
		return err
	}
	minInputLevel, err := b.queryFloat("minInputLevel")
	if err != nil {
		return err
	}
	maxInputLevel, err := b.queryFloat("maxInputLevel")
	if err != nil {
		return err
	}
	bypass, err := b.queryBool("bypass")
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.mixSense = mixSense
	b.senseLevel = senseLevel
	b.senseMute = senseMute
	b.threshold = threshold
	b.duckingLevel = duckingLevel
	b.attackTime = attackTime
	b.releaseTime = releaseTime
	b.inputMute = inputMute
	b.inputLevel = inputLevel
	b.minInputLevel = minInputLevel
	b.maxInputLevel = maxInputLevel
	b.bypass = bypass
	b.mu.Unlock()
	return nil
}

func (b *Block) queryBool(attr string) (bool, error) {
	v, err := b.Query(attr, 0)
	if err != nil {
		return false, fmt.Errorf("%s: query %s: %w", b.ID, attr, err)
	}
	r, err := v.Bool()
	if err != nil {
		return false, fmt.Errorf("%s: %s not a bool: %w", b.ID, attr, err)
	}
	return r, nil
}

func (b *Block) queryFloat(attr string) (float64, error) {
	v, err := b.Query(attr, 0)
	if err != nil {
		return 0, fmt.Errorf("%s: query %s: %w", b.ID, attr, err)
	}
	r, err := v.Float()
	if err != nil {
		return 0, fmt.Errorf("%s: %s not a float: %w", b.ID, attr, err)
	}
	return r, nil
}

// HandlePublish implements session.SubscriptionOwner; duckers never
// subscribe, so this should never be invoked.
func (b *Block) HandlePublish(p session.Publish) {
	b.Log.WithField("type", p.Type).Warn("unexpected publish on a non-subscribing block")
}

func (b *Block) setBool(attr string, dst *bool, value bool) error {
	if err := b.Set(attr, nil, boolLit(value)); err != nil {
		return err
	}
	b.mu.Lock()
	*dst = value
	b.mu.Unlock()
	return nil
}

func (b *Block) setFloat(attr string, dst *float64, value float64) error {
	if err := b.Set(attr, nil, fmt.Sprintf("%g", value)); err != nil {
		return err
	}
	b.mu.Lock()
	*dst = value
	b.mu.Unlock()
	return nil
}

func (b *Block) SetBypass(value bool) error       { return b.setBool("bypass", &b.bypass, value) }
func (b *Block) SetMixSense(value bool) error     { return b.setBool("mixSense", &b.mixSense, value) }
func (b *Block) SetSenseLevel(value float64) error {
	return b.setFloat("senseLevel", &b.senseLevel, value)
}
func (b *Block) SetSenseMute(value bool) error { return b.setBool("senseMute", &b.senseMute, value) }
func (b *Block) SetThreshold(value float64) error {
	return b.setFloat("threshold", &b.threshold, value)
}
func (b *Block) SetDuckingLevel(value float64) error {
	return b.setFloat("duckingLevel", &b.duckingLevel, value)
}
func (b *Block) SetAttackTime(value float64) error {
	return b.setFloat("attackTime", &b.attackTime, value)
}
func (b *Block) SetReleaseTime(value float64) error {
	return b.setFloat("releaseTime", &b.releaseTime, value)
}
func (b *Block) SetInputMute(value bool) error { return b.setBool("inputMute", &b.inputMute, value) }
func (b *Block) SetInputLevel(value float64) error {
	return b.setFloat("inputLevel", &b.inputLevel, value)
}
func (b *Block) SetMinInputLevel(value float64) error {
	return b.setFloat("minInputLevel", &b.minInputLevel, value)
}
func (b *Block) SetMaxInputLevel(value float64) error {
	return b.setFloat("maxInputLevel", &b.maxInputLevel, value)
}

// State is a point-in-time snapshot of every ducker attribute.
type State struct {
	MixSense      bool
	SenseLevel    float64
	SenseMute     bool
	Threshold     float64
	DuckingLevel  float64
	AttackTime    float64
	ReleaseTime   float64
	InputMute     bool
	InputLevel    float64
	MinInputLevel float64
	MaxInputLevel float64
	Bypass        bool
}

func (b *Block) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return State{
		MixSense:      b.mixSense,
		SenseLevel:    b.senseLevel,
		SenseMute:     b.senseMute,
		Threshold:     b.threshold,
		DuckingLevel:  b.duckingLevel,
		AttackTime:    b.attackTime,
		ReleaseTime:   b.releaseTime,
		InputMute:     b.inputMute,
		InputLevel:    b.inputLevel,
		MinInputLevel: b.minInputLevel,
		MaxInputLevel: b.maxInputLevel,
		Bypass:        b.bypass,
	}
}

// ExportHelper implements block.Instance. A ducker has no static
// topology worth caching; every attribute is obtained fresh on every
// poll, so the helper is empty.
func (b *Block) ExportHelper() map[string]any {
	return map[string]any{}
}

func boolLit(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
