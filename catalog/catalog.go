// Package catalog discovers the device's block topology, maintains the
// compile-time registry mapping a discovered block-type name to its
// constructor, and loads/saves the persisted block-map cache that lets a
// session skip expensive re-discovery on a subsequent connect.
package catalog

import (
	"fmt"
	"strings"

	"github.com/enp6s0/tesira-go/block"
	"github.com/enp6s0/tesira-go/session"
	"github.com/enp6s0/tesira-go/ttp"
	"github.com/sirupsen/logrus"
)

// Constructor builds a block.Instance for id. helper is the cached
// attribute helper for this block, or nil if none was available or it
// failed version validation.
type Constructor func(id string, eng *session.Engine, log *logrus.Entry, helper map[string]any) (block.Instance, error)

type registration struct {
	new     Constructor
	version string
}

var registry = make(map[string]registration)

// Register installs a constructor for typeName, the block-type identifier
// as extracted from a device's BLOCKTYPE discovery error (e.g. "Ducker").
// Concrete block packages call this from an init() func, so importing a
// block package for its side effect is what makes that type available.
func Register(typeName, version string, ctor Constructor) {
	registry[typeName] = registration{new: ctor, version: version}
}

// Lookup returns the registered constructor for typeName, if any.
func Lookup(typeName string) (Constructor, string, bool) {
	r, ok := registry[typeName]
	return r.new, r.version, ok
}

// Entry is one block's descriptor within a BlockMap: its discovered type,
// and (once known) the cacheable attribute helper produced by the block.
type Entry struct {
	Type       string       `json:"type"`
	Attributes *EntryHelper `json:"attributes,omitempty"`
}

// EntryHelper pairs a block's exported init helper with the block-type
// version that produced it, so a later load can detect schema drift.
type EntryHelper struct {
	Version string         `json:"version"`
	Helper  map[string]any `json:"helper"`
}

// deviceHandle is the reserved alias that never corresponds to a block.
const deviceHandle = "device"

// Discover queries session aliases already obtained by the caller and
// infers each one's block type from the device's response to a
// deliberately invalid attribute query, per the wire-level discovery
// algorithm: "<id> get BLOCKTYPE" always errors, and the tail of the
// error text names the type as "<Type>Interface::Attributes".
func Discover(eng *session.Engine, aliases []string, log *logrus.Entry) (map[string]Entry, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	blocks := make(map[string]Entry)
	for i, id := range aliases {
		if id == deviceHandle {
			continue
		}

		resp, err := eng.Submit(fmt.Sprintf("%s get BLOCKTYPE", id))
		if err != nil {
			return nil, fmt.Errorf("block type query for %q: %w", id, err)
		}
		if resp.Kind != ttp.Error {
			return nil, fmt.Errorf("block type query for %q: expected an error reply, got %v", id, resp.Kind)
		}

		typeName, ok := extractBlockType(resp.ErrMessage)
		if !ok {
			log.WithField("block", id).Debug("no attribute handle in BLOCKTYPE error, skipping")
			continue
		}

		blocks[id] = Entry{Type: typeName}
		log.WithFields(logrus.Fields{
			"block":    id,
			"type":     typeName,
			"progress": fmt.Sprintf("%d/%d", i+1, len(aliases)),
		}).Debug("discovered block")
	}

	log.WithField("count", len(blocks)).Info("block discovery complete")
	return blocks, nil
}

const attributesSuffix = "Interface::Attributes"

// extractBlockType pulls the block-type name out of a BLOCKTYPE error
// message. The device's error text ends in "<Type>Interface::Attributes";
// we take the last whitespace-separated token and strip that suffix.
func extractBlockType(errMessage string) (string, bool) {
	fields := strings.Fields(errMessage)
	if len(fields) == 0 {
		return "", false
	}
	last := fields[len(fields)-1]
	if !strings.HasSuffix(last, attributesSuffix) {
		return "", false
	}
	return strings.TrimSuffix(last, attributesSuffix), true
}
