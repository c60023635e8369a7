// Package tesira is the client façade: it owns the session engine, the
// connect sequence that establishes device identity and discovers (or
// restores) block topology, and the handful of DEVICE-level commands
// that aren't scoped to any one block.
package tesira

import (
	"fmt"
	"sync"

	"github.com/enp6s0/tesira-go/block"
	"github.com/enp6s0/tesira-go/catalog"
	"github.com/enp6s0/tesira-go/session"
	"github.com/enp6s0/tesira-go/transport"
	"github.com/enp6s0/tesira-go/ttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	// Blank-imported for their init() catalog.Register side effects. The
	// catalog package itself never imports these concrete block packages,
	// to keep the registry free of an import cycle back to its consumers.
	_ "github.com/enp6s0/tesira-go/block/ducker"
	_ "github.com/enp6s0/tesira-go/block/levelmute"
	_ "github.com/enp6s0/tesira-go/block/levelmutenosub"
	_ "github.com/enp6s0/tesira-go/block/mutecontrol"
	_ "github.com/enp6s0/tesira-go/block/noisegenerator"
	_ "github.com/enp6s0/tesira-go/block/sourceselector"
)

// LibraryVersion gates block-map cache reuse: bumping it invalidates
// every previously saved cache on next connect.
const LibraryVersion = "0.1.0"

// deviceHandle is the reserved alias the device itself answers on.
const deviceHandle = "device"

// Session is a connected client: the engine, device identity, and the
// instantiated blocks addressable by alias.
type Session struct {
	eng *session.Engine
	log *logrus.Entry
	cfg Config

	Hostname        string
	FirmwareVersion string
	SerialNumber    string
	Aliases         []string

	blocksMu   sync.RWMutex
	blocks     map[string]block.Instance
	blockTypes map[string]string

	poller *poller
	ready  bool
}

// Connect dials tr, establishes the session baseline, resolves block
// topology (from cache when possible, otherwise by live discovery),
// instantiates and subscribes every block, and starts the background
// device poller. The 8-step sequence mirrors what a fresh connection to
// the device always does: session settings, identity, aliases, topology,
// then steady state.
func Connect(tr transport.Transport, cfg Config, log *logrus.Entry) (*Session, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.DeviceRefreshInterval < 1 {
		cfg.DeviceRefreshInterval = 5
	}

	eng := session.New(tr, log)
	if err := eng.Start(); err != nil {
		return nil, fmt.Errorf("start engine: %w", err)
	}

	s := &Session{
		eng:        eng,
		log:        log,
		cfg:        cfg,
		blocks:     make(map[string]block.Instance),
		blockTypes: make(map[string]string),
	}

	if err := s.negotiateSession(); err != nil {
		eng.Close()
		return nil, err
	}
	if err := s.queryIdentity(); err != nil {
		eng.Close()
		return nil, err
	}
	if err := s.resolveTopology(); err != nil {
		eng.Close()
		return nil, err
	}

	s.poller = newPoller(s, cfg.DeviceRefreshInterval)
	s.poller.start()
	s.ready = true
	return s, nil
}

func (s *Session) negotiateSession() error {
	if _, err := s.eng.Submit("SESSION set verbose true"); err != nil {
		return fmt.Errorf("set verbose: %w", err)
	}
	if _, err := s.eng.Submit("SESSION set detailedResponse false"); err != nil {
		return fmt.Errorf("set detailedResponse: %w", err)
	}
	return nil
}

func (s *Session) queryIdentity() error {
	hostname, err := s.eng.Submit("DEVICE get hostname")
	if err != nil {
		return fmt.Errorf("query hostname: %w", err)
	}
	s.Hostname = hostname.Value.String()

	version, err := s.eng.Submit("DEVICE get version")
	if err != nil {
		return fmt.Errorf("query version: %w", err)
	}
	s.FirmwareVersion = version.Value.String()

	serial, err := s.eng.Submit("DEVICE get serialNumber")
	if err != nil {
		return fmt.Errorf("query serialNumber: %w", err)
	}
	s.SerialNumber = serial.Value.String()

	aliases, err := s.eng.Submit("SESSION get aliases")
	if err != nil {
		return fmt.Errorf("query aliases: %w", err)
	}
	list, err := aliases.Value.Strings()
	if err != nil {
		return fmt.Errorf("aliases not a list: %w", err)
	}
	s.Aliases = list

	// DISCOVEREDSERVERS is informational only; a failure here should
	// never abort a connect.
	if _, err := s.eng.Submit("DEVICE get discoveredServers"); err != nil {
		s.log.WithError(err).Debug("discoveredServers query failed, ignoring")
	}
	return nil
}

func (s *Session) resolveTopology() error {
	entries, err := s.loadOrDiscover()
	if err != nil {
		return err
	}

	// Each block's constructor issues its own sequence of device
	// queries; since the engine already serializes the wire itself,
	// building blocks concurrently overlaps those round trips instead
	// of paying for them one block at a time.
	var g errgroup.Group
	for id, entry := range entries {
		if id == deviceHandle {
			continue
		}
		if s.cfg.skips(entry.Type) {
			s.log.WithField("id", id).WithField("type", entry.Type).Debug("skipping block type")
			continue
		}

		ctor, ctorVersion, ok := catalog.Lookup(entry.Type)
		if !ok {
			s.log.WithField("id", id).WithField("type", entry.Type).Warn("no constructor registered for discovered block type")
			continue
		}

		var helper map[string]any
		if h, ok := catalog.ValidHelper(entry, ctorVersion); ok {
			helper = h
		} else if entry.Attributes != nil {
			s.log.WithField("id", id).WithField("type", entry.Type).Debug("cached helper rejected, block will query the device")
		}

		id, entry := id, entry
		g.Go(func() error {
			inst, err := ctor(id, s.eng, s.log, helper)
			if err != nil {
				return fmt.Errorf("construct block %q (%s): %w", id, entry.Type, err)
			}
			s.blocksMu.Lock()
			s.blocks[id] = inst
			s.blockTypes[id] = entry.Type
			s.blocksMu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

// loadOrDiscover tries the configured block-map cache first, falling
// back to live discovery if no cache path is set or the cache doesn't
// validate against this device's live identity. It never writes the
// cache file; SaveBlockMap does that on request.
func (s *Session) loadOrDiscover() (map[string]catalog.Entry, error) {
	if s.cfg.BlockMapFile != "" {
		entries, err := catalog.Load(s.cfg.BlockMapFile, s.Hostname, s.Aliases, LibraryVersion, s.log)
		if err == nil {
			return entries, nil
		}
		s.log.WithError(err).Warn("block map cache unusable, discovering")
	}

	entries, err := catalog.Discover(s.eng, s.Aliases, s.log)
	if err != nil {
		return nil, fmt.Errorf("discover block topology: %w", err)
	}
	return entries, nil
}

// SaveBlockMap exports every instantiated block's helper and writes a
// fresh cache document to path, so a later Connect can skip discovery.
func (s *Session) SaveBlockMap(path string) error {
	s.blocksMu.RLock()
	defer s.blocksMu.RUnlock()

	entries := make(map[string]catalog.Entry, len(s.blocks))
	for id, inst := range s.blocks {
		typ := s.blockTypes[id]
		_, ctorVersion, _ := catalog.Lookup(typ)
		entries[id] = catalog.Entry{
			Type: typ,
			Attributes: &catalog.EntryHelper{
				Version: ctorVersion,
				Helper:  inst.ExportHelper(),
			},
		}
	}
	return catalog.Save(path, s.Hostname, s.Aliases, entries, LibraryVersion)
}

// Block returns the instantiated block for alias, if known.
func (s *Session) Block(alias string) (block.Instance, bool) {
	s.blocksMu.RLock()
	defer s.blocksMu.RUnlock()
	b, ok := s.blocks[alias]
	return b, ok
}

// Blocks returns every instantiated block keyed by alias.
func (s *Session) Blocks() map[string]block.Instance {
	s.blocksMu.RLock()
	defer s.blocksMu.RUnlock()
	out := make(map[string]block.Instance, len(s.blocks))
	for k, v := range s.blocks {
		out[k] = v
	}
	return out
}

// Ready reports whether Connect has completed its full startup sequence.
func (s *Session) Ready() bool {
	return s.ready
}

// DeviceCommand issues an arbitrary DEVICE-scoped command, e.g.
// "DEVICE get networkStatus".
func (s *Session) DeviceCommand(cmd string) (ttp.Response, error) {
	return s.eng.Submit(cmd)
}

// StartSystemAudio resumes audio processing after StopSystemAudio.
func (s *Session) StartSystemAudio() error {
	_, err := s.eng.Submit("DEVICE startAudio")
	return err
}

// StopSystemAudio mutes all system audio processing device-wide.
func (s *Session) StopSystemAudio() error {
	_, err := s.eng.Submit("DEVICE stopAudio")
	return err
}

// Reboot restarts the device. The connection will drop once it takes
// effect; callers should not expect a reply.
func (s *Session) Reboot() error {
	_, err := s.eng.Submit("DEVICE reboot")
	return err
}

// Close stops the poller and tears down the engine and transport.
func (s *Session) Close() error {
	if s.poller != nil {
		s.poller.stop()
	}
	return s.eng.Close()
}
