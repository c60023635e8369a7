package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// BlockMap is the persisted cache document: device identity plus the
// discovered (or previously cached) block descriptors.
type BlockMap struct {
	Hostname       string           `json:"hostname"`
	Aliases        []string         `json:"aliases"`
	Blocks         map[string]Entry `json:"blocks"`
	LibraryVersion string           `json:"library_version"`
}

// requiredSuffix is enforced on save to prevent ambiguous filenames.
const requiredSuffix = ".bmap"

// Load reads and validates a cached block map against the live device's
// identity. Any mismatch in hostname, the sorted alias set, or the
// library version discards the cache entirely: the caller should then
// fall back to Discover.
func Load(path, hostname string, aliases []string, libraryVersion string, log *logrus.Entry) (map[string]Entry, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read block map %q: %w", path, err)
	}

	var bm BlockMap
	if err := json.Unmarshal(raw, &bm); err != nil {
		return nil, fmt.Errorf("parse block map %q: %w", path, err)
	}

	if bm.Hostname != hostname {
		return nil, fmt.Errorf("block map hostname mismatch: cached %q, live %q", bm.Hostname, hostname)
	}
	if !equalSorted(bm.Aliases, aliases) {
		return nil, fmt.Errorf("block map alias set mismatch")
	}
	if bm.LibraryVersion != libraryVersion {
		return nil, fmt.Errorf("block map library version mismatch: cached %q, live %q", bm.LibraryVersion, libraryVersion)
	}

	log.WithField("path", path).Info("loaded block map from cache")
	return bm.Blocks, nil
}

// Save persists blocks plus the device identity needed to validate reuse
// next time. The output path is forced to end in .bmap.
func Save(path, hostname string, aliases []string, blocks map[string]Entry, libraryVersion string) error {
	if !strings.HasSuffix(path, requiredSuffix) {
		path += requiredSuffix
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve block map path: %w", err)
	}

	sorted := append([]string(nil), aliases...)
	sort.Strings(sorted)

	bm := BlockMap{
		Hostname:       hostname,
		Aliases:        sorted,
		Blocks:         blocks,
		LibraryVersion: libraryVersion,
	}

	raw, err := json.MarshalIndent(bm, "", "    ")
	if err != nil {
		return fmt.Errorf("encode block map: %w", err)
	}

	if err := os.WriteFile(abs, raw, 0o644); err != nil {
		return fmt.Errorf("write block map %q: %w", abs, err)
	}
	return nil
}

// ValidHelper reports whether a cached helper's recorded version matches
// the block type's current VERSION. A mismatch means the block's schema
// may have drifted since the helper was captured, so it must be ignored
// and the block left to self-query.
func ValidHelper(entry Entry, currentVersion string) (map[string]any, bool) {
	if entry.Attributes == nil {
		return nil, false
	}
	if entry.Attributes.Version != currentVersion {
		return nil, false
	}
	if len(entry.Attributes.Helper) == 0 {
		return nil, false
	}
	return entry.Attributes.Helper, true
}

func equalSorted(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	sa := append([]string(nil), a...)
	sb := append([]string(nil), b...)
	sort.Strings(sa)
	sort.Strings(sb)
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}
