package tesira

// Config controls how Connect discovers and caches a device's block
// topology.
type Config struct {
	// BlockMapFile, if set, is the path to a cached block-map document.
	// Connect tries to load and validate it before falling back to live
	// discovery. Connect never writes it; call Session.SaveBlockMap to
	// write a fresh one.
	BlockMapFile string

	// DeviceRefreshInterval is how often, in seconds, the device poller
	// re-queries DEVICE-level status and re-registers subscriptions.
	// Must be >= 1; NewDefaultConfig sets 5.
	DeviceRefreshInterval int

	// SkipBlockTypes names discovered block types to leave uninstantiated,
	// e.g. to avoid constructing blocks the caller has no interest in.
	SkipBlockTypes []string
}

// NewDefaultConfig returns a Config with no block-map cache and the
// library's default poll interval.
func NewDefaultConfig() Config {
	return Config{DeviceRefreshInterval: 5}
}

func (c Config) skips(blockType string) bool {
	for _, t := range c.SkipBlockTypes {
		if t == blockType {
			return true
		}
	}
	return false
}
