package catalog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/enp6s0/tesira-go/session"
	"github.com/enp6s0/tesira-go/transport/mock"
)

func startTestEngine(t *testing.T) (*session.Engine, *mock.Transport) {
	t.Helper()
	tr := mock.New(16)
	eng := session.New(tr, nil)
	eng.SetTimeout(200 * time.Millisecond)
	if err := eng.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	return eng, tr
}

func TestDiscoverExtractsBlockTypeFromErrorText(t *testing.T) {
	eng, tr := startTestEngine(t)

	go func() {
		<-tr.Sent()
		tr.InjectLine("-ERR Ducker GateInterface::Attributes")
	}()

	blocks, err := Discover(eng, []string{"Gate1"}, nil)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}

	entry, ok := blocks["Gate1"]
	if !ok {
		t.Fatal("expected Gate1 to be discovered")
	}
	if entry.Type != "Gate" {
		t.Fatalf("expected type %q, got %q", "Gate", entry.Type)
	}
}

func TestDiscoverSkipsReservedDeviceAlias(t *testing.T) {
	eng, tr := startTestEngine(t)

	go func() {
		sent := <-tr.Sent()
		if sent != "Gate1 get BLOCKTYPE" {
			t.Errorf("device alias should never be queried, got %q", sent)
		}
		tr.InjectLine("-ERR Ducker GateInterface::Attributes")
	}()

	blocks, err := Discover(eng, []string{"device", "Gate1"}, nil)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if _, ok := blocks["device"]; ok {
		t.Fatal("device handle should never be treated as a block")
	}
	if len(blocks) != 1 {
		t.Fatalf("expected exactly one discovered block, got %d", len(blocks))
	}
}

func tempBmapPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "device")
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	path := tempBmapPath(t)
	blocks := map[string]Entry{
		"MixerA": {Type: "LevelControl"},
	}

	if err := Save(path, "dsp-1", []string{"MixerA", "device"}, blocks, "v1.0.0"); err != nil {
		t.Fatalf("save: %v", err)
	}

	saved := path + requiredSuffix
	if _, err := os.Stat(saved); err != nil {
		t.Fatalf("expected saved file to enforce .bmap suffix: %v", err)
	}

	loaded, err := Load(saved, "dsp-1", []string{"device", "MixerA"}, "v1.0.0", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded["MixerA"].Type != "LevelControl" {
		t.Fatalf("unexpected round-tripped entry: %+v", loaded["MixerA"])
	}
}

// The following three tests cover the three independent reasons a cached
// block map can be rejected: hostname, alias set, and library version.
func TestLoadRejectsHostnameMismatch(t *testing.T) {
	path := tempBmapPath(t)
	if err := Save(path, "dsp-old", []string{"MixerA"}, map[string]Entry{"MixerA": {Type: "LevelControl"}}, "v1.0.0"); err != nil {
		t.Fatalf("save: %v", err)
	}

	_, err := Load(path+requiredSuffix, "dsp-new", []string{"MixerA"}, "v1.0.0", nil)
	if err == nil {
		t.Fatal("expected hostname mismatch to reject the cache")
	}
}

func TestLoadRejectsAliasSetMismatch(t *testing.T) {
	path := tempBmapPath(t)
	if err := Save(path, "dsp-1", []string{"MixerA"}, map[string]Entry{"MixerA": {Type: "LevelControl"}}, "v1.0.0"); err != nil {
		t.Fatalf("save: %v", err)
	}

	_, err := Load(path+requiredSuffix, "dsp-1", []string{"MixerA", "MixerB"}, "v1.0.0", nil)
	if err == nil {
		t.Fatal("expected alias set mismatch to reject the cache")
	}
}

func TestLoadRejectsLibraryVersionMismatch(t *testing.T) {
	path := tempBmapPath(t)
	if err := Save(path, "dsp-1", []string{"MixerA"}, map[string]Entry{"MixerA": {Type: "LevelControl"}}, "v1.0.0"); err != nil {
		t.Fatalf("save: %v", err)
	}

	_, err := Load(path+requiredSuffix, "dsp-1", []string{"MixerA"}, "v2.0.0", nil)
	if err == nil {
		t.Fatal("expected library version mismatch to reject the cache")
	}
}

func TestValidHelperRejectsVersionMismatch(t *testing.T) {
	entry := Entry{
		Type: "LevelControl",
		Attributes: &EntryHelper{
			Version: "0.1.0",
			Helper:  map[string]any{"channels": map[string]any{}},
		},
	}

	if _, ok := ValidHelper(entry, "0.2.0"); ok {
		t.Fatal("expected a version mismatch to reject the helper")
	}
	if _, ok := ValidHelper(entry, "0.1.0"); !ok {
		t.Fatal("expected a matching version to accept the helper")
	}
}

func TestValidHelperRejectsEmptyHelper(t *testing.T) {
	entry := Entry{
		Type:       "LevelControl",
		Attributes: &EntryHelper{Version: "0.1.0", Helper: map[string]any{}},
	}
	if _, ok := ValidHelper(entry, "0.1.0"); ok {
		t.Fatal("expected an empty helper to be rejected")
	}
}
