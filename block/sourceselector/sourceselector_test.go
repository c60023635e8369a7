package sourceselector

import (
	"testing"
	"time"

	"github.com/enp6s0/tesira-go/session"
	"github.com/enp6s0/tesira-go/transport/mock"
)

// runFixtureDevice answers the construction and subscription sequence for a
// stereo-paired selector with 4 wire inputs / 2 wire outputs (2 stereo
// input pairs, 1 stereo output pair once halved), then echoes "+OK" for
// anything past the fixed script.
func runFixtureDevice(t *testing.T, tr *mock.Transport, id string, done <-chan struct{}) {
	t.Helper()
	script := []string{
		id + " get stereoEnable", "+OK true",
		id + " get numInputs", "+OK 4",
		id + " get numOutputs", "+OK 2",
		id + " get sourceSelection", "+OK 1",
		id + " get outputMute", "+OK false",
		id + " get outputLevel", "+OK 0",
		`"` + id + `" subscribe "outputMute" "` + id + `_outputMute"`, "+OK",
		`"` + id + `" subscribe "outputLevel" "` + id + `_outputLevel"`, "+OK",
		`"` + id + `" subscribe "sourceSelection" "` + id + `_sourceSelection"`, "+OK",
		`"` + id + `" subscribe "sourceLevel" 1 "` + id + `_sourceLevel_1"`, "+OK",
		`"` + id + `" subscribe "sourceLevel" 2 "` + id + `_sourceLevel_2"`, "+OK",
	}

	go func() {
		i := 0
		for {
			select {
			case cmd, ok := <-tr.Sent():
				if !ok {
					return
				}
				if i+1 < len(script) && cmd == script[i] {
					tr.InjectLine(script[i+1])
					i += 2
					continue
				}
				tr.InjectLine("+OK")
			case <-done:
				return
			}
		}
	}()
}

// A stereo-paired selector halves the wire's reported input and output
// counts.
func TestStereoEnableHalvesChannelCounts(t *testing.T) {
	b, _ := newTestBlockTransport(t)

	helper := b.ExportHelper()
	if helper["stereo_enable"] != true {
		t.Fatalf("expected stereo_enable true, got %v", helper["stereo_enable"])
	}
	if helper["num_inputs"] != 2 {
		t.Fatalf("expected num_inputs halved to 2, got %v", helper["num_inputs"])
	}
	if helper["num_outputs"] != 1 {
		t.Fatalf("expected num_outputs halved to 1, got %v", helper["num_outputs"])
	}
}

func TestSourceSelectionPublishUpdatesSelectedFlags(t *testing.T) {
	b, tr := newTestBlockTransport(t)

	tr.InjectLine("! publishToken=SS1_sourceSelection value=2")
	time.Sleep(50 * time.Millisecond)

	st := b.Status()
	if st.SelectedSource != 2 {
		t.Fatalf("expected selected source 2, got %d", st.SelectedSource)
	}
	if st.SourceSelected[2] != true {
		t.Fatal("expected source 2 selected")
	}
	if st.SourceSelected[1] != false {
		t.Fatal("expected source 1 no longer selected")
	}
}

// sourceLevel publishes are routed by the response's own channel/index
// field rather than any value carried inside the publish body.
func TestSourceLevelPublishRoutesByChannelIndex(t *testing.T) {
	b, tr := newTestBlockTransport(t)

	tr.InjectLine("! publishToken=SS1_sourceLevel_1 index=1 value=-3.5")
	tr.InjectLine("! publishToken=SS1_sourceLevel_2 index=2 value=-9")
	time.Sleep(50 * time.Millisecond)

	st := b.Status()
	if st.SourceLevels[1] != -3.5 {
		t.Fatalf("expected source 1 level -3.5, got %v", st.SourceLevels[1])
	}
	if st.SourceLevels[2] != -9 {
		t.Fatalf("expected source 2 level -9, got %v", st.SourceLevels[2])
	}
}

func newTestBlockTransport(t *testing.T) (*Block, *mock.Transport) {
	t.Helper()
	tr := mock.New(32)
	eng := session.New(tr, nil)
	eng.SetTimeout(300 * time.Millisecond)
	if err := eng.Start(); err != nil {
		t.Fatalf("start engine: %v", err)
	}
	t.Cleanup(func() { eng.Close() })

	done := make(chan struct{})
	t.Cleanup(func() { close(done) })
	runFixtureDevice(t, tr, "SS1", done)

	inst, err := New("SS1", eng, nil, nil)
	if err != nil {
		t.Fatalf("construct block: %v", err)
	}
	return inst.(*Block), tr
}

func TestSetSelectedSourceWritesThroughAndClearsOthers(t *testing.T) {
	b, tr := newTestBlockTransport(t)

	go func() { <-tr.Sent(); tr.InjectLine("+OK") }()

	if err := b.SetSelectedSource(2); err != nil {
		t.Fatalf("SetSelectedSource: %v", err)
	}

	st := b.Status()
	if st.SelectedSource != 2 {
		t.Fatalf("expected selected source 2, got %d", st.SelectedSource)
	}
	if !st.SourceSelected[2] || st.SourceSelected[1] {
		t.Fatalf("expected only source 2 selected, got %v", st.SourceSelected)
	}
}
