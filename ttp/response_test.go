package ttp

import "testing"

func TestParseLineDiscardsNoise(t *testing.T) {
	for _, line := range []string{"", "Welcome to Tesira", "login: ", "   "} {
		if _, ok := ParseLine(line); ok {
			t.Errorf("expected line %q to be discarded", line)
		}
	}
}

func TestParseLineOKScalar(t *testing.T) {
	resp, ok := ParseLine(`+OK "Front"`)
	if !ok {
		t.Fatal("expected a response")
	}
	if resp.Kind != OK {
		t.Fatalf("expected OK, got %v", resp.Kind)
	}
	if got := resp.Value.String(); got != "Front" {
		t.Fatalf("expected %q, got %q", "Front", got)
	}
}

func TestParseLineOKBareBoolean(t *testing.T) {
	resp, ok := ParseLine("+OK true")
	if !ok {
		t.Fatal("expected a response")
	}
	b, err := resp.Value.Bool()
	if err != nil || !b {
		t.Fatalf("expected true, got %v (%v)", b, err)
	}
}

func TestParseLineOKList(t *testing.T) {
	resp, ok := ParseLine("+OK [-10.0 -10.0]")
	if !ok {
		t.Fatal("expected a response")
	}
	floats, err := resp.Value.Floats()
	if err != nil {
		t.Fatal(err)
	}
	if len(floats) != 2 || floats[0] != -10.0 || floats[1] != -10.0 {
		t.Fatalf("unexpected floats: %v", floats)
	}
}

func TestParseLineOKRecord(t *testing.T) {
	resp, ok := ParseLine("+OK publishToken=sub1 value=42")
	if !ok {
		t.Fatal("expected a response")
	}
	tok, present := resp.Value.Field("publishToken")
	if !present || tok.String() != "sub1" {
		t.Fatalf("unexpected publishToken field: %+v", tok)
	}
	val, present := resp.Value.Field("value")
	if !present {
		t.Fatal("expected value field")
	}
	n, err := val.Int()
	if err != nil || n != 42 {
		t.Fatalf("unexpected value field: %v (%v)", n, err)
	}
}

func TestParseLineError(t *testing.T) {
	resp, ok := ParseLine("-ERR Ducker GateInterface::Attributes")
	if !ok {
		t.Fatal("expected a response")
	}
	if resp.Kind != Error {
		t.Fatalf("expected Error, got %v", resp.Kind)
	}
	if resp.ErrMessage != "Ducker GateInterface::Attributes" {
		t.Fatalf("unexpected error message: %q", resp.ErrMessage)
	}
}

func TestParseLinePublish(t *testing.T) {
	resp, ok := ParseLine("! publishToken=mm1 value=[true,false]")
	if !ok {
		t.Fatal("expected a response")
	}
	if resp.Kind != Publish {
		t.Fatalf("expected Publish, got %v", resp.Kind)
	}
	if resp.Token != "mm1" {
		t.Fatalf("unexpected token: %q", resp.Token)
	}
	bools, err := resp.Value.Bools()
	if err != nil {
		t.Fatal(err)
	}
	if len(bools) != 2 || bools[0] != true || bools[1] != false {
		t.Fatalf("unexpected bools: %v", bools)
	}
}

func TestParseLinePublishWithChannel(t *testing.T) {
	resp, ok := ParseLine("! publishToken=src2 index=3 value=-6.5")
	if !ok {
		t.Fatal("expected a response")
	}
	if resp.Channel == nil || *resp.Channel != 3 {
		t.Fatalf("unexpected channel: %v", resp.Channel)
	}
	f, err := resp.Value.Float()
	if err != nil || f != -6.5 {
		t.Fatalf("unexpected value: %v (%v)", f, err)
	}
}

func TestParseLinePreservesRaw(t *testing.T) {
	const line = `+OK "Front Left"`
	resp, ok := ParseLine(line)
	if !ok {
		t.Fatal("expected a response")
	}
	if resp.Raw != line {
		t.Fatalf("expected raw text preserved, got %q", resp.Raw)
	}
}
