package compiler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/vida-lang/lambdac/vm"
)

func TestParseOptions(t *testing.T) {
	o, err := ParseOptions([]byte("max_frames: 100\nhash_switch_threshold: 3\ntail_calls: false\n"))
	if err != nil {
		t.Fatal(err)
	}
	if o.MaxFrames != 100 || o.HashSwitchThreshold != 3 {
		t.Fatalf("got %+v", o)
	}
	if o.tailCalls() {
		t.Fatal("tail_calls: false ignored")
	}
	if o.JumpTableSpanRatio != defaultJumpTableSpanRatio || o.Logger == nil {
		t.Fatalf("defaults not applied: %+v", o)
	}
}

func TestParseOptionsDefaults(t *testing.T) {
	o, err := ParseOptions(nil)
	if err != nil {
		t.Fatal(err)
	}
	d := DefaultOptions()
	if o.MaxFrames != vm.DefaultMaxFrames || o.MaxRecursionDepth != d.MaxRecursionDepth ||
		o.ConstantCacheThreshold != d.ConstantCacheThreshold || !o.tailCalls() {
		t.Fatalf("got %+v", o)
	}
}

func TestParseOptionsRejectsUnknownKeys(t *testing.T) {
	for _, doc := range []string{
		"max_frame: 10\n",
		"jump_table_span_ratio: many\n",
		"- 1\n",
	} {
		if _, err := ParseOptions([]byte(doc)); err == nil {
			t.Errorf("%q accepted", doc)
		}
	}
}

func TestLoadOptions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lambdac.yaml")
	if err := os.WriteFile(path, []byte("constant_cache_threshold: 5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	o, err := LoadOptions(path)
	if err != nil {
		t.Fatal(err)
	}
	if o.ConstantCacheThreshold != 5 {
		t.Fatalf("got %v", o.ConstantCacheThreshold)
	}
	if _, err := LoadOptions(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("missing file accepted")
	}
}
