package compiler

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/vida-lang/lambdac/vm"
)

// Options tunes code generation. The zero value of a field selects its
// default.
type Options struct {
	// JumpTableSpanRatio bounds the span of a switch jump table: a bucket
	// keeps growing while ratio*entries exceeds its span.
	JumpTableSpanRatio int `yaml:"jump_table_span_ratio"`
	// ConstantCacheThreshold is the number of uses of a constant, or of a
	// captured variable of an outer procedure, above which it is loaded once
	// into a local.
	ConstantCacheThreshold int `yaml:"constant_cache_threshold"`
	// HashSwitchThreshold is the number of distinct case constants from
	// which a non-integral switch dispatches through a map.
	HashSwitchThreshold int `yaml:"hash_switch_threshold"`
	// MaxRecursionDepth is the tree depth after which the compiler walks
	// continue on a fresh goroutine stack.
	MaxRecursionDepth int `yaml:"max_recursion_depth"`
	// MaxFrames bounds the call depth of compiled procedures.
	MaxFrames int `yaml:"max_frames"`
	// TailCalls honours the tail call preference of lambdas.
	TailCalls *bool `yaml:"tail_calls"`

	Logger *slog.Logger `yaml:"-"`
}

const (
	defaultJumpTableSpanRatio     = 2
	defaultConstantCacheThreshold = 2
	defaultHashSwitchThreshold    = 7
	defaultMaxRecursionDepth      = 2000
)

// DefaultOptions returns the options Compile uses.
func DefaultOptions() Options {
	var o Options
	o.setDefaults()
	return o
}

func (o *Options) setDefaults() {
	if o.JumpTableSpanRatio <= 0 {
		o.JumpTableSpanRatio = defaultJumpTableSpanRatio
	}
	if o.ConstantCacheThreshold <= 0 {
		o.ConstantCacheThreshold = defaultConstantCacheThreshold
	}
	if o.HashSwitchThreshold <= 0 {
		o.HashSwitchThreshold = defaultHashSwitchThreshold
	}
	if o.MaxRecursionDepth <= 0 {
		o.MaxRecursionDepth = defaultMaxRecursionDepth
	}
	if o.MaxFrames <= 0 {
		o.MaxFrames = vm.DefaultMaxFrames
	}
	if o.TailCalls == nil {
		on := true
		o.TailCalls = &on
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
}

func (o *Options) tailCalls() bool { return o.TailCalls != nil && *o.TailCalls }

// ParseOptions decodes options from a YAML document. Unknown keys are
// rejected.
func ParseOptions(data []byte) (Options, error) {
	var o Options
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&o); err != nil && err != io.EOF {
		return Options{}, fmt.Errorf("parsing options: %w", err)
	}
	o.setDefaults()
	return o, nil
}

// LoadOptions reads options from a YAML file.
func LoadOptions(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("reading options file: %w", err)
	}
	return ParseOptions(data)
}
