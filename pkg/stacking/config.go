package stacking

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"gopkg.in/yaml.v3"
)

// Target selects the ABI variant of the frame lowering
type Target uint8

const (
	TargetELF Target = iota
	TargetDarwin
)

func (t Target) String() string {
	switch t {
	case TargetELF:
		return "elf"
	case TargetDarwin:
		return "darwin"
	default:
		return fmt.Sprintf("target(%d)", uint8(t))
	}
}

// Set parses a target name; it makes *Target usable as a command line flag
func (t *Target) Set(s string) error {
	switch strings.ToLower(s) {
	case "elf", "linux", "eabi":
		*t = TargetELF
	case "darwin", "macho", "ios":
		*t = TargetDarwin
	default:
		return fmt.Errorf("unknown target %q (want elf or darwin)", s)
	}
	return nil
}

// Type names the flag value type
func (t *Target) Type() string {
	return "target"
}

func (t Target) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *Target) UnmarshalText(b []byte) error {
	return t.Set(string(b))
}

// Thresholds bound the length of direct immediate sequences before the
// planner switches to materializing the constant in a register.
type Thresholds struct {
	SPDest int `yaml:"sp_dest"` // destination is sp
	Other  int `yaml:"other"`   // any other destination
	Inline int `yaml:"inline"`  // split of an out of range tADDrSPi
}

// Config is the per-compilation configuration of frame lowering
type Config struct {
	Target Target `yaml:"target"`

	// EnableRegScavenging is the hidden switch reported by
	// RequiresRegisterScavenging. Lowering itself never scavenges.
	EnableRegScavenging bool `yaml:"enable_reg_scavenging"`

	// DisableFramePointerElim forces a frame pointer in every function
	DisableFramePointerElim bool `yaml:"disable_fp_elim"`

	// Verify checks the encoding of every instruction after lowering
	Verify bool `yaml:"verify"`

	Thresholds Thresholds `yaml:"thresholds"`

	Logger *slog.Logger `yaml:"-"`
}

// DefaultConfig returns the configuration used when nothing is specified
func DefaultConfig() Config {
	return Config{
		Target: TargetELF,
		Thresholds: Thresholds{
			SPDest: 3,
			Other:  2,
			Inline: 2,
		},
	}
}

// LoadConfig reads a YAML configuration. Fields missing from the document
// keep their default values.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the lowering cannot work with
func (c Config) Validate() error {
	if c.Target != TargetELF && c.Target != TargetDarwin {
		return fmt.Errorf("config: unknown target %s", c.Target)
	}
	th := c.Thresholds
	if th.SPDest < 1 || th.Other < 1 || th.Inline < 1 {
		return fmt.Errorf("config: thresholds must be positive, got %+v", th)
	}
	return nil
}

func (c Config) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.Logger
}
