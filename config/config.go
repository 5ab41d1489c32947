// Package config loads regvm run settings from TOML.
//
//	ticks = 100000
//	verbose = false
//
//	[limits]
//	stack_size = 4194304
//	frames = 4000
package config

import (
	"errors"
	"io"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/ezrec/regvm/cpu"
	"github.com/ezrec/regvm/emulator"
	"github.com/ezrec/regvm/translate"
)

var f = translate.From

var (
	ErrUnknownKey = errors.New(f("unknown configuration key"))
	ErrLimits     = errors.New(f("invalid limits"))
)

// Config is a run configuration.
type Config struct {
	Limits  cpu.Limits `toml:"limits"`  // Stack and recursion limits.
	Ticks   int        `toml:"ticks"`   // Tick budget; zero for none.
	Verbose bool       `toml:"verbose"` // Verbose logging.
}

// Default returns the configuration used when no file is given.
func Default() (cfg Config) {
	cfg = Config{
		Limits: cpu.DefaultLimits(),
	}
	return
}

// Decode reads a configuration, starting from the defaults.
func Decode(input io.Reader) (cfg Config, err error) {
	cfg = Default()

	data, err := io.ReadAll(input)
	if err != nil {
		return
	}

	meta, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return
	}

	if undecoded := meta.Undecoded(); len(undecoded) != 0 {
		keys := make([]string, len(undecoded))
		for n, key := range undecoded {
			keys[n] = key.String()
		}
		err = errors.Join(ErrUnknownKey, errors.New(strings.Join(keys, ", ")))
		return
	}

	err = cfg.Validate()
	return
}

// Load reads a configuration file.
func Load(path string) (cfg Config, err error) {
	inf, err := os.Open(path)
	if err != nil {
		return
	}
	defer inf.Close()

	cfg, err = Decode(inf)
	if err != nil {
		err = errors.Join(errors.New(path), err)
		return
	}

	return
}

// Validate checks the limits are usable.
func (cfg Config) Validate() (err error) {
	if cfg.Limits.Frames <= 0 || cfg.Limits.StackSize == 0 || cfg.Ticks < 0 {
		err = ErrLimits
	}
	return
}

// Apply sets up an emulator for the configured run.
func (cfg Config) Apply(emu *emulator.Emulator) {
	emu.Limits = cfg.Limits
	emu.MaxTicks = cfg.Ticks
	emu.Verbose = emu.Verbose || cfg.Verbose
}
