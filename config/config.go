// Package config holds the pipeline configuration. Files use TOML;
// defaults come from Default and the CLI maps its flags over them.
package config

import (
	"fmt"
	"os"

	"github.com/naoina/toml"
)

// Config is the pipeline configuration.
type Config struct {
	// Arch selects the ABI table: "x86", "x86-64", "aarch64", "arm",
	// "mips", "powerpc".
	Arch string
	// CallConv narrows the convention where the architecture has
	// several: "cdecl", "stdcall", "fastcall", "watcom", "sysv",
	// "microsoft". Empty means the architecture default.
	CallConv string

	// RDAIterationCap bounds the reaching-definitions worklist per
	// function; beyond it the analysis reports failure and the
	// function is handled conservatively.
	RDAIterationCap int

	// TypeInfoPath is an optional YAML file of external function
	// declarations.
	TypeInfoPath string

	// DumpEntries deep-dumps param/return dataflow entries while
	// running.
	DumpEntries bool

	// Verbosity is the legacy log level (0=crit .. 5=trace).
	Verbosity int
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Arch:            "aarch64",
		RDAIterationCap: 1000,
		Verbosity:       3,
	}
}

// Load reads a TOML configuration file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	defer f.Close()
	if err := toml.NewDecoder(f).Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}
