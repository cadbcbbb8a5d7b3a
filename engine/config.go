// Package engine implements the execution engine (spec §4.11): an immutable
// configuration chain, template-string command assembly via the Escaper, and
// adapter dispatch by tag. It is the package callers import.
package engine

import (
	"time"

	"github.com/aledsdavies/xrun/mask"
)

// MaskingConfig mirrors mask.Masker's construction knobs as a serializable
// record (spec §6's sensitiveDataMasking option), so a Config can come from
// an external loader (YAML, flags) without that loader importing the mask
// package directly.
type MaskingConfig struct {
	Enabled     bool
	Patterns    []mask.Pattern
	Replacement string
}

// Config is the engine's recognized-options record (spec §6): default
// timeout, working directory, environment, shell, encoding, buffer cap,
// throw-on-nonzero, and masking. It is built with functional options,
// mirroring the pack's decorator parameter-builder idiom, and is itself a
// plain, serializable struct — the documented surface an external
// configuration loader would populate.
type Config struct {
	DefaultTimeout     time.Duration
	DefaultCwd         string
	DefaultEnv         map[string]string
	DefaultShellPath   string // empty means "default shell for host family"
	Encoding           string
	MaxBuffer          int64
	ThrowOnNonZeroExit bool
	Masking            MaskingConfig
}

// Option configures a Config at construction time.
type Option func(*Config)

// WithDefaultTimeout sets the timeout applied to every command that doesn't
// override it via the chain's timeout(n) method.
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *Config) { c.DefaultTimeout = d }
}

// WithDefaultCwd sets the working directory every command runs in unless
// overridden.
func WithDefaultCwd(dir string) Option {
	return func(c *Config) { c.DefaultCwd = dir }
}

// WithDefaultEnv sets the base environment overlay merged under any
// per-command env() overlay.
func WithDefaultEnv(env map[string]string) Option {
	return func(c *Config) {
		c.DefaultEnv = make(map[string]string, len(env))
		for k, v := range env {
			c.DefaultEnv[k] = v
		}
	}
}

// WithDefaultShellPath sets the shell every command runs through by default.
// An empty path means "no default shell — exec directly unless shell() is
// chained".
func WithDefaultShellPath(path string) Option {
	return func(c *Config) { c.DefaultShellPath = path }
}

// WithEncoding sets the text encoding stdout/stderr are decoded with.
func WithEncoding(name string) Option {
	return func(c *Config) { c.Encoding = name }
}

// WithMaxBuffer bounds captured stdout/stderr size; 0 means unbounded.
func WithMaxBuffer(n int64) Option {
	return func(c *Config) { c.MaxBuffer = n }
}

// WithThrowOnNonZeroExit sets whether a nonzero exit raises an error by
// default (spec §4.4); a per-command nothrow() always overrides this.
func WithThrowOnNonZeroExit(b bool) Option {
	return func(c *Config) { c.ThrowOnNonZeroExit = b }
}

// WithMasking configures sensitive-data masking (spec §4.3).
func WithMasking(m MaskingConfig) Option {
	return func(c *Config) { c.Masking = m }
}

// defaultConfig is applied before any caller-supplied options.
func defaultConfig() Config {
	return Config{
		DefaultEnv:         map[string]string{},
		ThrowOnNonZeroExit: true,
		Masking:            MaskingConfig{Enabled: true, Replacement: mask.DefaultReplacement},
	}
}

// newConfig builds a Config from defaults plus opts.
func newConfig(opts ...Option) Config {
	c := defaultConfig()
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// masker builds the mask.Masker this Config describes.
func (c Config) masker() *mask.Masker {
	if !c.Masking.Enabled {
		return mask.Disabled()
	}
	var opts []mask.Option
	if c.Masking.Replacement != "" {
		opts = append(opts, mask.WithReplacement(c.Masking.Replacement))
	}
	if len(c.Masking.Patterns) > 0 {
		opts = append(opts, mask.WithPatterns(c.Masking.Patterns...))
	}
	return mask.New(opts...)
}
