package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aledsdavies/xrun/mask"
)

func TestDefaultConfig_ThrowsOnNonZeroAndMasksByDefault(t *testing.T) {
	c := defaultConfig()
	require.True(t, c.ThrowOnNonZeroExit)
	require.True(t, c.Masking.Enabled)
	require.Equal(t, mask.DefaultReplacement, c.Masking.Replacement)
}

func TestNewConfig_AppliesOptionsOverDefaults(t *testing.T) {
	c := newConfig(
		WithDefaultTimeout(5*time.Second),
		WithDefaultCwd("/srv/app"),
		WithDefaultEnv(map[string]string{"ENV": "prod"}),
		WithEncoding("utf-8"),
		WithMaxBuffer(1<<20),
		WithThrowOnNonZeroExit(false),
	)
	require.Equal(t, 5*time.Second, c.DefaultTimeout)
	require.Equal(t, "/srv/app", c.DefaultCwd)
	require.Equal(t, "prod", c.DefaultEnv["ENV"])
	require.Equal(t, "utf-8", c.Encoding)
	require.Equal(t, int64(1<<20), c.MaxBuffer)
	require.False(t, c.ThrowOnNonZeroExit)
}

func TestWithDefaultEnv_CopiesRatherThanAliases(t *testing.T) {
	src := map[string]string{"A": "1"}
	c := newConfig(WithDefaultEnv(src))
	src["A"] = "mutated"
	require.Equal(t, "1", c.DefaultEnv["A"])
}

func TestConfig_MaskerDisabledWhenMaskingDisabled(t *testing.T) {
	c := newConfig(WithMasking(MaskingConfig{Enabled: false}))
	m := c.masker()
	require.Equal(t, "secret", m.Mask("secret"))
}

func TestConfig_MaskerUsesCustomReplacement(t *testing.T) {
	c := newConfig(WithMasking(MaskingConfig{Enabled: true, Replacement: "[hidden]"}))
	m := c.masker()
	masked := m.Mask("AWS_SECRET_ACCESS_KEY=abcd1234abcd1234abcd1234abcd1234abcd1234")
	require.Contains(t, masked, "[hidden]")
}
