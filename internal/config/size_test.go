package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSize(t *testing.T) {
	cases := map[string]int64{
		"512":   512,
		"512B":  512,
		"64k":   64 * 1000,
		"64KiB": 64 * 1024,
		"10M":   10 * 1000 * 1000,
		"10MiB": 10 * 1024 * 1024,
		"1gb":   1000 * 1000 * 1000,
	}
	for raw, want := range cases {
		got, err := ParseSize(raw)
		require.NoError(t, err, raw)
		require.Equal(t, want, got, raw)
	}
}

func TestParseSize_Invalid(t *testing.T) {
	for _, raw := range []string{"", "abc", "-5", "0", "12XB"} {
		_, err := ParseSize(raw)
		require.Error(t, err, raw)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, 200, cfg.PageSize)
	require.False(t, cfg.DeleteUponConversion)
	require.False(t, cfg.SharePrivateWithParent)
	require.False(t, cfg.ScopeParentIDsSet)
	require.Equal(t, []string{KindFiles, KindNotes}, cfg.Kinds)
}
