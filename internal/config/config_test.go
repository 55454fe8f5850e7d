package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "gdoper.toml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Validate(Default()))
}

func TestLoad_LayersOverDefaults(t *testing.T) {
	p := write(t, `
[data]
input = "flight.csv"

[sampling]
period_seconds = 2.5

[fov]
strategy = "horizon-mask"

[remote]
stations = ["abmf", "zim2"]

[calculations]
list = ["dop", "sats-in-view"]
`)
	cfg, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, "flight.csv", cfg.Data.Input)
	assert.Equal(t, "rinex", cfg.Data.CacheRoot)
	assert.Equal(t, 2.5, cfg.Sampling.PeriodSeconds)
	assert.Equal(t, "horizon-mask", cfg.FOV.Strategy)
	assert.Equal(t, 5.0, cfg.FOV.MaskAngleDeg)
	assert.Equal(t, []string{"abmf", "zim2"}, cfg.Remote.Stations)
	assert.Equal(t, "brdc", cfg.Remote.FallbackStation)
	assert.Equal(t, 10, cfg.Remote.MaxAttempts)
	assert.Equal(t, []string{"dop", "sats-in-view"}, cfg.Calculations.List)
	assert.Equal(t, "Height", cfg.Channels.Altitude)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"period":   "[sampling]\nperiod_seconds = 0\n",
		"station":  "[remote]\nstations = [\"toolong\"]\n",
		"attempts": "[remote]\nmax_attempts = 0\n",
		"scheme":   "[remote]\nscheme = \"gopher\"\n",
		"ftp":      "[remote]\nscheme = \"ftp\"\n",
		"calcs":    "[calculations]\nlist = []\n",
		"mask":     "[fov]\nmask_angle_deg = 90.0\n",
		"level":    "[logging]\nlevel = \"trace\"\n",
		"syntax":   "[sampling\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(write(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoad_ExampleFileMatchesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "gdoper.toml"))
	require.NoError(t, err)

	want := Default()
	want.Data.Input = "Pos_UTC.csv"
	assert.Empty(t, cfg.Remote.Stations)
	cfg.Remote.Stations = nil
	assert.Equal(t, want, cfg)
}
