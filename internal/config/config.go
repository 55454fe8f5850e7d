// Package config handles loading, defaulting, and validation of the gdoper
// TOML configuration file. Every section maps to a typed struct so the rest
// of the codebase gets strong typing without manual key lookups.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config is the top-level configuration, mirroring the TOML sections.
type Config struct {
	Data         DataConfig         `toml:"data"         json:"data"`
	Logging      LoggingConfig      `toml:"logging"      json:"logging"`
	Server       ServerConfig       `toml:"server"       json:"server"`
	Sampling     SamplingConfig     `toml:"sampling"     json:"sampling"`
	FOV          FOVConfig          `toml:"fov"          json:"fov"`
	Calculations CalculationsConfig `toml:"calculations" json:"calculations"`
	Remote       RemoteConfig       `toml:"remote"       json:"remote"`
	Channels     ChannelsConfig     `toml:"channels"     json:"channels"`
	Almanac      AlmanacConfig      `toml:"almanac"      json:"almanac"`
}

// DataConfig locates the run's files. An empty output is derived from the
// input name; an empty sqlite path disables the database sink.
type DataConfig struct {
	CacheRoot   string `toml:"cache_root"   json:"cache_root"`
	Input       string `toml:"input"        json:"input"`
	Output      string `toml:"output"       json:"output"`
	SQLite      string `toml:"sqlite"       json:"sqlite"`
	SQLiteTable string `toml:"sqlite_table" json:"sqlite_table"`
}

type LoggingConfig struct {
	Level string `toml:"level" json:"level"`
}

// ServerConfig controls the live progress stream. An empty bind disables it.
// LingerSeconds keeps the server up after the run so watchers see the summary.
type ServerConfig struct {
	Bind          string `toml:"bind"           json:"bind"`
	LingerSeconds int    `toml:"linger_seconds" json:"linger_seconds"`
}

type SamplingConfig struct {
	PeriodSeconds float64 `toml:"period_seconds" json:"period_seconds"`
}

type FOVConfig struct {
	Strategy     string  `toml:"strategy"       json:"strategy"`
	MaskAngleDeg float64 `toml:"mask_angle_deg" json:"mask_angle_deg"`
}

type CalculationsConfig struct {
	List []string `toml:"list" json:"list"`
}

type RemoteConfig struct {
	Scheme          string   `toml:"scheme"           json:"scheme"`
	Host            string   `toml:"host"             json:"host"`
	NavPath         string   `toml:"nav_path"         json:"nav_path"`
	Stations        []string `toml:"stations"         json:"stations"`
	FallbackStation string   `toml:"fallback_station" json:"fallback_station"`
	MaxAttempts     int      `toml:"max_attempts"     json:"max_attempts"`
	TimeoutSeconds  int      `toml:"timeout_seconds"  json:"timeout_seconds"`
}

// ChannelsConfig names the position-log columns.
type ChannelsConfig struct {
	UTC       string `toml:"utc"       json:"utc"`
	Latitude  string `toml:"lat"       json:"lat"`
	Longitude string `toml:"lon"       json:"lon"`
	Altitude  string `toml:"alt"       json:"alt"`
	Visible   string `toml:"visible"   json:"visible"`
	Timestamp string `toml:"timestamp" json:"timestamp"`
}

type AlmanacConfig struct {
	TLEURL          string  `toml:"tle_url"           json:"tle_url"`
	TLERefreshHours int     `toml:"tle_refresh_hours" json:"tle_refresh_hours"`
	StepSeconds     int     `toml:"step_seconds"      json:"step_seconds"`
	MinElevation    float64 `toml:"min_elevation"     json:"min_elevation"`
}

// Default returns a Config populated with sane defaults. Values here are
// used whenever the TOML file omits a field.
func Default() Config {
	return Config{
		Data: DataConfig{
			CacheRoot:   "rinex",
			SQLiteTable: "dop",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Server: ServerConfig{
			LingerSeconds: 2,
		},
		Sampling: SamplingConfig{
			PeriodSeconds: 5,
		},
		FOV: FOVConfig{
			Strategy:     "view-match",
			MaskAngleDeg: 5,
		},
		Calculations: CalculationsConfig{
			List: []string{"dop"},
		},
		Remote: RemoteConfig{
			Scheme:          "https",
			Host:            "gssc.esa.int",
			NavPath:         "/gnss/data/daily/",
			FallbackStation: "brdc",
			MaxAttempts:     10,
			TimeoutSeconds:  30,
		},
		Channels: ChannelsConfig{
			UTC:       "UTC_Time",
			Latitude:  "Latitude",
			Longitude: "Longitude",
			Altitude:  "Height",
			Visible:   "ns",
			Timestamp: "Timestamp",
		},
		Almanac: AlmanacConfig{
			TLEURL:          "https://celestrak.org/NORAD/elements/gp.php?GROUP=gps-ops&FORMAT=tle",
			TLERefreshHours: 24,
			StepSeconds:     30,
			MinElevation:    5,
		},
	}
}

// Load reads the TOML file at path, layers it on top of the defaults, and
// validates the result. An error is returned if the file can't be read,
// parsed, or if any constraint is violated.
func Load(path string) (Config, error) {
	cfg := Default()

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}

	if err := toml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}

	if err := Validate(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks the constraints Load enforces. Callers that override
// fields after loading should validate again.
func Validate(cfg Config) error {
	if cfg.Data.CacheRoot == "" {
		return errors.New("data.cache_root must not be empty")
	}
	if cfg.Data.SQLite != "" && cfg.Data.SQLiteTable == "" {
		return errors.New("data.sqlite_table must not be empty when data.sqlite is set")
	}
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info":
	default:
		return fmt.Errorf("logging.level must be debug or info, got %q", cfg.Logging.Level)
	}
	if cfg.Server.LingerSeconds < 0 {
		return errors.New("server.linger_seconds must be >= 0")
	}
	if cfg.Sampling.PeriodSeconds <= 0 {
		return errors.New("sampling.period_seconds must be > 0")
	}
	if cfg.FOV.MaskAngleDeg < 0 || cfg.FOV.MaskAngleDeg >= 90 {
		return errors.New("fov.mask_angle_deg must be between 0 and 90")
	}
	if len(cfg.Calculations.List) == 0 {
		return errors.New("calculations.list must name at least one calculation")
	}
	switch cfg.Remote.Scheme {
	case "http", "https":
	default:
		return fmt.Errorf("remote.scheme must be http or https, got %q", cfg.Remote.Scheme)
	}
	if cfg.Remote.Host == "" {
		return errors.New("remote.host must not be empty")
	}
	if len(cfg.Remote.FallbackStation) != 4 {
		return errors.New("remote.fallback_station must be a 4-character station id")
	}
	for _, st := range cfg.Remote.Stations {
		if len(st) != 4 {
			return fmt.Errorf("remote.stations: %q is not a 4-character station id", st)
		}
	}
	if cfg.Remote.MaxAttempts < 1 {
		return errors.New("remote.max_attempts must be >= 1")
	}
	if cfg.Remote.TimeoutSeconds < 1 {
		return errors.New("remote.timeout_seconds must be >= 1")
	}
	if cfg.Almanac.TLERefreshHours < 1 {
		return errors.New("almanac.tle_refresh_hours must be >= 1")
	}
	return nil
}
