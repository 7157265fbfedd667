package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"ammscope/internal/chain"
	"ammscope/internal/model"
)

// Config holds configuration values loaded from flags, env, or config file.
// It is immutable once loaded.
type Config struct {
	Pools []model.PoolProgram
	// PoolsConfigured is false when Pools holds the built-in defaults.
	PoolsConfigured bool

	Filter          model.FilterConfig
	TickInterval    time.Duration
	ChannelCapacity int
	LatencyBudget   time.Duration
	ConnectTimeout  time.Duration
	ProbeTimeout    time.Duration
	DisplayRows     int
	RefreshInterval time.Duration
	MetricsAddr     string
	Tape            string
	PgDSN           string
	Listen          string
	LogLevel        string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("AMMSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	defaults := model.DefaultFilterConfig()
	v.SetDefault("min-liquidity", defaults.MinLiquidity)
	v.SetDefault("min-volume", defaults.MinVolume)
	v.SetDefault("volume-window", defaults.VolumeWindow())
	v.SetDefault("tick-interval", 100*time.Millisecond)
	v.SetDefault("channel-capacity", 64)
	v.SetDefault("latency-budget", time.Millisecond)
	v.SetDefault("connect-timeout", 10*time.Second)
	v.SetDefault("probe-timeout", 5*time.Second)
	v.SetDefault("display-rows", 20)
	v.SetDefault("refresh-interval", 500*time.Millisecond)
	v.SetDefault("listen", ":10101")
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	pools, configured, err := loadPools(v)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Pools:           pools,
		PoolsConfigured: configured,
		Filter: model.FilterConfig{
			MinLiquidity:   v.GetFloat64("min-liquidity"),
			MinVolume:      v.GetFloat64("min-volume"),
			VolumeWindowMs: v.GetDuration("volume-window").Milliseconds(),
		},
		TickInterval:    v.GetDuration("tick-interval"),
		ChannelCapacity: v.GetInt("channel-capacity"),
		LatencyBudget:   v.GetDuration("latency-budget"),
		ConnectTimeout:  v.GetDuration("connect-timeout"),
		ProbeTimeout:    v.GetDuration("probe-timeout"),
		DisplayRows:     v.GetInt("display-rows"),
		RefreshInterval: v.GetDuration("refresh-interval"),
		MetricsAddr:     v.GetString("metrics-addr"),
		Tape:            v.GetString("tape"),
		PgDSN:           v.GetString("pg-dsn"),
		Listen:          v.GetString("listen"),
		LogLevel:        v.GetString("log-level"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks thresholds, durations and pools.
func (c Config) Validate() error {
	if c.Filter.MinLiquidity < 0 {
		return fmt.Errorf("min-liquidity must be >= 0")
	}
	if c.Filter.MinVolume < 0 {
		return fmt.Errorf("min-volume must be >= 0")
	}
	if c.Filter.VolumeWindowMs <= 0 {
		return fmt.Errorf("volume-window must be at least 1ms")
	}
	for name, d := range map[string]time.Duration{
		"tick-interval":    c.TickInterval,
		"latency-budget":   c.LatencyBudget,
		"connect-timeout":  c.ConnectTimeout,
		"probe-timeout":    c.ProbeTimeout,
		"refresh-interval": c.RefreshInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be greater than zero", name)
		}
	}
	if c.ChannelCapacity <= 0 {
		return fmt.Errorf("channel-capacity must be greater than zero")
	}
	if c.DisplayRows <= 0 {
		return fmt.Errorf("display-rows must be greater than zero")
	}
	return ValidatePools(c.Pools)
}

// ValidatePools rejects malformed program ids, empty endpoints and duplicates.
func ValidatePools(pools []model.PoolProgram) error {
	if len(pools) == 0 {
		return fmt.Errorf("at least one pool program is required")
	}
	seen := make(map[string]struct{}, len(pools))
	for _, p := range pools {
		if _, err := chain.ParseProgramID(p.ID); err != nil {
			return fmt.Errorf("pool %q: %w", p.ID, err)
		}
		if strings.TrimSpace(p.Endpoint) == "" {
			return fmt.Errorf("pool %s: endpoint is required", p.ID)
		}
		if _, ok := seen[p.ID]; ok {
			return fmt.Errorf("pool %s: configured twice", p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return nil
}

// ParsePool parses "id@endpoint" or "id=name@endpoint". The entry is split at
// its first '@', so the endpoint may carry userinfo but the id and name may not.
func ParsePool(entry string) (model.PoolProgram, error) {
	head, endpoint, ok := strings.Cut(strings.TrimSpace(entry), "@")
	if !ok {
		return model.PoolProgram{}, fmt.Errorf("invalid pool %q: want id@endpoint or id=name@endpoint", entry)
	}
	id, name, _ := strings.Cut(head, "=")
	p := model.PoolProgram{
		ID:       strings.TrimSpace(id),
		Name:     strings.TrimSpace(name),
		Endpoint: strings.TrimSpace(endpoint),
	}
	return withName(p), nil
}

func loadPools(v *viper.Viper) ([]model.PoolProgram, bool, error) {
	if entries := getStringSlice(v, "pool"); len(entries) > 0 {
		pools := make([]model.PoolProgram, 0, len(entries))
		for _, entry := range entries {
			p, err := ParsePool(entry)
			if err != nil {
				return nil, false, err
			}
			pools = append(pools, p)
		}
		return pools, true, nil
	}

	if v.IsSet("pools") {
		var pools []model.PoolProgram
		if err := v.UnmarshalKey("pools", &pools); err != nil {
			return nil, false, fmt.Errorf("parse pools: %w", err)
		}
		for i := range pools {
			pools[i].ID = strings.TrimSpace(pools[i].ID)
			pools[i].Endpoint = strings.TrimSpace(pools[i].Endpoint)
			pools[i] = withName(pools[i])
		}
		if len(pools) > 0 {
			return pools, true, nil
		}
	}

	return model.DefaultPoolPrograms(), false, nil
}

func withName(p model.PoolProgram) model.PoolProgram {
	if p.Name != "" {
		return p
	}
	if name, ok := model.KnownProgramName(p.ID); ok {
		p.Name = name
		return p
	}
	p.Name = p.ShortID()
	return p
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
