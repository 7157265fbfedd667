package model

import "time"

// FilterConfig holds acceptance thresholds shared read-only by every source.
type FilterConfig struct {
	MinLiquidity   float64 `json:"min_liquidity_sol"`
	MinVolume      float64 `json:"min_volume_sol"`
	VolumeWindowMs int64   `json:"volume_timeframe_ms"`
}

// DefaultFilterConfig returns the reference thresholds.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		MinLiquidity:   10_000,
		MinVolume:      50,
		VolumeWindowMs: 1_000,
	}
}

// VolumeWindow returns the volume window as a duration.
func (f FilterConfig) VolumeWindow() time.Duration {
	return time.Duration(f.VolumeWindowMs) * time.Millisecond
}
