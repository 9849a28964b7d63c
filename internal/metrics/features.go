package metrics

import (
	"strings"
	"sync/atomic"

	"markflow/config"
)

// Feature identifies an optional metric family that can be toggled from
// configuration. Disabled features suppress their metrics in EmitMetric.
type Feature string

const (
	// FeatureChannelStats covers buffer occupancy gauges for internal channels.
	FeatureChannelStats Feature = "channel_stats"
	// FeatureSourceHealth covers per-source staleness and freshness gauges.
	FeatureSourceHealth Feature = "source_health"
)

type featureState struct {
	channelStats bool
	sourceHealth bool
}

var features atomic.Pointer[featureState]

func init() {
	features.Store(&featureState{channelStats: true, sourceHealth: true})
}

// Configure applies the metrics section of the configuration.
func Configure(cfg config.MetricsConfig) {
	features.Store(&featureState{
		channelStats: cfg.ChannelStats,
		sourceHealth: cfg.SourceHealth,
	})
}

// IsFeatureEnabled reports whether the given metric feature is active.
func IsFeatureEnabled(feature Feature) bool {
	state := features.Load()
	if state == nil {
		return true
	}

	switch feature {
	case FeatureChannelStats:
		return state.channelStats
	case FeatureSourceHealth:
		return state.sourceHealth
	default:
		return true
	}
}

// featureForMetric maps a metric name to the feature that owns it, if any.
// Metrics outside every feature family are always emitted.
func featureForMetric(name string) (Feature, bool) {
	switch {
	case strings.HasSuffix(name, "_buffer_length"):
		return FeatureChannelStats, true
	case strings.HasPrefix(name, "source_"):
		return FeatureSourceHealth, true
	}
	return "", false
}
