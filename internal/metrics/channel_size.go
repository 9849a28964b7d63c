package metrics

import (
	"context"
	"time"

	"markflow/internal/channel"
	"markflow/logger"
)

// StartChannelSizeMetrics emits occupancy metrics for the snapshot and event
// channel buffers. Metrics are logged every `interval` until the context is
// cancelled. When interval <= 0, a one-second cadence is used.
func StartChannelSizeMetrics(ctx context.Context, channels *channel.Channels, interval time.Duration) {
	if !IsFeatureEnabled(FeatureChannelStats) {
		return
	}
	if channels == nil {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}

	log := logger.GetLogger()
	ticker := time.NewTicker(interval)
	component := "channel_buffers"

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				EmitMetric(log, component, "snapshots_buffer_length", len(channels.Snapshots), "gauge", logger.Fields{
					"buffer":   "snapshots",
					"capacity": cap(channels.Snapshots),
				})
				EmitMetric(log, component, "events_buffer_length", len(channels.Events), "gauge", logger.Fields{
					"buffer":   "events",
					"capacity": cap(channels.Events),
				})
			}
		}
	}()
}
