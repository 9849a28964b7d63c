package channel

import (
	"context"
	"sync"
	"time"

	"markflow/logger"
	"markflow/models"
)

// ChannelStats tracks enqueue/dropped counters for the engine output streams.
type ChannelStats struct {
	SnapshotsSent    int64
	SnapshotsDropped int64
	EventsSent       int64
	EventsDropped    int64
}

// Channels exposes the buffered streams connecting the engine to downstream
// consumers. Snapshots carries every published mark price for fan-out to the
// archiver and dashboard; Events carries risk events toward the broker writer.
type Channels struct {
	Snapshots chan models.MarkPriceSnapshot
	Events    chan models.RiskEvent

	stats ChannelStats
	mu    sync.RWMutex
	log   *logger.Log
}

// NewChannels allocates the buffered output channels.
func NewChannels(snapshotBufferSize, eventBufferSize int) *Channels {
	log := logger.GetLogger()
	ch := &Channels{
		Snapshots: make(chan models.MarkPriceSnapshot, snapshotBufferSize),
		Events:    make(chan models.RiskEvent, eventBufferSize),
		log:       log,
	}

	log.WithComponent("channels").WithFields(logger.Fields{
		"snapshot_buffer_size": snapshotBufferSize,
		"event_buffer_size":    eventBufferSize,
	}).Info("output channels initialized")

	return ch
}

// Close closes both output channels.
func (c *Channels) Close() {
	close(c.Snapshots)
	close(c.Events)
	c.log.WithComponent("channels").Info("output channels closed")
}

// SendSnapshot enqueues a published snapshot for fan-out consumers. The send
// never blocks the publication path; a full buffer drops the message and the
// caller decides whether to record the drop.
func (c *Channels) SendSnapshot(ctx context.Context, snap models.MarkPriceSnapshot) bool {
	select {
	case c.Snapshots <- snap:
		c.incrementSnapshotsSent()
		return true
	case <-ctx.Done():
		return false
	default:
		c.incrementSnapshotsDropped()
		return false
	}
}

// SendEvent enqueues a risk event for the event writer.
func (c *Channels) SendEvent(ctx context.Context, event models.RiskEvent) bool {
	select {
	case c.Events <- event:
		c.incrementEventsSent()
		return true
	case <-ctx.Done():
		return false
	default:
		c.incrementEventsDropped()
		return false
	}
}

// GetStats returns a snapshot of the telemetry counters.
func (c *Channels) GetStats() ChannelStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// StartMetricsReporting logs channel counters every interval until the context
// is cancelled. When interval <= 0, a thirty-second cadence is used.
func (c *Channels) StartMetricsReporting(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := c.GetStats()
				c.log.WithComponent("channels").WithFields(logger.Fields{
					"snapshots_sent":    stats.SnapshotsSent,
					"snapshots_dropped": stats.SnapshotsDropped,
					"events_sent":       stats.EventsSent,
					"events_dropped":    stats.EventsDropped,
					"snapshots_len":     len(c.Snapshots),
					"events_len":        len(c.Events),
				}).Info("channel stats")
			}
		}
	}()
}

func (c *Channels) incrementSnapshotsSent() {
	c.mu.Lock()
	c.stats.SnapshotsSent++
	c.mu.Unlock()
}

func (c *Channels) incrementSnapshotsDropped() {
	c.mu.Lock()
	c.stats.SnapshotsDropped++
	c.mu.Unlock()
}

func (c *Channels) incrementEventsSent() {
	c.mu.Lock()
	c.stats.EventsSent++
	c.mu.Unlock()
}

func (c *Channels) incrementEventsDropped() {
	c.mu.Lock()
	c.stats.EventsDropped++
	c.mu.Unlock()
}
