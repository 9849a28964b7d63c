package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	kafka "github.com/segmentio/kafka-go"

	appconfig "markflow/config"
	"markflow/internal/metrics"
	"markflow/logger"
	"markflow/models"
)

// EventWriter forwards risk events to the kafka topic consumed by the trading
// ledger. Messages are keyed by position id; all events for one position land
// on the same partition in emit order.
type EventWriter struct {
	config    *appconfig.Config
	eventChan <-chan models.RiskEvent
	writer    *kafka.Writer
	ctx       context.Context
	wg        *sync.WaitGroup
	mu        sync.RWMutex
	running   bool
	log       *logger.Log

	written      int64
	bytesWritten int64
	errorsCount  int64
}

// NewEventWriter validates the broker configuration and prepares the kafka
// writer. Every in-sync replica must acknowledge before an event counts as
// delivered.
func NewEventWriter(cfg *appconfig.Config, eventChan <-chan models.RiskEvent) (*EventWriter, error) {
	if len(cfg.Storage.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	if cfg.Storage.Kafka.Topic == "" {
		return nil, fmt.Errorf("kafka topic not configured")
	}
	ew := &EventWriter{
		config:    cfg,
		eventChan: eventChan,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Storage.Kafka.Brokers...),
			Topic:        cfg.Storage.Kafka.Topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
		wg:  &sync.WaitGroup{},
		log: logger.GetLogger(),
	}
	ew.log.WithComponent("event_writer").WithFields(logger.Fields{
		"brokers": cfg.Storage.Kafka.Brokers,
		"topic":   cfg.Storage.Kafka.Topic,
	}).Debug("event writer initialized")
	return ew, nil
}

func (ew *EventWriter) Start(ctx context.Context) error {
	ew.mu.Lock()
	if ew.running {
		ew.mu.Unlock()
		return fmt.Errorf("event writer already running")
	}
	ew.running = true
	ew.ctx = ctx
	ew.mu.Unlock()

	ew.log.WithComponent("event_writer").Debug("starting event writer")

	ew.wg.Add(1)
	go ew.run()

	ew.wg.Add(1)
	go ew.metricsLoop()

	return nil
}

func (ew *EventWriter) run() {
	defer ew.wg.Done()

	for {
		select {
		case <-ew.ctx.Done():
			return
		case event, ok := <-ew.eventChan:
			if !ok {
				return
			}
			ew.publish(event)
		}
	}
}

func (ew *EventWriter) publish(event models.RiskEvent) {
	msg, err := eventMessage(event)
	if err != nil {
		atomic.AddInt64(&ew.errorsCount, 1)
		ew.log.WithComponent("event_writer").WithError(err).Warn("failed to marshal event")
		return
	}
	if err := ew.writer.WriteMessages(ew.ctx, msg); err != nil {
		atomic.AddInt64(&ew.errorsCount, 1)
		ew.log.WithComponent("event_writer").WithError(err).WithFields(logger.Fields{
			"event_id": event.EventID,
			"kind":     string(event.Kind),
		}).Warn("failed to write event")
		return
	}
	atomic.AddInt64(&ew.written, 1)
	atomic.AddInt64(&ew.bytesWritten, int64(len(msg.Value)))
	ew.log.WithComponent("event_writer").WithFields(logger.Fields{
		"event_id":         event.EventID,
		"kind":             string(event.Kind),
		"position_id":      event.PositionID,
		"snapshot_version": event.SnapshotVersion,
	}).Debug("event written to kafka")
}

// eventMessage builds the kafka message for one risk event. The position id
// is the partition key and the emit time becomes the broker timestamp.
func eventMessage(event models.RiskEvent) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(event.PositionID),
		Value: data,
		Time:  event.EmittedAt,
	}, nil
}

func (ew *EventWriter) metricsLoop() {
	defer ew.wg.Done()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ew.ctx.Done():
			return
		case <-ticker.C:
			metrics.ReportWriter(ew.log, "event_writer", metrics.WriterStats{
				BatchesWritten: atomic.LoadInt64(&ew.written),
				BytesWritten:   atomic.LoadInt64(&ew.bytesWritten),
				ErrorsCount:    atomic.LoadInt64(&ew.errorsCount),
				QueueLen:       len(ew.eventChan),
				QueueCap:       cap(ew.eventChan),
			})
		}
	}
}

func (ew *EventWriter) Stop() {
	ew.mu.Lock()
	ew.running = false
	ew.mu.Unlock()

	ew.log.WithComponent("event_writer").Debug("stopping event writer")
	ew.writer.Close()
	ew.wg.Wait()
	ew.log.WithComponent("event_writer").Debug("event writer stopped")
}
