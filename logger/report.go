package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	errorsFeed    int64
	errorsEngine  int64
	errorsRisk    int64
	warnsFeed     int64
	warnsEngine   int64
	warnsRisk     int64
	samplesOK     int64
	samplesBad    int64
	cyclesRun     int64
	cyclesFailed  int64
	published     int64
	fallbacks     int64
	riskEvents    int64
	archiveWrites int64
	channels      sync.Map // map[string]*channelStat
)

func recordWarn(component string) {
	switch {
	case strings.Contains(component, "reader"):
		atomic.AddInt64(&warnsFeed, 1)
	case strings.Contains(component, "risk"):
		atomic.AddInt64(&warnsRisk, 1)
	default:
		atomic.AddInt64(&warnsEngine, 1)
	}
}

func recordError(component string) {
	switch {
	case strings.Contains(component, "reader"):
		atomic.AddInt64(&errorsFeed, 1)
	case strings.Contains(component, "risk"):
		atomic.AddInt64(&errorsRisk, 1)
	default:
		atomic.AddInt64(&errorsEngine, 1)
	}
}

func IncrementSampleAccepted() {
	atomic.AddInt64(&samplesOK, 1)
}

func IncrementSampleRejected() {
	atomic.AddInt64(&samplesBad, 1)
}

func IncrementCycle(failed bool) {
	atomic.AddInt64(&cyclesRun, 1)
	if failed {
		atomic.AddInt64(&cyclesFailed, 1)
	}
}

func IncrementPublication(fallback bool) {
	atomic.AddInt64(&published, 1)
	if fallback {
		atomic.AddInt64(&fallbacks, 1)
	}
}

func IncrementRiskEvent() {
	atomic.AddInt64(&riskEvents, 1)
}

func IncrementArchiveWrite(size int64) {
	atomic.AddInt64(&archiveWrites, 1)
	recordChannel("archive_write", int(size))
}

func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// StartReport begins periodic logging of system and engine statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")
	netStats, _ := gnet.IOCounters(false)
	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		name := k.(string)
		cs := v.(*channelStat)
		channelData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	fields := Fields{
		"errors_feed":         atomic.LoadInt64(&errorsFeed),
		"errors_engine":       atomic.LoadInt64(&errorsEngine),
		"errors_risk":         atomic.LoadInt64(&errorsRisk),
		"warns_feed":          atomic.LoadInt64(&warnsFeed),
		"warns_engine":        atomic.LoadInt64(&warnsEngine),
		"warns_risk":          atomic.LoadInt64(&warnsRisk),
		"samples_accepted":    atomic.LoadInt64(&samplesOK),
		"samples_rejected":    atomic.LoadInt64(&samplesBad),
		"cycles":              atomic.LoadInt64(&cyclesRun),
		"cycles_failed":       atomic.LoadInt64(&cyclesFailed),
		"snapshots_published": atomic.LoadInt64(&published),
		"fallbacks":           atomic.LoadInt64(&fallbacks),
		"risk_events":         atomic.LoadInt64(&riskEvents),
		"archive_writes":      atomic.LoadInt64(&archiveWrites),
		"goroutines":          runtime.NumGoroutine(),
		"cpu_percent":         cpuPct,
		"memory_mb":           int64(memStats.Used) / 1024 / 1024,
		"disk_mb":             int64(diskStats.Used) / 1024 / 1024,
		"channels":            channelData,
		"net_bytes_sent":      int64(bytesSent),
		"net_bytes_recv":      int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("SamplesAccepted"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["samples_accepted"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("SamplesRejected"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["samples_rejected"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("Cycles"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["cycles"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("CyclesFailed"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["cycles_failed"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("SnapshotsPublished"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["snapshots_published"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("FallbackPublications"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["fallbacks"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("RiskEvents"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["risk_events"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("ArchiveWrites"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["archive_writes"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range channelData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("ChannelBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
