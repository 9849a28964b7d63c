package metrics

import (
	"context"
	"testing"
	"time"

	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"markflow/logger"
)

func TestPublishMetricDatumThrottlesToInterval(t *testing.T) {
	resetMetricPublishTimes()
	t.Cleanup(resetMetricPublishTimes)

	originalInterval := cloudWatchPublishInterval
	cloudWatchPublishInterval = 50 * time.Millisecond
	t.Cleanup(func() { cloudWatchPublishInterval = originalInterval })

	baseTime := time.Now()
	timeNow = func() time.Time { return baseTime }
	t.Cleanup(func() { timeNow = time.Now })

	batches := make([][]cwtypes.MetricDatum, 0)
	publishMetricsFunc = func(ctx context.Context, data []cwtypes.MetricDatum) {
		copyData := make([]cwtypes.MetricDatum, len(data))
		copy(copyData, data)
		batches = append(batches, copyData)
	}
	t.Cleanup(func() { publishMetricsFunc = forwardMetricData })

	metric := Metric{Component: "engine", Name: "cycles_run", Timestamp: baseTime, Fields: logger.Fields{"unit": "count"}}
	publishMetricDatum(metric, 1)

	timeNow = func() time.Time { return baseTime.Add(25 * time.Millisecond) }
	metric.Timestamp = baseTime.Add(25 * time.Millisecond)
	publishMetricDatum(metric, 2)

	if len(batches) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(batches))
	}

	if len(batches[0]) != 1 {
		t.Fatalf("expected single metric in publish, got %d", len(batches[0]))
	}

	datum := batches[0][0]
	if datum.MetricName == nil || *datum.MetricName != "cycles_run" {
		t.Fatalf("unexpected metric name: %v", datum.MetricName)
	}
	if datum.Value == nil || *datum.Value != 1 {
		t.Fatalf("unexpected metric value: %v", datum.Value)
	}
}

func TestPublishMetricDatumAllowsAfterInterval(t *testing.T) {
	resetMetricPublishTimes()
	t.Cleanup(resetMetricPublishTimes)

	originalInterval := cloudWatchPublishInterval
	cloudWatchPublishInterval = 50 * time.Millisecond
	t.Cleanup(func() { cloudWatchPublishInterval = originalInterval })

	baseTime := time.Now()
	timeNow = func() time.Time { return baseTime }
	t.Cleanup(func() { timeNow = time.Now })

	published := 0
	publishMetricsFunc = func(ctx context.Context, data []cwtypes.MetricDatum) {
		published++
	}
	t.Cleanup(func() { publishMetricsFunc = forwardMetricData })

	metric := Metric{Component: "engine", Name: "cycles_run", Timestamp: baseTime, Fields: logger.Fields{}}
	publishMetricDatum(metric, 1)

	timeNow = func() time.Time { return baseTime.Add(60 * time.Millisecond) }
	publishMetricDatum(metric, 2)

	if published != 2 {
		t.Fatalf("expected 2 publishes after interval elapsed, got %d", published)
	}
}

func TestPublishMetricDatumSeparateSeries(t *testing.T) {
	resetMetricPublishTimes()
	t.Cleanup(resetMetricPublishTimes)

	baseTime := time.Now()
	timeNow = func() time.Time { return baseTime }
	t.Cleanup(func() { timeNow = time.Now })

	published := 0
	publishMetricsFunc = func(ctx context.Context, data []cwtypes.MetricDatum) {
		published++
	}
	t.Cleanup(func() { publishMetricsFunc = forwardMetricData })

	publishMetricDatum(Metric{Component: "engine", Name: "cycles_run", Fields: logger.Fields{}}, 1)
	publishMetricDatum(Metric{Component: "engine", Name: "cycles_failed", Fields: logger.Fields{}}, 1)

	if published != 2 {
		t.Fatalf("expected independent throttling per series, got %d publishes", published)
	}
}

func TestPublishMetricDatumDimensions(t *testing.T) {
	resetMetricPublishTimes()
	t.Cleanup(resetMetricPublishTimes)

	var captured []cwtypes.MetricDatum
	publishMetricsFunc = func(ctx context.Context, data []cwtypes.MetricDatum) {
		captured = data
	}
	t.Cleanup(func() { publishMetricsFunc = forwardMetricData })

	metric := Metric{
		Component: "feed_store",
		Name:      "samples_rejected",
		Fields: logger.Fields{
			"source": "binance",
			"reason": "stale",
			"unit":   "count",
			"value":  4,
		},
	}
	publishMetricDatum(metric, 4)

	if len(captured) != 1 {
		t.Fatalf("expected 1 datum, got %d", len(captured))
	}

	dims := map[string]string{}
	for _, d := range captured[0].Dimensions {
		dims[*d.Name] = *d.Value
	}

	if dims["component"] != "feed_store" {
		t.Fatalf("missing component dimension: %v", dims)
	}
	if dims["source"] != "binance" || dims["reason"] != "stale" {
		t.Fatalf("missing field dimensions: %v", dims)
	}
	if _, ok := dims["unit"]; ok {
		t.Fatalf("unit should not become a dimension: %v", dims)
	}
	if _, ok := dims["value"]; ok {
		t.Fatalf("value should not become a dimension: %v", dims)
	}
}

func TestMetricUnitFromString(t *testing.T) {
	cases := []struct {
		unit  string
		want  cwtypes.StandardUnit
		found bool
	}{
		{"count", cwtypes.StandardUnitCount, true},
		{"Percent", cwtypes.StandardUnitPercent, true},
		{"milliseconds", cwtypes.StandardUnitMilliseconds, true},
		{"bytes", cwtypes.StandardUnitBytes, true},
		{"fortnights", cwtypes.StandardUnitCount, false},
	}

	for _, tc := range cases {
		got, found := metricUnitFromString(tc.unit)
		if got != tc.want || found != tc.found {
			t.Fatalf("metricUnitFromString(%q) = %v, %v; want %v, %v", tc.unit, got, found, tc.want, tc.found)
		}
	}
}

func TestToFloat64(t *testing.T) {
	if v, ok := toFloat64(int64(5)); !ok || v != 5 {
		t.Fatalf("int64 conversion failed: %v %v", v, ok)
	}
	if v, ok := toFloat64(uint64(7)); !ok || v != 7 {
		t.Fatalf("uint64 conversion failed: %v %v", v, ok)
	}
	if _, ok := toFloat64("nope"); ok {
		t.Fatalf("expected string conversion to fail")
	}
}
