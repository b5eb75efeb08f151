package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricBytesWritten   = "sparsedb.bytes.written"
	metricFlushTotal     = "sparsedb.outbuf.flush.total"
	metricGroupLatency   = "sparsedb.cctdb.group.duration.seconds"
	metricMergeFanin     = "sparsedb.cctdb.merge.fanin"
	metricTimepointTotal = "sparsedb.tracedb.timepoints.total"

	attrFile = "file"
)

// groupLatencyBucketBoundaries covers sub-millisecond context-group merges
// up to multi-second groups bounded by the 3 GiB group-size cap.
var groupLatencyBucketBoundaries = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30}

// AssemblerMetrics holds the OTel instruments emitted while assembling
// profile.db, cct.db, and trace.db.
type AssemblerMetrics struct {
	bytesWritten   metric.Int64Counter
	flushTotal     metric.Int64Counter
	groupLatency   metric.Float64Histogram
	mergeFanin     metric.Int64Histogram
	timepointTotal metric.Int64Counter
}

// NewAssemblerMetrics creates the assembler's instrument set from the given meter.
func NewAssemblerMetrics(mt metric.Meter) (*AssemblerMetrics, error) {
	b := newMetricBuilder(mt)

	am := &AssemblerMetrics{
		bytesWritten:   b.counter(metricBytesWritten, "Bytes written to an output file", "By"),
		flushTotal:     b.counter(metricFlushTotal, "Number of double-buffer flushes", "{flush}"),
		groupLatency:   b.histogram(metricGroupLatency, "Time to transpose one context group", "s", groupLatencyBucketBoundaries...),
		mergeFanin:     b.int64Histogram(metricMergeFanin, "Number of profiles merged per context group", "{profile}"),
		timepointTotal: b.counter(metricTimepointTotal, "Trace timepoints appended", "{timepoint}"),
	}

	if b.err != nil {
		return nil, b.err
	}

	return am, nil
}

// RecordBytesWritten records bytes appended to one of profile.db/cct.db/trace.db.
func (am *AssemblerMetrics) RecordBytesWritten(ctx context.Context, file string, n int64) {
	am.bytesWritten.Add(ctx, n, metric.WithAttributes(attribute.String(attrFile, file)))
}

// RecordFlush records one double-buffer flush to disk.
func (am *AssemblerMetrics) RecordFlush(ctx context.Context, file string) {
	am.flushTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrFile, file)))
}

// RecordGroupMerge records the wall time and profile fan-in of one context-group transpose.
func (am *AssemblerMetrics) RecordGroupMerge(ctx context.Context, duration time.Duration, numProfiles int) {
	am.groupLatency.Record(ctx, duration.Seconds())
	am.mergeFanin.Record(ctx, int64(numProfiles))
}

// RecordTimepoints records timepoints appended to a thread's trace.
func (am *AssemblerMetrics) RecordTimepoints(ctx context.Context, n int) {
	am.timepointTotal.Add(ctx, int64(n))
}
