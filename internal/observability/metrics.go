package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	codecOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "typedbuf",
			Subsystem: "codec",
			Name:      "operations_total",
			Help:      "Encode and decode calls by buffer type and outcome.",
		},
		[]string{"op", "tag", "success"},
	)
	codecBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "typedbuf",
			Subsystem: "codec",
			Name:      "encoded_bytes",
			Help:      "Occupied size of encoded buffers.",
			Buckets:   prometheus.ExponentialBuckets(16, 4, 10),
		},
		[]string{"tag"},
	)
	codecGrowth = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "typedbuf",
			Subsystem: "codec",
			Name:      "growth_total",
			Help:      "Buffer reallocations triggered by capacity exhaustion.",
		},
		[]string{"tag"},
	)
	buffersReleased = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "typedbuf",
			Subsystem: "buffer",
			Name:      "released_total",
			Help:      "Buffers freed by a resolver, nested ones included.",
		},
		[]string{"tag"},
	)
	buffersLive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "typedbuf",
			Subsystem: "buffer",
			Name:      "live",
			Help:      "Unreleased buffers per context.",
		},
		[]string{"context"},
	)
	serviceCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "typedbuf",
			Subsystem: "atmi",
			Name:      "calls_total",
			Help:      "Service calls by service and outcome.",
		},
		[]string{"service", "mode", "success"},
	)
	serviceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "typedbuf",
			Subsystem: "atmi",
			Name:      "call_duration_seconds",
			Help:      "Service call duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "mode"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(codecOps, codecBytes, codecGrowth, buffersReleased, buffersLive, serviceCalls, serviceDuration)
	})
}

func RecordEncode(tag string, size int, err error) {
	RegisterMetrics()
	codecOps.WithLabelValues("encode", tag, strconv.FormatBool(err == nil)).Inc()
	if err == nil {
		codecBytes.WithLabelValues(tag).Observe(float64(size))
	}
}

func RecordDecode(tag string, err error) {
	RegisterMetrics()
	codecOps.WithLabelValues("decode", tag, strconv.FormatBool(err == nil)).Inc()
}

func RecordGrowth(tag string) {
	RegisterMetrics()
	codecGrowth.WithLabelValues(tag).Inc()
}

func RecordRelease(tag string) {
	RegisterMetrics()
	buffersReleased.WithLabelValues(tag).Inc()
}

func SetLiveBuffers(context string, n int) {
	RegisterMetrics()
	buffersLive.WithLabelValues(context).Set(float64(n))
}

func RecordServiceCall(service, mode string, duration time.Duration, success bool) {
	RegisterMetrics()
	serviceCalls.WithLabelValues(service, mode, strconv.FormatBool(success)).Inc()
	serviceDuration.WithLabelValues(service, mode).Observe(duration.Seconds())
}
