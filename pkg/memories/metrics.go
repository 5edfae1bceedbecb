package memories

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusObserver exports upload, finish and delete metrics to Prometheus.
type PrometheusObserver struct {
	duration      *prometheus.HistogramVec
	errCount      *prometheus.CounterVec
	chunkBytes    *prometheus.CounterVec
	committed     *prometheus.CounterVec
	cascadedBlobs prometheus.Counter
}

// NewPrometheusObserver registers the service metrics on reg, or on the
// default registerer when reg is nil.
func NewPrometheusObserver(namespace string, reg prometheus.Registerer) (*PrometheusObserver, error) {
	if namespace == "" {
		namespace = "simple_memories"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	o := &PrometheusObserver{
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Latency of upload and delete operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		errCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_errors_total",
			Help:      "Failed operations by operation and error class.",
		}, []string{"operation", "class"}),
		chunkBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_bytes_total",
			Help:      "Bytes accepted into upload sessions.",
		}, []string{"backend"}),
		committed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "committed_bytes_total",
			Help:      "Bytes committed into blobs.",
		}, []string{"backend"}),
		cascadedBlobs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cascade_deleted_blobs_total",
			Help:      "Blobs removed by cascading memory deletes.",
		}),
	}
	collectors := []prometheus.Collector{o.duration, o.errCount, o.chunkBytes, o.committed, o.cascadedBlobs}
	for i, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				collectors[i] = are.ExistingCollector
				continue
			}
			return nil, fmt.Errorf("register memories metric: %w", err)
		}
	}
	// Reuse collectors that an earlier observer already registered.
	o.duration = collectors[0].(*prometheus.HistogramVec)
	o.errCount = collectors[1].(*prometheus.CounterVec)
	o.chunkBytes = collectors[2].(*prometheus.CounterVec)
	o.committed = collectors[3].(*prometheus.CounterVec)
	o.cascadedBlobs = collectors[4].(prometheus.Counter)
	return o, nil
}

func (o *PrometheusObserver) ObserveChunk(backend string, size int64, d time.Duration, err error) {
	if o.record("put_chunk", d, err) {
		o.chunkBytes.WithLabelValues(backend).Add(float64(size))
	}
}

func (o *PrometheusObserver) ObserveFinish(backend string, size int64, d time.Duration, err error) {
	if o.record("finish", d, err) {
		o.committed.WithLabelValues(backend).Add(float64(size))
	}
}

func (o *PrometheusObserver) ObserveBlobDelete(d time.Duration, err error) {
	o.record("delete_blob", d, err)
}

func (o *PrometheusObserver) ObserveMemoryDelete(cascade bool, blobs int, d time.Duration, err error) {
	if o.record("delete_memory_cascade_"+strconv.FormatBool(cascade), d, err) {
		o.cascadedBlobs.Add(float64(blobs))
	}
}

// record reports whether the operation succeeded.
func (o *PrometheusObserver) record(op string, d time.Duration, err error) bool {
	if o == nil {
		return false
	}
	o.duration.WithLabelValues(op).Observe(d.Seconds())
	if err != nil {
		o.errCount.WithLabelValues(op, ErrorClass(err)).Inc()
		return false
	}
	return true
}

// ErrorClass names the category of err for metrics and logs.
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrHashMismatch), errors.Is(err, ErrSizeMismatch):
		return "integrity"
	case errors.Is(err, ErrPayloadTooLarge):
		return "too_large"
	case errors.Is(err, ErrSessionExpired):
		return "expired"
	case errors.Is(err, ErrSessionNotOpen), errors.Is(err, ErrIncompleteUpload), errors.Is(err, ErrAlreadyExists):
		return "conflict"
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrExpectedChunksZero):
		return "invalid"
	}
	return "internal"
}

type nopObserver struct{}

func (nopObserver) ObserveChunk(string, int64, time.Duration, error) {}

func (nopObserver) ObserveFinish(string, int64, time.Duration, error) {}

func (nopObserver) ObserveBlobDelete(time.Duration, error) {}

func (nopObserver) ObserveMemoryDelete(bool, int, time.Duration, error) {}
