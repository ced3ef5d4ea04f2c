package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "topicrelay"

// Metrics holds the relay counters. A nil *Metrics discards every update.
type Metrics struct {
	fetched          *prometheus.CounterVec
	delivered        *prometheus.CounterVec
	deliveryFailures *prometheus.CounterVec
	fetchFailures    *prometheus.CounterVec
	watermark        *prometheus.GaugeVec
}

// NewMetrics registers the relay collectors with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		fetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_fetched_total",
			Help:      "Messages fetched from Telegram topics.",
		}, []string{"source"}),
		delivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_delivered_total",
			Help:      "Messages accepted by the delivery target.",
		}, []string{"source"}),
		deliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_failures_total",
			Help:      "Messages the delivery target rejected.",
		}, []string{"source"}),
		fetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_failures_total",
			Help:      "Sources whose fetch failed.",
		}, []string{"source"}),
		watermark: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watermark",
			Help:      "Last processed message id per source.",
		}, []string{"source"}),
	}

	for _, c := range []prometheus.Collector{m.fetched, m.delivered, m.deliveryFailures, m.fetchFailures, m.watermark} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) Fetched(source string, n int) {
	if m == nil {
		return
	}
	m.fetched.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) Delivered(source string) {
	if m == nil {
		return
	}
	m.delivered.WithLabelValues(source).Inc()
}

func (m *Metrics) DeliveryFailed(source string) {
	if m == nil {
		return
	}
	m.deliveryFailures.WithLabelValues(source).Inc()
}

func (m *Metrics) FetchFailed(source string) {
	if m == nil {
		return
	}
	m.fetchFailures.WithLabelValues(source).Inc()
}

func (m *Metrics) Watermark(source string, id int) {
	if m == nil {
		return
	}
	m.watermark.WithLabelValues(source).Set(float64(id))
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
