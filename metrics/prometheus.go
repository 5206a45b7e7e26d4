package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "armlink"

type counterDesc struct {
	desc  *prometheus.Desc
	value func(Snapshot) int64
}

// PrometheusCollector exports a Collector's snapshot as Prometheus counters.
// Values are read at scrape time; nothing is double-recorded.
type PrometheusCollector struct {
	source    *Collector
	counters  []counterDesc
	unhandled *prometheus.Desc
}

var _ prometheus.Collector = (*PrometheusCollector)(nil)

// NewPrometheusCollector bridges c to Prometheus.
func NewPrometheusCollector(c *Collector) *PrometheusCollector {
	s := c.Snapshot()
	labels := prometheus.Labels{"robot_id": s.RobotID, "publisher": s.Publisher}

	newDesc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, labels)
	}

	return &PrometheusCollector{
		source: c,
		counters: []counterDesc{
			{newDesc("messages_received_total", "Frames read from the controller."), func(s Snapshot) int64 { return s.MessagesReceived }},
			{newDesc("messages_sent_total", "Frames written to the controller."), func(s Snapshot) int64 { return s.MessagesSent }},
			{newDesc("decode_errors_total", "Malformed messages discarded."), func(s Snapshot) int64 { return s.DecodeErrors }},
			{newDesc("transport_failures_total", "Connection failures seen by the receive loop."), func(s Snapshot) int64 { return s.TransportFailures }},
			{newDesc("reconnects_total", "Successful redials of the state channel."), func(s Snapshot) int64 { return s.Reconnects }},
			{newDesc("handler_failures_total", "Handler errors during dispatch."), func(s Snapshot) int64 { return s.HandlerFailures }},
			{newDesc("points_streamed_total", "Points committed to the motion buffer."), func(s Snapshot) int64 { return s.PointsStreamed }},
			{newDesc("buffer_full_waits_total", "Poll intervals spent waiting on a full motion buffer."), func(s Snapshot) int64 { return s.BufferFullWaits }},
			{newDesc("write_retries_total", "Retried controller variable writes."), func(s Snapshot) int64 { return s.WriteRetries }},
			{newDesc("cursor_desync_total", "Motion cursor observed ahead of the buffer cursor."), func(s Snapshot) int64 { return s.CursorDesync }},
			{newDesc("states_published_total", "Joint states accepted by the publisher."), func(s Snapshot) int64 { return s.StatesPublished }},
			{newDesc("publish_failures_total", "Publisher errors."), func(s Snapshot) int64 { return s.PublishFailures }},
		},
		unhandled: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "unhandled_total"),
			"Messages with no registered handler, by message type.",
			[]string{"msg_type"}, labels,
		),
	}
}

// Describe implements prometheus.Collector.
func (p *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range p.counters {
		ch <- c.desc
	}
	ch <- p.unhandled
}

// Collect implements prometheus.Collector.
func (p *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	s := p.source.Snapshot()
	for _, c := range p.counters {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(c.value(s)))
	}
	for msgType, n := range s.UnhandledByType {
		ch <- prometheus.MustNewConstMetric(p.unhandled, prometheus.CounterValue, float64(n), msgType)
	}
}

// NewRegistry returns a registry exporting c alongside the Go runtime and
// process collectors.
func NewRegistry(c *Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		NewPrometheusCollector(c),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Serve exposes reg on addr at /metrics until ctx is cancelled.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
