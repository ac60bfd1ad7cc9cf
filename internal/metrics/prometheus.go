package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type prometheusObserver struct {
	onlineGauge prometheus.Gauge
	pushCounter prometheus.Counter
	dropCounter prometheus.Counter
}

var (
	onlineGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "flagpost_online_subscribers",
		Help: "Number of live change-stream subscribers",
	})
	pushCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flagpost_events_delivered_total",
		Help: "Total change events delivered to subscribers",
	})
	dropCounter = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flagpost_subscribers_dropped_total",
		Help: "Subscribers removed after a failed delivery",
	})
)

func NewPrometheusObserver() HubObserver {
	return &prometheusObserver{
		onlineGauge: onlineGauge,
		pushCounter: pushCounter,
		dropCounter: dropCounter,
	}
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func (p *prometheusObserver) IncOnline() {
	p.onlineGauge.Inc()
}

func (p *prometheusObserver) DecOnline() {
	p.onlineGauge.Dec()
}

func (p *prometheusObserver) RecordPush() {
	p.pushCounter.Inc()
}

func (p *prometheusObserver) RecordDrop() {
	p.dropCounter.Inc()
}
