// Package metrics экспортирует метрики сигнального движка в Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config конфигурация системы метрик
type Config struct {
	// Namespace префикс для Prometheus метрик
	Namespace string
	// Registerer реестр; nil - собственный реестр коллектора
	Registerer prometheus.Registerer
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{Namespace: "h323"}
}

// Collector собирает метрики RAS, вызовов и каналов.
// Все методы безопасны для nil получателя.
type Collector struct {
	registry *prometheus.Registry

	rasRequests        *prometheus.CounterVec
	rasRetransmissions *prometheus.CounterVec
	rasRejects         *prometheus.CounterVec
	gatekeeperState    *prometheus.GaugeVec

	callsTotal  *prometheus.CounterVec
	callsEnded  *prometheus.CounterVec
	callsActive prometheus.Gauge

	messagesSent     *prometheus.CounterVec
	messagesReceived *prometheus.CounterVec
	decodeErrors     *prometheus.CounterVec
	logicalChannels  prometheus.Gauge
}

// New создает коллектор и регистрирует метрики
func New(cfg Config) *Collector {
	c := &Collector{}
	reg := cfg.Registerer
	if reg == nil {
		c.registry = prometheus.NewRegistry()
		reg = c.registry
	}
	factory := promauto.With(reg)
	ns := cfg.Namespace

	c.rasRequests = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "ras", Name: "requests_total",
		Help: "RAS requests sent, by message type",
	}, []string{"type"})
	c.rasRetransmissions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "ras", Name: "retransmissions_total",
		Help: "RAS request retransmissions after timeout",
	}, []string{"type"})
	c.rasRejects = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "ras", Name: "rejects_total",
		Help: "RAS rejects received, by message type and reason",
	}, []string{"type", "reason"})
	c.gatekeeperState = factory.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: "ras", Name: "gatekeeper_state",
		Help: "1 for the current gatekeeper client state",
	}, []string{"state"})

	c.callsTotal = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "calls", Name: "total",
		Help: "Calls created, by direction",
	}, []string{"direction"})
	c.callsEnded = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "calls", Name: "ended_total",
		Help: "Calls cleaned up, by end reason",
	}, []string{"reason"})
	c.callsActive = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: "calls", Name: "active",
		Help: "Calls currently in the registry",
	})

	c.messagesSent = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "channels", Name: "messages_sent_total",
		Help: "Signalling messages written, by protocol and type",
	}, []string{"protocol", "type"})
	c.messagesReceived = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "channels", Name: "messages_received_total",
		Help: "Signalling messages decoded, by protocol and type",
	}, []string{"protocol", "type"})
	c.decodeErrors = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: "channels", Name: "decode_errors_total",
		Help: "Inbound messages that failed to decode",
	}, []string{"protocol"})
	c.logicalChannels = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: "channels", Name: "logical_channels_established",
		Help: "Established logical channels across all calls",
	})

	return c
}

// Handler HTTP обработчик /metrics для собственного реестра
func (c *Collector) Handler() http.Handler {
	if c == nil || c.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Gatherer источник метрик коллектора
func (c *Collector) Gatherer() prometheus.Gatherer {
	if c == nil || c.registry == nil {
		return prometheus.DefaultGatherer
	}
	return c.registry
}

func (c *Collector) RASRequest(msgType string) {
	if c == nil {
		return
	}
	c.rasRequests.WithLabelValues(msgType).Inc()
}

func (c *Collector) RASRetransmission(msgType string) {
	if c == nil {
		return
	}
	c.rasRetransmissions.WithLabelValues(msgType).Inc()
}

func (c *Collector) RASReject(msgType, reason string) {
	if c == nil {
		return
	}
	c.rasRejects.WithLabelValues(msgType, reason).Inc()
}

// GatekeeperState отмечает текущее состояние клиента гейткипера
func (c *Collector) GatekeeperState(prev, next string) {
	if c == nil {
		return
	}
	if prev != "" {
		c.gatekeeperState.WithLabelValues(prev).Set(0)
	}
	c.gatekeeperState.WithLabelValues(next).Set(1)
}

func (c *Collector) CallCreated(direction string) {
	if c == nil {
		return
	}
	c.callsTotal.WithLabelValues(direction).Inc()
	c.callsActive.Inc()
}

func (c *Collector) CallEnded(reason string) {
	if c == nil {
		return
	}
	c.callsEnded.WithLabelValues(reason).Inc()
	c.callsActive.Dec()
}

func (c *Collector) MessageSent(protocol, msgType string) {
	if c == nil {
		return
	}
	c.messagesSent.WithLabelValues(protocol, msgType).Inc()
}

func (c *Collector) MessageReceived(protocol, msgType string) {
	if c == nil {
		return
	}
	c.messagesReceived.WithLabelValues(protocol, msgType).Inc()
}

func (c *Collector) DecodeError(protocol string) {
	if c == nil {
		return
	}
	c.decodeErrors.WithLabelValues(protocol).Inc()
}

// LogicalChannelDelta изменяет число установленных логических каналов
func (c *Collector) LogicalChannelDelta(delta int) {
	if c == nil {
		return
	}
	c.logicalChannels.Add(float64(delta))
}
