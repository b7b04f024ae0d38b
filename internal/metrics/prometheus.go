package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements Collector using Prometheus metrics,
// grounded on infodancer-pop3d's PrometheusCollector.
type PrometheusCollector struct {
	sessionsTotal   prometheus.Counter
	sessionsActive  prometheus.Gauge
	tlsSessionTotal prometheus.Counter

	authAttemptsTotal *prometheus.CounterVec
	commandsTotal     *prometheus.CounterVec

	messagesEnteredTotal *prometheus.CounterVec
	messagesDeletedTotal prometheus.Counter
	messagesMovedTotal   *prometheus.CounterVec

	roomGotoTotal prometheus.Counter
}

// NewPrometheusCollector registers and returns a PrometheusCollector.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	c := &PrometheusCollector{
		sessionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "citadel_sessions_total",
			Help: "Total number of line protocol sessions opened.",
		}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "citadel_sessions_active",
			Help: "Number of currently active line protocol sessions.",
		}),
		tlsSessionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "citadel_tls_sessions_total",
			Help: "Total number of sessions that completed an STLS upgrade.",
		}),
		authAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "citadel_auth_attempts_total",
			Help: "Total number of USER/PASS authentication attempts.",
		}, []string{"result"}),
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "citadel_commands_total",
			Help: "Total number of line protocol commands processed.",
		}, []string{"command"}),
		messagesEnteredTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "citadel_messages_entered_total",
			Help: "Total number of messages entered via ENT0.",
		}, []string{"mailbox"}),
		messagesDeletedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "citadel_messages_deleted_total",
			Help: "Total number of messages soft-deleted via DELE.",
		}),
		messagesMovedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "citadel_messages_moved_total",
			Help: "Total number of MOVE operations.",
		}, []string{"op"}),
		roomGotoTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "citadel_room_goto_total",
			Help: "Total number of GOTO operations.",
		}),
	}

	reg.MustRegister(
		c.sessionsTotal,
		c.sessionsActive,
		c.tlsSessionTotal,
		c.authAttemptsTotal,
		c.commandsTotal,
		c.messagesEnteredTotal,
		c.messagesDeletedTotal,
		c.messagesMovedTotal,
		c.roomGotoTotal,
	)
	return c
}

func (c *PrometheusCollector) SessionOpened() {
	c.sessionsTotal.Inc()
	c.sessionsActive.Inc()
}

func (c *PrometheusCollector) SessionClosed() { c.sessionsActive.Dec() }

func (c *PrometheusCollector) TLSSessionEstablished() { c.tlsSessionTotal.Inc() }

func (c *PrometheusCollector) AuthAttempt(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.authAttemptsTotal.WithLabelValues(result).Inc()
}

func (c *PrometheusCollector) CommandProcessed(command string) {
	c.commandsTotal.WithLabelValues(command).Inc()
}

func (c *PrometheusCollector) MessageEntered(roomFlags int) {
	mailbox := "room"
	if roomFlags&1 != 0 {
		mailbox = "mailbox"
	}
	c.messagesEnteredTotal.WithLabelValues(mailbox).Inc()
}

func (c *PrometheusCollector) MessageDeleted() { c.messagesDeletedTotal.Inc() }

func (c *PrometheusCollector) MessageMoved(copy bool) {
	op := "move"
	if copy {
		op = "copy"
	}
	c.messagesMovedTotal.WithLabelValues(op).Inc()
}

func (c *PrometheusCollector) RoomGoto() { c.roomGotoTotal.Inc() }
