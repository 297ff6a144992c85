package call

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_call_active_sessions",
		Help: "Количество сессий в реестре",
	})

	metricTerminatedSessions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_call_terminated_total",
		Help: "Завершенные сессии по причине",
	}, []string{"cause"})

	metricInvalidTransitions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_call_invalid_transitions_total",
		Help: "Отклоненные недопустимые переходы состояний",
	})
)
