package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики моста. Регистрируются в default registry процесса,
// экспортируются через promhttp endpoint сервера.
var (
	metricActiveBridges = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_bridge_active_bridges",
		Help: "Количество работающих аудио мостов",
	})

	metricFramesBridged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_bridge_frames_total",
		Help: "Фреймы, переданные через мост, по направлению",
	}, []string{"direction"})

	metricConcealedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_bridge_concealed_frames_total",
		Help: "Concealment фреймы, выданные вместо потерянных пакетов",
	})

	metricLegFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_bridge_leg_failures_total",
		Help: "Отказы ног моста по роли",
	}, []string{"role"})
)

const (
	directionToAI        = "to_ai"
	directionToTelephony = "to_telephony"
)
