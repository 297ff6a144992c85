package media

import (
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arzzra/voice_bridge/pkg/packet"
)

// JitterBufferConfig содержит параметры конфигурации jitter buffer
type JitterBufferConfig struct {
	MinDepth     int           // Минимальная целевая глубина в пакетах
	MaxDepth     int           // Максимальная глубина буфера в пакетах
	TargetDepth  int           // Начальная целевая глубина
	TickInterval time.Duration // Интервал playout clock (длительность пакета)
	LossDeadline time.Duration // Срок ожидания отсутствующего пакета до concealment
	ClockRate    uint32        // Частота RTP clock для оценки джиттера
}

// DefaultJitterBufferConfig возвращает конфигурацию по умолчанию
// для телефонии: 20ms пакеты, глубина 2..10 пакетов
func DefaultJitterBufferConfig() JitterBufferConfig {
	return JitterBufferConfig{
		MinDepth:     2,
		MaxDepth:     10,
		TargetDepth:  3,
		TickInterval: time.Millisecond * 20,
		LossDeadline: time.Millisecond * 60,
		ClockRate:    8000,
	}
}

// Emission результат одного тика playout clock: либо пакет в порядке
// sequence numbers, либо маркер concealment для потерянного пакета
type Emission struct {
	Packet    *packet.RawPacket // nil при Concealed
	Concealed bool              // Пакет потерян, нужен concealment фрейм
	Sequence  uint16            // Sequence number выданной позиции
}

// JitterBufferStatistics статистика jitter buffer.
// Ничто не теряет аудио молча: каждый отброшенный или скрытый пакет
// учитывается здесь.
type JitterBufferStatistics struct {
	PacketsReceived   uint64
	PacketsLost       uint64 // Не дождались, выдан concealment
	PacketsLate       uint64 // Пришли позже уже выданной позиции
	PacketsDuplicated uint64
	PacketsDropped    uint64 // Отброшены при переполнении (fast-forward)
	PacketsEmitted    uint64
	Concealed         uint64
	Underruns         uint64
	Jitter            time.Duration // Оценка межприходной дисперсии (RFC 3550)
	CurrentDepth      int
	TargetDepth       int
}

// JitterBuffer преобразует возможно переупорядоченный поток пакетов с
// потерями в упорядоченный, равномерно выдаваемый поток.
//
// Буфер ключуется по sequence number; положение пакета относительно
// последней выданной позиции вычисляется со знаковой 16-битной разностью,
// что отличает wrap-around от большого реордеринга. Выдача управляется
// playout clock: на каждом тике выдается следующий по порядку пакет,
// при отсутствии дольше LossDeadline выдается concealment маркер и
// ожидаемая позиция продвигается - непрерывность важнее точности для
// живого диалога.
//
// Целевая глубина адаптируется в границах [MinDepth, MaxDepth] по
// наблюдаемой дисперсии джиттера: растет сразу при росте джиттера,
// уменьшается медленно при стабильности.
//
// Переполнение (приход сильно опережает выдачу) вызывает fast-forward
// со сбросом самых старых пакетов; это отражается в статистике, а не
// возвращается как ошибка.
type JitterBuffer struct {
	config JitterBufferConfig

	mutex   sync.Mutex
	entries map[uint16]*packet.RawPacket

	started    bool
	emittedAny bool
	nextSeq    uint16    // Следующая ожидаемая к выдаче позиция
	waitStart  time.Time // Начало ожидания nextSeq
	priming    bool      // Фаза накопления до целевой глубины

	// Контур адаптации глубины
	targetDepth int
	jitter      float64 // В единицах RTP clock
	lastTransit int64
	haveTransit bool
	stableTicks int

	stats   JitterBufferStatistics
	stopped bool

	// Фоновый worker (production путь; тесты вызывают Tick напрямую)
	out      chan Emission
	stopChan chan struct{}
	stopOnce sync.Once

	log *logrus.Entry
}

// NewJitterBuffer создает jitter buffer с указанной конфигурацией.
// Worker для фоновой выдачи запускается отдельно через Run.
func NewJitterBuffer(config JitterBufferConfig) (*JitterBuffer, error) {
	if config.MinDepth <= 0 {
		config.MinDepth = 2
	}
	if config.MaxDepth <= 0 {
		config.MaxDepth = 10
	}
	if config.MaxDepth < config.MinDepth {
		return nil, NewMediaError(ErrorCodeJitterBufferConfigInvalid,
			"максимальная глубина меньше минимальной")
	}
	if config.TargetDepth < config.MinDepth {
		config.TargetDepth = config.MinDepth
	}
	if config.TargetDepth > config.MaxDepth {
		config.TargetDepth = config.MaxDepth
	}
	if config.TickInterval <= 0 {
		config.TickInterval = time.Millisecond * 20
	}
	if config.LossDeadline <= 0 {
		config.LossDeadline = config.TickInterval * 3
	}
	if config.ClockRate == 0 {
		config.ClockRate = 8000
	}

	return &JitterBuffer{
		config:      config,
		entries:     make(map[uint16]*packet.RawPacket),
		targetDepth: config.TargetDepth,
		priming:     true,
		out:         make(chan Emission, config.MaxDepth),
		stopChan:    make(chan struct{}),
		log:         logrus.WithField("component", "jitter_buffer"),
	}, nil
}

// Put добавляет пакет в буфер. Владение пакетом переходит буферу.
// Никогда не блокирует: переполнение приводит к fast-forward,
// поздние пакеты и дубликаты отбрасываются со счетчиком.
func (jb *JitterBuffer) Put(p *packet.RawPacket) error {
	jb.mutex.Lock()
	defer jb.mutex.Unlock()

	if jb.stopped {
		return NewMediaError(ErrorCodeJitterBufferStopped, "jitter buffer остановлен")
	}

	now := p.ArrivalTime
	if now.IsZero() {
		now = time.Now()
	}

	jb.stats.PacketsReceived++
	jb.updateJitter(p, now)

	seq := p.Header.SequenceNumber
	if !jb.started {
		jb.started = true
		jb.nextSeq = seq
		jb.waitStart = now
	}

	d := packet.SeqDistance(seq, jb.nextSeq)
	switch {
	case d < 0 && jb.emittedAny:
		// Позиция уже выдана - пакет опоздал
		jb.stats.PacketsLate++
		return nil
	case d < 0:
		// До первой выдачи позицию можно откатить назад: поток мог
		// начаться с переупорядоченного пакета
		jb.nextSeq = seq
		jb.waitStart = now
	}

	if _, exists := jb.entries[seq]; exists {
		jb.stats.PacketsDuplicated++
		return nil
	}

	// Переполнение: освобождаем место сбросом самых старых позиций
	for len(jb.entries) >= jb.config.MaxDepth {
		jb.dropOldestLocked(now)
	}

	jb.entries[seq] = p
	return nil
}

// dropOldestLocked отбрасывает самый старый пакет буфера и продвигает
// ожидаемую позицию к следующей имеющейся (fast-forward при переполнении)
func (jb *JitterBuffer) dropOldestLocked(now time.Time) {
	oldest, found := jb.oldestLocked()
	if !found {
		return
	}
	delete(jb.entries, oldest)
	jb.stats.PacketsDropped++
	jb.log.WithField("seq", oldest).Debug("переполнение буфера, пакет сброшен")
	// Выдача продолжается с позиции после сброшенной
	if packet.SeqDistance(oldest, jb.nextSeq) >= 0 {
		jb.nextSeq = oldest + 1
		jb.waitStart = now
	}
}

// oldestLocked находит наименьший (с учетом wrap-around) sequence number
func (jb *JitterBuffer) oldestLocked() (uint16, bool) {
	var oldest uint16
	found := false
	for seq := range jb.entries {
		if !found || packet.SeqDistance(seq, oldest) < 0 {
			oldest = seq
			found = true
		}
	}
	return oldest, found
}

// Tick выполняет один шаг playout clock и возвращает очередную выдачу
// или nil, если выдавать пока нечего. Контур адаптации глубины
// пересчитывается на каждом тике. Метод изолирован от I/O и вызывается
// тестами напрямую.
func (jb *JitterBuffer) Tick(now time.Time) *Emission {
	jb.mutex.Lock()
	defer jb.mutex.Unlock()

	if jb.stopped || !jb.started {
		return nil
	}

	jb.adaptDepthLocked()

	// Фаза накопления: ждем заполнения до целевой глубины
	if jb.priming {
		if len(jb.entries) < jb.targetDepth {
			return nil
		}
		jb.priming = false
		jb.waitStart = now
	}

	if p, ok := jb.entries[jb.nextSeq]; ok {
		delete(jb.entries, jb.nextSeq)
		em := &Emission{Packet: p, Sequence: jb.nextSeq}
		jb.nextSeq++
		jb.waitStart = now
		jb.emittedAny = true
		jb.stats.PacketsEmitted++
		return em
	}

	if len(jb.entries) == 0 {
		// Нечего выдавать и нечего ждать - underrun, возвращаемся
		// к накоплению
		jb.stats.Underruns++
		jb.priming = true
		jb.log.WithField("next_seq", jb.nextSeq).Debug("underrun, возврат к накоплению")
		return nil
	}

	// Ожидаемая позиция отсутствует, но более новые пакеты есть.
	// После истечения срока ожидания выдаем concealment и продвигаемся:
	// непрерывность потока важнее потерянного пакета.
	if now.Sub(jb.waitStart) >= jb.config.LossDeadline {
		em := &Emission{Concealed: true, Sequence: jb.nextSeq}
		jb.stats.PacketsLost++
		jb.stats.Concealed++
		jb.nextSeq++
		jb.waitStart = now
		jb.emittedAny = true
		return em
	}

	return nil
}

// updateJitter обновляет оценку межприходного джиттера по RFC 3550:
// J += (|D| - J) / 16, где D - разность транзитных времен соседних пакетов
func (jb *JitterBuffer) updateJitter(p *packet.RawPacket, now time.Time) {
	arrivalClock := now.UnixNano() * int64(jb.config.ClockRate) / int64(time.Second)
	transit := arrivalClock - int64(p.Header.Timestamp)

	if jb.haveTransit {
		d := transit - jb.lastTransit
		if d < 0 {
			d = -d
		}
		jb.jitter += (float64(d) - jb.jitter) / 16.0
	}
	jb.lastTransit = transit
	jb.haveTransit = true
}

// adaptDepthLocked пересчитывает целевую глубину буфера: маленький
// контур управления (текущая глубина, дисперсия джиттера, границы).
// Рост - немедленно, уменьшение - медленно, по одному пакету после
// периода стабильности.
func (jb *JitterBuffer) adaptDepthLocked() {
	jitterTicks := 0
	if jb.config.ClockRate > 0 && jb.config.TickInterval > 0 {
		ticksClock := float64(jb.config.ClockRate) * jb.config.TickInterval.Seconds()
		if ticksClock > 0 {
			jitterTicks = int(math.Ceil(jb.jitter / ticksClock))
		}
	}

	desired := jb.config.MinDepth + jitterTicks
	if desired > jb.config.MaxDepth {
		desired = jb.config.MaxDepth
	}

	if desired > jb.targetDepth {
		// Джиттер вырос - увеличиваем глубину сразу
		jb.targetDepth = desired
		jb.stableTicks = 0
	} else if desired < jb.targetDepth {
		// Стабильность - уменьшаем медленно, чтобы не осциллировать
		jb.stableTicks++
		if jb.stableTicks >= shrinkStabilityTicks {
			jb.targetDepth--
			jb.stableTicks = 0
		}
	} else {
		jb.stableTicks = 0
	}
}

// shrinkStabilityTicks количество стабильных тиков до уменьшения глубины
const shrinkStabilityTicks = 50

// Run запускает фоновый playout worker, пишущий выдачи в Emissions.
// Блокирует до Stop. Production путь; тесты используют Tick.
func (jb *JitterBuffer) Run() {
	ticker := time.NewTicker(jb.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-jb.stopChan:
			return
		case now := <-ticker.C:
			if em := jb.Tick(now); em != nil {
				select {
				case jb.out <- *em:
				default:
					// Потребитель не успевает: учитываем потерю
					jb.mutex.Lock()
					jb.stats.PacketsDropped++
					jb.mutex.Unlock()
				}
			}
		}
	}
}

// Emissions возвращает канал выдач фонового worker
func (jb *JitterBuffer) Emissions() <-chan Emission {
	return jb.out
}

// Stop останавливает буфер. Идемпотентен.
func (jb *JitterBuffer) Stop() {
	jb.stopOnce.Do(func() {
		jb.mutex.Lock()
		jb.stopped = true
		jb.mutex.Unlock()
		close(jb.stopChan)
	})
}

// GetStatistics возвращает снимок статистики
func (jb *JitterBuffer) GetStatistics() JitterBufferStatistics {
	jb.mutex.Lock()
	defer jb.mutex.Unlock()

	stats := jb.stats
	stats.CurrentDepth = len(jb.entries)
	stats.TargetDepth = jb.targetDepth
	if jb.config.ClockRate > 0 {
		stats.Jitter = time.Duration(jb.jitter / float64(jb.config.ClockRate) * float64(time.Second))
	}
	return stats
}
