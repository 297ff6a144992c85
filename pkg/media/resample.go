package media

import (
	"fmt"
	"time"
)

// Resampler выполняет детерминированное преобразование частоты дискретизации
// методом линейной интерполяции. Позиция источника ведется в целочисленной
// арифметике (числитель/знаменатель), поэтому накопленное количество выходных
// отсчетов точно отслеживает длительность потока: 1 секунда 8 kHz в 16 kHz
// дает ровно 16000 отсчетов, без накопления дрейфа на длинных потоках.
type Resampler struct {
	inRate  uint32
	outRate uint32

	// Фаза следующего выходного отсчета в единицах 1/outRate входного
	// интервала. Инвариант: 0 <= phase < inRate+outRate.
	phase uint32

	// Последний отсчет предыдущего блока для интерполяции через границу
	last    int16
	primed  bool
	csumIn  uint64 // Всего принято входных отсчетов
	csumOut uint64 // Всего выдано выходных отсчетов
}

// NewResampler создает ресемплер между двумя частотами дискретизации.
// Только моно: телефонный тракт одноканальный.
func NewResampler(inRate, outRate uint32) (*Resampler, error) {
	if inRate == 0 || outRate == 0 {
		return nil, NewMediaError(ErrorCodeResamplerConfigInvalid,
			fmt.Sprintf("невалидные частоты дискретизации: %d -> %d", inRate, outRate))
	}
	return &Resampler{inRate: inRate, outRate: outRate}, nil
}

// Process преобразует блок отсчетов. Состояние фазы сохраняется между
// блоками, поэтому потоковая обработка не вносит дрейф на границах.
func (r *Resampler) Process(in []int16) []int16 {
	if r.inRate == r.outRate {
		out := make([]int16, len(in))
		copy(out, in)
		r.csumIn += uint64(len(in))
		r.csumOut += uint64(len(in))
		if len(in) > 0 {
			r.last = in[len(in)-1]
			r.primed = true
		}
		return out
	}

	out := make([]int16, 0, (uint64(len(in))*uint64(r.outRate))/uint64(r.inRate)+2)

	for _, s := range in {
		if !r.primed {
			r.last = s
			r.primed = true
		}
		// Выдаем все выходные отсчеты, фаза которых попадает
		// внутрь интервала [last, s)
		for r.phase < r.outRate {
			// Линейная интерполяция между last и s
			frac := int64(r.phase)
			v := int64(r.last) + (int64(s)-int64(r.last))*frac/int64(r.outRate)
			out = append(out, int16(v))
			r.phase += r.inRate
		}
		r.phase -= r.outRate
		r.last = s
	}

	r.csumIn += uint64(len(in))
	r.csumOut += uint64(len(out))
	return out
}

// ProcessFrame преобразует AudioFrame к целевой частоте дискретизации
func (r *Resampler) ProcessFrame(frame *AudioFrame) *AudioFrame {
	return &AudioFrame{
		Samples:    r.Process(frame.Samples),
		SampleRate: r.outRate,
		Channels:   frame.Channels,
		PTS:        frame.PTS,
	}
}

// Drift возвращает текущее отклонение выданного количества отсчетов от
// идеального. Используется тестами точности и health-мониторингом.
func (r *Resampler) Drift() time.Duration {
	ideal := r.csumIn * uint64(r.outRate) / uint64(r.inRate)
	var diff int64
	if r.csumOut >= ideal {
		diff = int64(r.csumOut - ideal)
	} else {
		diff = -int64(ideal - r.csumOut)
	}
	return time.Duration(diff) * time.Second / time.Duration(r.outRate)
}

// Reset сбрасывает состояние фазы и счетчики
func (r *Resampler) Reset() {
	r.phase = 0
	r.primed = false
	r.last = 0
	r.csumIn = 0
	r.csumOut = 0
}
