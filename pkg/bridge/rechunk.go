package bridge

import (
	"time"

	"github.com/arzzra/voice_bridge/pkg/media"
)

// Rechunker перенарезает поток PCM фреймов на фреймы фиксированной
// длительности. Квант стороны AI не обязан совпадать с длительностью
// телефонного пакета, поэтому на границе между ногами выполняется
// явная перенарезка: входные фреймы накапливаются и выдаются кусками
// ровно одного кванта. Порядок отсчетов сохраняется.
type Rechunker struct {
	sampleRate uint32
	channels   int
	quantum    int // Отсчетов в выходном фрейме

	buf     []int16
	anchor  time.Duration // PTS первого отсчета в buf
	emitted uint64        // Выдано отсчетов с момента якоря
	primed  bool
}

// NewRechunker создает перенарезчик для заданного кванта.
// frameDuration должна давать целое количество отсчетов.
func NewRechunker(sampleRate uint32, channels int, frameDuration time.Duration) *Rechunker {
	quantum := int(time.Duration(sampleRate) * frameDuration / time.Second)
	if quantum <= 0 {
		quantum = 1
	}
	return &Rechunker{
		sampleRate: sampleRate,
		channels:   channels,
		quantum:    quantum * channels,
	}
}

// Push добавляет фрейм и возвращает все полные кванты, накопившиеся
// к этому моменту. Возвращает nil если полного кванта еще нет.
func (r *Rechunker) Push(frame *media.AudioFrame) []*media.AudioFrame {
	if frame == nil || len(frame.Samples) == 0 {
		return nil
	}
	if !r.primed {
		r.anchor = frame.PTS
		r.primed = true
	}

	r.buf = append(r.buf, frame.Samples...)

	var out []*media.AudioFrame
	for len(r.buf) >= r.quantum {
		out = append(out, r.emit(r.quantum))
	}
	return out
}

// Flush выдает остаток неполного кванта. nil если буфер пуст.
func (r *Rechunker) Flush() *media.AudioFrame {
	if len(r.buf) == 0 {
		return nil
	}
	return r.emit(len(r.buf))
}

// Pending возвращает количество накопленных отсчетов
func (r *Rechunker) Pending() int {
	return len(r.buf)
}

func (r *Rechunker) emit(count int) *media.AudioFrame {
	samples := make([]int16, count)
	copy(samples, r.buf[:count])
	r.buf = r.buf[count:]

	frame := &media.AudioFrame{
		Samples:    samples,
		SampleRate: r.sampleRate,
		Channels:   r.channels,
		PTS:        r.anchor + time.Duration(r.emitted/uint64(r.channels))*time.Second/time.Duration(r.sampleRate),
	}
	r.emitted += uint64(count)
	return frame
}
