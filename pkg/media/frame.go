package media

import "time"

// AudioFrame представляет фрагмент линейного PCM аудио фиксированной
// длительности. Фреймы - единица обмена между jitter buffer, кодек
// пайплайном и мостом.
type AudioFrame struct {
	Samples    []int16       // Линейные 16-битные отсчеты
	SampleRate uint32        // Частота дискретизации в Гц
	Channels   int           // Количество каналов
	PTS        time.Duration // Presentation timestamp от начала потока
}

// Duration возвращает длительность фрейма
func (f *AudioFrame) Duration() time.Duration {
	if f.SampleRate == 0 || f.Channels == 0 {
		return 0
	}
	return time.Duration(len(f.Samples)/f.Channels) * time.Second / time.Duration(f.SampleRate)
}

// Clone создает глубокую копию фрейма
func (f *AudioFrame) Clone() *AudioFrame {
	samples := make([]int16, len(f.Samples))
	copy(samples, f.Samples)
	return &AudioFrame{
		Samples:    samples,
		SampleRate: f.SampleRate,
		Channels:   f.Channels,
		PTS:        f.PTS,
	}
}

// SilenceFrame создает фрейм тишины заданной длительности.
// Используется для concealment потерянных пакетов.
func SilenceFrame(sampleRate uint32, channels int, duration time.Duration) *AudioFrame {
	count := int(time.Duration(sampleRate) * duration / time.Second)
	return &AudioFrame{
		Samples:    make([]int16, count*channels),
		SampleRate: sampleRate,
		Channels:   channels,
	}
}
