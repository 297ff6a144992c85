package media

// Битово-точная реализация G.711 μ-law и A-law companding.
// Соответствует опубликованным таблицам ITU-T G.711: кодирование выполняется
// сегментным алгоритмом, декодирование - через 256-элементные таблицы,
// построенные при инициализации из того же алгоритма. Приближения недопустимы:
// выход обязан побитово совпадать с таблицами стандарта для интероперабельности
// со стандартным телефонным оборудованием.

const (
	uLawBias = 0x84  // 132, смещение μ-law
	uLawClip = 32635 // Максимальная амплитуда до сжатия

	segShift  = 4    // Сдвиг поля сегмента
	quantMask = 0x0F // Маска мантиссы
	signBit   = 0x80
)

// Таблицы декодирования, заполняются в init из сегментного алгоритма
var (
	uLawDecodeTable [256]int16
	aLawDecodeTable [256]int16
)

func init() {
	for i := 0; i < 256; i++ {
		uLawDecodeTable[i] = uLawToLinear(uint8(i))
		aLawDecodeTable[i] = aLawToLinear(uint8(i))
	}
}

// EncodeULaw преобразует 16-битный линейный отсчет в 8-битный μ-law
func EncodeULaw(sample int16) uint8 {
	sign := 0
	s := int(sample)
	if s < 0 {
		s = -s
		sign = signBit
	}
	if s > uLawClip {
		s = uLawClip
	}
	s += uLawBias

	exponent := 7
	for mask := 0x4000; (s&mask) == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := (s >> uint(exponent+3)) & quantMask

	return uint8(^(sign | (exponent << segShift) | mantissa))
}

// DecodeULaw преобразует 8-битный μ-law отсчет в 16-битный линейный
func DecodeULaw(b uint8) int16 {
	return uLawDecodeTable[b]
}

// uLawToLinear вычисляет линейное значение μ-law кода (для заполнения таблицы)
func uLawToLinear(b uint8) int16 {
	b = ^b
	exponent := (b >> segShift) & 0x07
	mantissa := b & quantMask

	s := ((int(mantissa) << 3) + uLawBias) << uint(exponent)
	s -= uLawBias

	if b&signBit != 0 {
		return int16(-s)
	}
	return int16(s)
}

// segAEnd границы сегментов A-law для 13-битного входа
var segAEnd = [8]int{0x1F, 0x3F, 0x7F, 0xFF, 0x1FF, 0x3FF, 0x7FF, 0xFFF}

// EncodeALaw преобразует 16-битный линейный отсчет в 8-битный A-law
func EncodeALaw(sample int16) uint8 {
	// A-law работает с 13-битным входом
	pcm := int(sample) >> 3

	var mask int
	if pcm >= 0 {
		mask = 0xD5 // Четные биты инвертируются (включая знак)
	} else {
		mask = 0x55
		pcm = -pcm - 1
	}

	seg := 8
	for i, end := range segAEnd {
		if pcm <= end {
			seg = i
			break
		}
	}
	if seg >= 8 {
		// Выход за пределы: максимальный код
		return uint8(0x7F ^ mask)
	}

	aval := seg << segShift
	if seg < 2 {
		aval |= (pcm >> 1) & quantMask
	} else {
		aval |= (pcm >> uint(seg)) & quantMask
	}
	return uint8(aval ^ mask)
}

// DecodeALaw преобразует 8-битный A-law отсчет в 16-битный линейный
func DecodeALaw(b uint8) int16 {
	return aLawDecodeTable[b]
}

// aLawToLinear вычисляет линейное значение A-law кода (для заполнения таблицы)
func aLawToLinear(b uint8) int16 {
	v := b ^ 0x55

	t := (int(v) & quantMask) << 4
	seg := (int(v) & 0x70) >> segShift
	switch seg {
	case 0:
		t += 8
	case 1:
		t += 0x108
	default:
		t += 0x108
		t <<= uint(seg - 1)
	}

	if v&signBit != 0 {
		return int16(t)
	}
	return int16(-t)
}

// EncodeULawSamples кодирует срез PCM отсчетов в μ-law байты
func EncodeULawSamples(samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = EncodeULaw(s)
	}
	return out
}

// DecodeULawSamples декодирует μ-law байты в PCM отсчеты
func DecodeULawSamples(data []byte) []int16 {
	out := make([]int16, len(data))
	for i, b := range data {
		out[i] = DecodeULaw(b)
	}
	return out
}

// EncodeALawSamples кодирует срез PCM отсчетов в A-law байты
func EncodeALawSamples(samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = EncodeALaw(s)
	}
	return out
}

// DecodeALawSamples декодирует A-law байты в PCM отсчеты
func DecodeALawSamples(data []byte) []int16 {
	out := make([]int16, len(data))
	for i, b := range data {
		out[i] = DecodeALaw(b)
	}
	return out
}
