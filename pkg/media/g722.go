package media

// Реализация широкополосного суб-полосного кодека G.722 (режим 64 кбит/с).
// Сигнал 16 kHz разбивается QMF фильтром на нижнюю и верхнюю полосы,
// каждая кодируется отдельным ADPCM квантователем (6 бит нижняя,
// 2 бита верхняя). Структура блоков следует ITU-T G.722: QUANTL/INVQAL/
// LOGSCL/SCALEL для нижней полосы, аналогичные блоки для верхней,
// общий адаптивный предиктор (Block 4).

// Таблицы квантования ITU-T G.722
var (
	g722QMFCoeffs = [12]int{3, -11, 12, 32, -210, 951, 3876, -805, 362, -156, 53, -11}

	g722Q6 = [30]int{
		0, 35, 72, 110, 150, 190, 233, 276, 323, 370,
		422, 473, 530, 587, 650, 714, 786, 858, 940, 1023,
		1121, 1219, 1339, 1458, 1612, 1765, 1980, 2195, 2557, 2919,
	}
	g722ILN = [32]int{
		0, 63, 62, 31, 30, 29, 28, 27, 26, 25,
		24, 23, 22, 21, 20, 19, 18, 17, 16, 15,
		14, 13, 12, 11, 10, 9, 8, 7, 6, 5, 4, 0,
	}
	g722ILP = [32]int{
		0, 61, 60, 59, 58, 57, 56, 55, 54, 53,
		52, 51, 50, 49, 48, 47, 46, 45, 44, 43,
		42, 41, 40, 39, 38, 37, 36, 35, 34, 33, 32, 0,
	}
	g722WL   = [8]int{-60, -30, 58, 172, 334, 538, 1198, 3042}
	g722RL42 = [16]int{0, 7, 6, 5, 4, 3, 2, 1, 7, 6, 5, 4, 3, 2, 1, 0}
	g722ILB  = [32]int{
		2048, 2093, 2139, 2186, 2233, 2282, 2332, 2383,
		2435, 2489, 2543, 2599, 2656, 2714, 2774, 2834,
		2896, 2960, 3025, 3091, 3158, 3228, 3298, 3371,
		3444, 3520, 3597, 3676, 3756, 3838, 3922, 4008,
	}
	g722QM4 = [16]int{
		0, -20456, -12896, -8968, -6288, -4240, -2584, -1200,
		20456, 12896, 8968, 6288, 4240, 2584, 1200, 0,
	}
	g722QM6 = [64]int{
		-136, -136, -136, -136, -24808, -21904, -19008, -16704,
		-14984, -13512, -12280, -11192, -10232, -9360, -8576, -7856,
		-7192, -6576, -6000, -5456, -4944, -4464, -4008, -3576,
		-3168, -2776, -2400, -2032, -1688, -1360, -1040, -728,
		24808, 21904, 19008, 16704, 14984, 13512, 12280, 11192,
		10232, 9360, 8576, 7856, 7192, 6576, 6000, 5456,
		4944, 4464, 4008, 3576, 3168, 2776, 2400, 2032,
		1688, 1360, 1040, 728, 432, 136, -432, -136,
	}
	g722QM2 = [4]int{-7408, -1616, 7408, 1616}
	g722IHN = [3]int{0, 1, 0}
	g722IHP = [3]int{0, 3, 2}
	g722WH  = [3]int{0, -214, 798}
	g722RH2 = [4]int{2, 1, 2, 1}
)

// g722Band состояние адаптивного предиктора одной полосы (Block 4)
type g722Band struct {
	s, sp, sz int
	r         [3]int
	a, ap     [3]int
	p         [3]int
	d         [7]int
	b, bp     [7]int
	sg        [7]int
	nb        int
	det       int
}

func saturate16(v int) int {
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return v
}

// block4 обновляет адаптивный предиктор полосы по реконструированной разности d
func (band *g722Band) block4(d int) {
	// RECONS / PARREC
	band.d[0] = d
	band.r[0] = saturate16(band.s + d)
	band.p[0] = saturate16(band.sz + d)

	// UPPOL2
	for i := 0; i < 3; i++ {
		band.sg[i] = band.p[i] >> 15
	}
	wd1 := saturate16(band.a[1] << 2)
	wd2 := wd1
	if band.sg[0] == band.sg[1] {
		wd2 = -wd1
	}
	if wd2 > 32767 {
		wd2 = 32767
	}
	wd3 := wd2 >> 7
	if band.sg[0] == band.sg[2] {
		wd3 += 128
	} else {
		wd3 -= 128
	}
	wd3 += (band.a[2] * 32512) >> 15
	if wd3 > 12288 {
		wd3 = 12288
	} else if wd3 < -12288 {
		wd3 = -12288
	}
	band.ap[2] = wd3

	// UPPOL1
	band.sg[0] = band.p[0] >> 15
	band.sg[1] = band.p[1] >> 15
	wd1 = -192
	if band.sg[0] == band.sg[1] {
		wd1 = 192
	}
	wd2 = (band.a[1] * 32640) >> 15
	band.ap[1] = saturate16(wd1 + wd2)
	wd3 = saturate16(15360 - band.ap[2])
	if band.ap[1] > wd3 {
		band.ap[1] = wd3
	} else if band.ap[1] < -wd3 {
		band.ap[1] = -wd3
	}

	// UPZERO
	wd1 = 0
	if d != 0 {
		wd1 = 128
	}
	band.sg[0] = d >> 15
	for i := 1; i < 7; i++ {
		band.sg[i] = band.d[i] >> 15
		wd2 = -wd1
		if band.sg[i] == band.sg[0] {
			wd2 = wd1
		}
		wd3 = (band.b[i] * 32640) >> 15
		band.bp[i] = saturate16(wd2 + wd3)
	}

	// DELAYA
	for i := 6; i > 0; i-- {
		band.d[i] = band.d[i-1]
		band.b[i] = band.bp[i]
	}
	for i := 2; i > 0; i-- {
		band.r[i] = band.r[i-1]
		band.p[i] = band.p[i-1]
		band.a[i] = band.ap[i]
	}

	// FILTEP
	wd1 = saturate16(band.r[1] + band.r[1])
	wd1 = (band.a[1] * wd1) >> 15
	wd2 = saturate16(band.r[2] + band.r[2])
	wd2 = (band.a[2] * wd2) >> 15
	band.sp = saturate16(wd1 + wd2)

	// FILTEZ
	band.sz = 0
	for i := 6; i > 0; i-- {
		wd1 = saturate16(band.d[i] + band.d[i])
		band.sz += (band.b[i] * wd1) >> 15
	}
	band.sz = saturate16(band.sz)

	// PREDIC
	band.s = saturate16(band.sp + band.sz)
}

// G722Encoder кодирует 16 kHz PCM в поток G.722 (один байт на два отсчета)
type G722Encoder struct {
	low, high g722Band
	x         [24]int
}

// NewG722Encoder создает энкодер G.722 с начальным состоянием предикторов
func NewG722Encoder() *G722Encoder {
	e := &G722Encoder{}
	e.low.det = 32
	e.high.det = 8
	return e
}

// Encode кодирует PCM отсчеты. Нечетный хвост отбрасывается:
// G.722 обрабатывает отсчеты парами.
func (e *G722Encoder) Encode(samples []int16) []byte {
	out := make([]byte, 0, len(samples)/2)

	for j := 0; j+1 < len(samples); j += 2 {
		// QMF analysis: разбиение пары отсчетов на две полосы
		copy(e.x[:22], e.x[2:24])
		e.x[22] = int(samples[j])
		e.x[23] = int(samples[j+1])

		sumEven, sumOdd := 0, 0
		for i := 0; i < 12; i++ {
			sumOdd += e.x[2*i] * g722QMFCoeffs[i]
			sumEven += e.x[2*i+1] * g722QMFCoeffs[11-i]
		}
		xlow := (sumEven + sumOdd) >> 14
		xhigh := (sumEven - sumOdd) >> 14

		// Нижняя полоса: Block 1L QUANTL
		el := saturate16(xlow - e.low.s)
		wd := el
		if el < 0 {
			wd = -(el + 1)
		}
		i := 1
		for ; i < 30; i++ {
			wd1 := (g722Q6[i] * e.low.det) >> 12
			if wd < wd1 {
				break
			}
		}
		var ilow int
		if el < 0 {
			ilow = g722ILN[i]
		} else {
			ilow = g722ILP[i]
		}

		// Block 2L INVQAL
		ril := ilow >> 2
		dlow := (e.low.det * g722QM4[ril]) >> 15

		// Block 3L LOGSCL + SCALEL
		il4 := g722RL42[ril]
		e.low.nb = ((e.low.nb * 127) >> 7) + g722WL[il4]
		if e.low.nb < 0 {
			e.low.nb = 0
		} else if e.low.nb > 18432 {
			e.low.nb = 18432
		}
		e.low.det = scaleFactor(e.low.nb, 8)

		e.low.block4(dlow)

		// Верхняя полоса: Block 1H QUANTH
		eh := saturate16(xhigh - e.high.s)
		wd = eh
		if eh < 0 {
			wd = -(eh + 1)
		}
		wd1 := (564 * e.high.det) >> 12
		mih := 1
		if wd >= wd1 {
			mih = 2
		}
		var ihigh int
		if eh < 0 {
			ihigh = g722IHN[mih]
		} else {
			ihigh = g722IHP[mih]
		}

		// Block 2H INVQAH
		dhigh := (e.high.det * g722QM2[ihigh]) >> 15

		// Block 3H LOGSCH + SCALEH
		ih2 := g722RH2[ihigh]
		e.high.nb = ((e.high.nb * 127) >> 7) + g722WH[ih2]
		if e.high.nb < 0 {
			e.high.nb = 0
		} else if e.high.nb > 22528 {
			e.high.nb = 22528
		}
		e.high.det = scaleFactor(e.high.nb, 10)

		e.high.block4(dhigh)

		out = append(out, byte((ihigh<<6)|ilow))
	}
	return out
}

// G722Decoder декодирует поток G.722 в 16 kHz PCM (два отсчета на байт)
type G722Decoder struct {
	low, high g722Band
	x         [24]int
}

// NewG722Decoder создает декодер G.722 с начальным состоянием предикторов
func NewG722Decoder() *G722Decoder {
	d := &G722Decoder{}
	d.low.det = 32
	d.high.det = 8
	return d
}

// Decode декодирует байты G.722 в PCM отсчеты
func (d *G722Decoder) Decode(data []byte) []int16 {
	out := make([]int16, 0, len(data)*2)

	for _, code := range data {
		ilow := int(code) & 0x3F
		ihigh := (int(code) >> 6) & 0x03

		// Нижняя полоса: реконструкция по 6-битному коду
		rlow := d.low.s + ((d.low.det * g722QM6[ilow]) >> 15)
		if rlow > 16383 {
			rlow = 16383
		} else if rlow < -16384 {
			rlow = -16384
		}

		// Адаптация использует усеченный 4-битный код
		ril := ilow >> 2
		dlowt := (d.low.det * g722QM4[ril]) >> 15

		il4 := g722RL42[ril]
		d.low.nb = ((d.low.nb * 127) >> 7) + g722WL[il4]
		if d.low.nb < 0 {
			d.low.nb = 0
		} else if d.low.nb > 18432 {
			d.low.nb = 18432
		}
		d.low.det = scaleFactor(d.low.nb, 8)

		d.low.block4(dlowt)

		// Верхняя полоса
		dhigh := (d.high.det * g722QM2[ihigh]) >> 15
		rhigh := dhigh + d.high.s
		if rhigh > 16383 {
			rhigh = 16383
		} else if rhigh < -16384 {
			rhigh = -16384
		}

		ih2 := g722RH2[ihigh]
		d.high.nb = ((d.high.nb * 127) >> 7) + g722WH[ih2]
		if d.high.nb < 0 {
			d.high.nb = 0
		} else if d.high.nb > 22528 {
			d.high.nb = 22528
		}
		d.high.det = scaleFactor(d.high.nb, 10)

		d.high.block4(dhigh)

		// QMF synthesis: восстановление пары 16 kHz отсчетов
		copy(d.x[:22], d.x[2:24])
		d.x[22] = rlow + rhigh
		d.x[23] = rlow - rhigh

		xout1, xout2 := 0, 0
		for i := 0; i < 12; i++ {
			xout2 += d.x[2*i] * g722QMFCoeffs[i]
			xout1 += d.x[2*i+1] * g722QMFCoeffs[11-i]
		}
		out = append(out, int16(saturate16(xout1>>11)), int16(saturate16(xout2>>11)))
	}
	return out
}

// scaleFactor вычисляет масштабный коэффициент квантователя из
// логарифмического накопителя nb (блоки SCALEL/SCALEH)
func scaleFactor(nb, shift int) int {
	wd1 := (nb >> 6) & 31
	wd2 := shift - (nb >> 11)
	var wd3 int
	if wd2 < 0 {
		wd3 = g722ILB[wd1] << uint(-wd2)
	} else {
		wd3 = g722ILB[wd1] >> uint(wd2)
	}
	return wd3 << 2
}
