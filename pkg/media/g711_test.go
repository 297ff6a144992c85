package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Опорные значения опубликованных таблиц G.711 для выборочной проверки
// битовой точности (ITU-T G.711, таблицы 1 и 2)
func TestULawKnownValues(t *testing.T) {
	tests := []struct {
		name   string
		linear int16
		code   uint8
	}{
		{"Ноль", 0, 0xFF},
		{"Максимум положительный", 32767, 0x80},
		{"Максимум отрицательный", -32768, 0x00},
		{"Клиппинг", 32635, 0x80},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, EncodeULaw(tt.linear))
		})
	}
}

// TestULawFullRangeRoundTrip проверяет, что кодирование декодированного
// значения воспроизводит исходный код на всем 8-битном диапазоне.
// Единственное исключение - код 0x7F ("отрицательный ноль"): он
// декодируется в 0, каноническое кодирование которого 0xFF.
func TestULawFullRangeRoundTrip(t *testing.T) {
	for i := 0; i < 256; i++ {
		code := uint8(i)
		linear := DecodeULaw(code)
		reencoded := EncodeULaw(linear)

		expected := code
		if code == 0x7F {
			expected = 0xFF
		}
		require.Equal(t, expected, reencoded,
			"код 0x%02X декодирован в %d, перекодирован в 0x%02X", code, linear, reencoded)
	}
}

// TestALawFullRangeRoundTrip проверяет полный round trip A-law:
// A-law не имеет кода отрицательного нуля, все 256 значений
// восстанавливаются точно
func TestALawFullRangeRoundTrip(t *testing.T) {
	for i := 0; i < 256; i++ {
		code := uint8(i)
		linear := DecodeALaw(code)
		reencoded := EncodeALaw(linear)
		require.Equal(t, code, reencoded,
			"код 0x%02X декодирован в %d, перекодирован в 0x%02X", code, linear, reencoded)
	}
}

// TestULawDecodeMonotonic проверяет монотонность таблицы декодирования:
// внутри положительной ветви большие амплитуды соответствуют меньшим кодам
func TestULawDecodeMonotonic(t *testing.T) {
	// Положительные коды: 0x80..0xFF, амплитуда убывает с ростом кода
	for code := 0x80; code < 0xFF; code++ {
		require.Greater(t, DecodeULaw(uint8(code)), DecodeULaw(uint8(code+1)),
			"нарушение монотонности на коде 0x%02X", code)
	}
}

// TestALawSignSymmetry проверяет симметрию знака: декодированные значения
// кодов с противоположным знаковым битом отличаются только знаком
func TestALawSignSymmetry(t *testing.T) {
	for i := 0; i < 128; i++ {
		neg := DecodeALaw(uint8(i))
		pos := DecodeALaw(uint8(i) | 0x80)
		assert.Equal(t, int32(-neg), int32(pos),
			"асимметрия на коде 0x%02X: %d vs %d", i, neg, pos)
	}
}

// TestG711SliceHelpers проверяет пакетные конвертеры срезов
func TestG711SliceHelpers(t *testing.T) {
	samples := []int16{0, 1000, -1000, 32000, -32000}

	ulaw := EncodeULawSamples(samples)
	require.Len(t, ulaw, len(samples))
	decodedU := DecodeULawSamples(ulaw)
	require.Len(t, decodedU, len(samples))

	alaw := EncodeALawSamples(samples)
	require.Len(t, alaw, len(samples))
	decodedA := DecodeALawSamples(alaw)
	require.Len(t, decodedA, len(samples))

	// Companding с потерями, но знак и порядок величины сохраняются
	for i, orig := range samples {
		if orig > 0 {
			assert.Positive(t, decodedU[i])
			assert.Positive(t, decodedA[i])
		} else if orig < 0 {
			assert.Negative(t, decodedU[i])
			assert.Negative(t, decodedA[i])
		}
	}
}
