package compression

import (
	"fmt"
)

// MaxSequence максимальное значение счётчика одной серии (длина серии - 1).
const MaxSequence = 0x7FFF

// Формат серии extrle:
//
//	[counter & 0x7F | 0x80][counter >> 7][value]  при counter >= 0x80
//	[counter][value]                              иначе
//
// где counter = длина серии - 1. Для extrle16 value занимает два байта
// (little-endian).

// appendCounter дописывает счётчик серии в dst
func appendCounter(dst []byte, counter int) []byte {
	if counter >= 0x80 {
		return append(dst, 0x80|byte(counter&0x7F), byte(counter>>7))
	}
	return append(dst, byte(counter))
}

// readCounter читает счётчик серии начиная с src[i].
// Возвращает счётчик и индекс следующего байта.
func readCounter(src []byte, i int) (int, int, error) {
	counter := int(src[i])
	i++
	if counter&0x80 != 0 {
		if i >= len(src) {
			return 0, i, fmt.Errorf("%w: обрезанный расширенный счётчик", ErrCorrupted)
		}
		counter = counter&0x7F | int(src[i])<<7
		i++
	}
	return counter, i, nil
}

// EncodeExtrle8 сжимает побайтовые серии одинаковых значений
func EncodeExtrle8(src []byte) []byte {
	dst := make([]byte, 0, len(src)/8+4)
	if len(src) == 0 {
		return dst
	}

	counter := 0
	current := src[0]
	for i := 1; i < len(src); i++ {
		next := src[i]
		if next != current || counter == MaxSequence {
			dst = appendCounter(dst, counter)
			dst = append(dst, current)
			current = next
			counter = 0
		} else {
			counter++
		}
	}
	dst = appendCounter(dst, counter)
	return append(dst, current)
}

// DecodeExtrle8 распаковывает данные, сжатые EncodeExtrle8.
// dstLen задаёт точный размер результата; запись за его пределы не производится.
func DecodeExtrle8(src []byte, dstLen int) ([]byte, error) {
	dst := make([]byte, dstLen)
	pos := 0

	for i := 0; i < len(src); {
		counter, next, err := readCounter(src, i)
		if err != nil {
			return dst, err
		}
		if next >= len(src) {
			return dst, fmt.Errorf("%w: серия без значения", ErrCorrupted)
		}
		value := src[next]
		i = next + 1

		n := counter + 1
		if pos+n > dstLen {
			return dst, fmt.Errorf("%w: переполнение буфера (%d > %d)", ErrCorrupted, pos+n, dstLen)
		}
		for end := pos + n; pos < end; pos++ {
			dst[pos] = value
		}
	}

	if pos != dstLen {
		return dst, fmt.Errorf("%w: распаковано %d байт, ожидалось %d", ErrCorrupted, pos, dstLen)
	}
	return dst, nil
}

// EncodeExtrle16 сжимает серии 16-битных значений (little-endian).
// Нечётный последний байт кодируется отдельной серией с нулевым старшим байтом.
func EncodeExtrle16(src []byte) []byte {
	dst := make([]byte, 0, len(src)/8+6)
	units := len(src) / 2
	if units > 0 {
		counter := 0
		lo, hi := src[0], src[1]
		for i := 1; i < units; i++ {
			nlo, nhi := src[i*2], src[i*2+1]
			if nlo != lo || nhi != hi || counter == MaxSequence {
				dst = appendCounter(dst, counter)
				dst = append(dst, lo, hi)
				lo, hi = nlo, nhi
				counter = 0
			} else {
				counter++
			}
		}
		dst = appendCounter(dst, counter)
		dst = append(dst, lo, hi)
	}
	if len(src)%2 != 0 {
		dst = appendCounter(dst, 0)
		dst = append(dst, src[len(src)-1], 0)
	}
	return dst
}

// DecodeExtrle16 распаковывает данные, сжатые EncodeExtrle16
func DecodeExtrle16(src []byte, dstLen int) ([]byte, error) {
	dst := make([]byte, dstLen)
	pos := 0

	for i := 0; i < len(src); {
		counter, next, err := readCounter(src, i)
		if err != nil {
			return dst, err
		}
		if next+1 >= len(src) {
			return dst, fmt.Errorf("%w: серия без значения", ErrCorrupted)
		}
		lo, hi := src[next], src[next+1]
		i = next + 2

		n := counter + 1
		// последний элемент может выходить за буфер на один байт (нечётная длина)
		if pos+n*2 > dstLen+1 {
			return dst, fmt.Errorf("%w: переполнение буфера (%d > %d)", ErrCorrupted, pos+n*2, dstLen)
		}
		for k := 0; k < n; k++ {
			dst[pos] = lo
			if pos+1 < dstLen {
				dst[pos+1] = hi
			}
			pos += 2
		}
	}

	if pos != dstLen && pos != dstLen+1 {
		return dst, fmt.Errorf("%w: распаковано %d байт, ожидалось %d", ErrCorrupted, pos, dstLen)
	}
	return dst, nil
}
