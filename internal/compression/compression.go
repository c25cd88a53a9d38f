package compression

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"gopkg.in/yaml.v3"
)

// Method идентификатор схемы сжатия слоя.
// Значение записывается в байт флагов заголовка регион-файла, поэтому
// существующие номера менять нельзя.
type Method uint8

const (
	None Method = iota
	Extrle8
	Extrle16
	Gzip
	Zstd
	Snappy

	methodCount // всегда последний
)

var (
	// ErrCorrupted данные не соответствуют формату сжатия
	ErrCorrupted = errors.New("повреждённые сжатые данные")
	// ErrUnknownMethod неизвестная схема сжатия
	ErrUnknownMethod = errors.New("неизвестный метод сжатия")
)

var methodNames = [methodCount]string{
	None:     "none",
	Extrle8:  "extrle8",
	Extrle16: "extrle16",
	Gzip:     "gzip",
	Zstd:     "zstd",
	Snappy:   "snappy",
}

// String возвращает имя метода, используемое в конфигурации
func (m Method) String() string {
	if m < methodCount {
		return methodNames[m]
	}
	return fmt.Sprintf("method(%d)", uint8(m))
}

// Valid сообщает, известен ли метод
func (m Method) Valid() bool {
	return m < methodCount
}

// ParseMethod разбирает имя метода из конфигурации
func ParseMethod(name string) (Method, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for m, n := range methodNames {
		if n == name {
			return Method(m), nil
		}
	}
	return None, fmt.Errorf("%w: %q", ErrUnknownMethod, name)
}

// MarshalYAML/UnmarshalYAML позволяют задавать метод строкой в YAML
func (m Method) MarshalYAML() (interface{}, error) {
	return m.String(), nil
}

func (m *Method) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := ParseMethod(value.Value)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

var (
	zstdOnce    sync.Once
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
	zstdErr     error
)

// zstdCodec лениво создаёт общий энкодер/декодер.
// EncodeAll/DecodeAll безопасны для конкурентного использования.
func zstdCodec() (*zstd.Encoder, *zstd.Decoder, error) {
	zstdOnce.Do(func() {
		zstdEncoder, zstdErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if zstdErr != nil {
			return
		}
		zstdDecoder, zstdErr = zstd.NewReader(nil)
	})
	return zstdEncoder, zstdDecoder, zstdErr
}

// Compress сжимает src выбранным методом. Результат никогда не разделяет память с src.
func Compress(method Method, src []byte) ([]byte, error) {
	switch method {
	case None:
		return bytes.Clone(src), nil
	case Extrle8:
		return EncodeExtrle8(src), nil
	case Extrle16:
		return EncodeExtrle16(src), nil
	case Gzip:
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		if _, err := gz.Write(src); err != nil {
			return nil, err
		}
		if err := gz.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case Zstd:
		enc, _, err := zstdCodec()
		if err != nil {
			return nil, fmt.Errorf("не удалось создать zstd энкодер: %w", err)
		}
		return enc.EncodeAll(src, make([]byte, 0, len(src)/4+16)), nil
	case Snappy:
		return snappy.Encode(nil, src), nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMethod, uint8(method))
	}
}

// Decompress распаковывает src; srcLen - размер исходных данных.
// Результат длиннее или короче srcLen считается повреждением.
func Decompress(method Method, src []byte, srcLen int) ([]byte, error) {
	var (
		out []byte
		err error
	)

	switch method {
	case None:
		out = bytes.Clone(src)
	case Extrle8:
		return DecodeExtrle8(src, srcLen)
	case Extrle16:
		return DecodeExtrle16(src, srcLen)
	case Gzip:
		gz, gzErr := gzip.NewReader(bytes.NewReader(src))
		if gzErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupted, gzErr)
		}
		defer gz.Close()

		out = make([]byte, srcLen)
		if _, err = io.ReadFull(gz, out); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
		}
	case Zstd:
		_, dec, codecErr := zstdCodec()
		if codecErr != nil {
			return nil, fmt.Errorf("не удалось создать zstd декодер: %w", codecErr)
		}
		out, err = dec.DecodeAll(src, make([]byte, 0, srcLen))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
		}
	case Snappy:
		out, err = snappy.Decode(nil, src)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
		}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownMethod, uint8(method))
	}

	if len(out) != srcLen {
		return nil, fmt.Errorf("%w: распаковано %d байт, ожидалось %d", ErrCorrupted, len(out), srcLen)
	}
	return out, nil
}
