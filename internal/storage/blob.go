package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	xxhash "github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"
)

// Формат блоба чанка:
//
//	magic     [4]byte "PVCK"
//	version   uint8
//	layout    uint8   (0 - Morton, 1 - построчный)
//	side      uint16
//	valueSize uint16
//	rawLen    uint32  длина несжатых данных
//	checksum  uint64  xxhash64 несжатых данных
//	payload   zstd
const (
	BlobVersion    = 1
	blobHeaderSize = 4 + 1 + 1 + 2 + 2 + 4 + 8
)

var blobMagic = [4]byte{'P', 'V', 'C', 'K'}

var (
	// ErrCorruptBlob блоб поврежден или не является блобом чанка
	ErrCorruptBlob = errors.New("storage: corrupt chunk blob")
	// ErrUnsupportedVersion блоб записан более новой версией формата
	ErrUnsupportedVersion = errors.New("storage: unsupported chunk blob version")
)

// Layout порядок вокселей в несжатых данных блоба
type Layout uint8

const (
	LayoutMorton Layout = iota
	LayoutLinear
)

// String возвращает строковое представление порядка
func (l Layout) String() string {
	switch l {
	case LayoutMorton:
		return "morton"
	case LayoutLinear:
		return "linear"
	default:
		return "unknown"
	}
}

// ParseLayout разбирает порядок из конфигурации
func ParseLayout(s string) (Layout, error) {
	switch s {
	case "morton", "":
		return LayoutMorton, nil
	case "linear":
		return LayoutLinear, nil
	default:
		return LayoutMorton, fmt.Errorf("неизвестный порядок вокселей %q", s)
	}
}

// BlobHeader заголовок блоба чанка
type BlobHeader struct {
	Version    uint8
	Layout     Layout
	SideLength uint16
	ValueSize  uint16
	RawLength  uint32
	Checksum   uint64
}

var (
	encoderOnce sync.Once
	encoder     *zstd.Encoder
	encoderErr  error

	decoderOnce sync.Once
	decoder     *zstd.Decoder
	decoderErr  error
)

// EncodeAll/DecodeAll безопасны для конкурентного использования
func getEncoder() (*zstd.Encoder, error) {
	encoderOnce.Do(func() {
		encoder, encoderErr = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	return encoder, encoderErr
}

func getDecoder() (*zstd.Decoder, error) {
	decoderOnce.Do(func() {
		decoder, decoderErr = zstd.NewReader(nil)
	})
	return decoder, decoderErr
}

// EncodeBlob упаковывает несжатые данные чанка в блоб
func EncodeBlob(layout Layout, sideLength uint16, valueSize int, raw []byte) ([]byte, error) {
	if valueSize <= 0 || valueSize > 0xFFFF {
		return nil, fmt.Errorf("недопустимый размер значения %d", valueSize)
	}
	side := int(sideLength)
	if want := side * side * side * valueSize; len(raw) != want {
		return nil, fmt.Errorf("длина данных %d не совпадает с размером чанка %d", len(raw), want)
	}

	enc, err := getEncoder()
	if err != nil {
		return nil, fmt.Errorf("ошибка создания zstd кодировщика: %w", err)
	}

	var buf bytes.Buffer
	buf.Grow(blobHeaderSize + len(raw)/4)
	buf.Write(blobMagic[:])
	_ = binary.Write(&buf, binary.LittleEndian, uint8(BlobVersion))
	_ = binary.Write(&buf, binary.LittleEndian, uint8(layout))
	_ = binary.Write(&buf, binary.LittleEndian, sideLength)
	_ = binary.Write(&buf, binary.LittleEndian, uint16(valueSize))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(raw)))
	_ = binary.Write(&buf, binary.LittleEndian, xxhash.Sum64(raw))

	return enc.EncodeAll(raw, buf.Bytes()), nil
}

// DecodeBlobHeader читает только заголовок
func DecodeBlobHeader(blob []byte) (BlobHeader, error) {
	var hdr BlobHeader
	if len(blob) < blobHeaderSize {
		return hdr, fmt.Errorf("%w: %d bytes is shorter than header", ErrCorruptBlob, len(blob))
	}
	if !bytes.Equal(blob[:4], blobMagic[:]) {
		return hdr, fmt.Errorf("%w: bad magic %q", ErrCorruptBlob, blob[:4])
	}

	r := bytes.NewReader(blob[4:blobHeaderSize])
	_ = binary.Read(r, binary.LittleEndian, &hdr.Version)
	var layout uint8
	_ = binary.Read(r, binary.LittleEndian, &layout)
	hdr.Layout = Layout(layout)
	_ = binary.Read(r, binary.LittleEndian, &hdr.SideLength)
	_ = binary.Read(r, binary.LittleEndian, &hdr.ValueSize)
	_ = binary.Read(r, binary.LittleEndian, &hdr.RawLength)
	_ = binary.Read(r, binary.LittleEndian, &hdr.Checksum)

	if hdr.Version > BlobVersion {
		return hdr, fmt.Errorf("%w: %d", ErrUnsupportedVersion, hdr.Version)
	}
	if hdr.Layout > LayoutLinear {
		return hdr, fmt.Errorf("%w: unknown layout %d", ErrCorruptBlob, layout)
	}
	side := uint64(hdr.SideLength)
	if side == 0 || side > 256 || side&(side-1) != 0 {
		return hdr, fmt.Errorf("%w: side length %d", ErrCorruptBlob, hdr.SideLength)
	}
	if side*side*side*uint64(hdr.ValueSize) != uint64(hdr.RawLength) {
		return hdr, fmt.Errorf("%w: raw length %d does not match %d^3 x %d", ErrCorruptBlob, hdr.RawLength, side, hdr.ValueSize)
	}
	return hdr, nil
}

// DecodeBlob распаковывает блоб и проверяет контрольную сумму
func DecodeBlob(blob []byte) (BlobHeader, []byte, error) {
	hdr, err := DecodeBlobHeader(blob)
	if err != nil {
		return hdr, nil, err
	}

	dec, err := getDecoder()
	if err != nil {
		return hdr, nil, fmt.Errorf("ошибка создания zstd декодера: %w", err)
	}

	raw, err := dec.DecodeAll(blob[blobHeaderSize:], make([]byte, 0, hdr.RawLength))
	if err != nil {
		return hdr, nil, fmt.Errorf("%w: %v", ErrCorruptBlob, err)
	}
	if uint32(len(raw)) != hdr.RawLength {
		return hdr, nil, fmt.Errorf("%w: length %d, header says %d", ErrCorruptBlob, len(raw), hdr.RawLength)
	}
	if sum := xxhash.Sum64(raw); sum != hdr.Checksum {
		return hdr, nil, fmt.Errorf("%w: checksum %016x, header says %016x", ErrCorruptBlob, sum, hdr.Checksum)
	}

	return hdr, raw, nil
}
