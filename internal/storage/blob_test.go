package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRaw(side, valueSize int) []byte {
	raw := make([]byte, side*side*side*valueSize)
	for i := range raw {
		// Сжимаемые, но не константные данные
		raw[i] = byte(i / 7)
	}
	return raw
}

func TestBlobRoundTrip(t *testing.T) {
	raw := testRaw(16, 2)

	blob, err := EncodeBlob(LayoutLinear, 16, 2, raw)
	require.NoError(t, err)
	assert.Less(t, len(blob), len(raw), "данные должны сжиматься")

	hdr, decoded, err := DecodeBlob(blob)
	require.NoError(t, err)
	assert.Equal(t, raw, decoded)
	assert.Equal(t, BlobHeader{
		Version:    BlobVersion,
		Layout:     LayoutLinear,
		SideLength: 16,
		ValueSize:  2,
		RawLength:  uint32(len(raw)),
		Checksum:   hdr.Checksum,
	}, hdr)
}

func TestEncodeBlobRejectsWrongLength(t *testing.T) {
	_, err := EncodeBlob(LayoutMorton, 8, 2, make([]byte, 100))
	assert.Error(t, err)

	_, err = EncodeBlob(LayoutMorton, 8, 0, nil)
	assert.Error(t, err)
}

func TestDecodeBlobDetectsCorruption(t *testing.T) {
	raw := testRaw(8, 1)
	blob, err := EncodeBlob(LayoutMorton, 8, 1, raw)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func([]byte) []byte
		want   error
	}{
		{"short", func(b []byte) []byte { return b[:10] }, ErrCorruptBlob},
		{"magic", func(b []byte) []byte { b[0] = 'X'; return b }, ErrCorruptBlob},
		{"version", func(b []byte) []byte { b[4] = BlobVersion + 1; return b }, ErrUnsupportedVersion},
		{"layout", func(b []byte) []byte { b[5] = 9; return b }, ErrCorruptBlob},
		{"side", func(b []byte) []byte { b[6] = 3; return b }, ErrCorruptBlob},
		{"checksum", func(b []byte) []byte { b[blobHeaderSize-1] ^= 0xFF; return b }, ErrCorruptBlob},
		{"payload", func(b []byte) []byte { return b[:len(b)-3] }, ErrCorruptBlob},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			corrupted := tt.mutate(append([]byte(nil), blob...))
			_, _, err := DecodeBlob(corrupted)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestParseLayout(t *testing.T) {
	l, err := ParseLayout("linear")
	require.NoError(t, err)
	assert.Equal(t, LayoutLinear, l)
	assert.Equal(t, "linear", l.String())

	l, err = ParseLayout("")
	require.NoError(t, err)
	assert.Equal(t, LayoutMorton, l)

	_, err = ParseLayout("zigzag")
	assert.Error(t, err)
}
