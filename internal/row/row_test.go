package row

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	r := Row{Key: 0xdeadbeef, Value: 0x1234567890abcdef}

	buf := make([]byte, Size)
	r.Encode(buf)

	got := Decode(buf)
	require.Equal(t, r, got)
}

func TestEncodeAllDecodeAllRoundTrip(t *testing.T) {
	rows := []Row{
		{Key: 0, Value: 0},
		{Key: 1, Value: 1000},
		{Key: 42, Value: 1003},
	}

	buf := EncodeAll(rows)
	require.Len(t, buf, len(rows)*Size)

	got := DecodeAll(buf)
	require.Equal(t, rows, got)
}

func TestDecodeAllEmpty(t *testing.T) {
	require.Empty(t, DecodeAll(nil))
}

func TestEncodeAllEmpty(t *testing.T) {
	require.Empty(t, EncodeAll(nil))
}
