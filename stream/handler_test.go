package stream

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aledsdavies/xrun/mask"
	"github.com/aledsdavies/xrun/xerr"
)

func TestHandler_CapturesWrites(t *testing.T) {
	h, err := New(Config{})
	require.NoError(t, err)

	_, err = h.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = h.Write([]byte("world"))
	require.NoError(t, err)
	require.NoError(t, h.Close())

	require.Equal(t, "hello world", string(h.Bytes()))
}

func TestHandler_OverflowOnSecondByte(t *testing.T) {
	h, err := New(Config{MaxBuffer: 1})
	require.NoError(t, err)

	_, err = h.Write([]byte("a"))
	require.NoError(t, err)

	_, err = h.Write([]byte("b"))
	require.Error(t, err)
	require.True(t, xerr.Of(err, xerr.KindBufferOverflow))
	require.Error(t, h.Overflow())
}

func TestHandler_NeverExceedsMaxBuffer(t *testing.T) {
	h, err := New(Config{MaxBuffer: 4})
	require.NoError(t, err)

	_, _ = h.Write([]byte("ab"))
	_, err = h.Write([]byte("cd"))
	require.NoError(t, err)

	_, err = h.Write([]byte("e"))
	require.Error(t, err)
	require.LessOrEqual(t, h.Len(), int64(4)+int64(len("e"))) // write attempted is recorded but rejected
}

func TestHandler_WriteOnceAfterClose(t *testing.T) {
	h, err := New(Config{})
	require.NoError(t, err)
	require.NoError(t, h.Close())

	_, err = h.Write([]byte("late"))
	require.Error(t, err)
}

func TestHandler_ZeroMaxBufferMeansUnbounded(t *testing.T) {
	h, err := New(Config{MaxBuffer: 0})
	require.NoError(t, err)

	big := make([]byte, 1<<20)
	_, err = h.Write(big)
	require.NoError(t, err)
}

func TestHandler_PerChunkCallbackSeesMaskedContent(t *testing.T) {
	var chunks []string
	h, err := New(Config{
		Masker: mask.New(),
		OnChunk: func(chunk []byte) {
			chunks = append(chunks, string(chunk))
		},
	})
	require.NoError(t, err)

	_, err = h.Write([]byte("Authorization: Bearer sk-123"))
	require.NoError(t, err)

	require.Len(t, chunks, 1)
	require.NotContains(t, chunks[0], "sk-123")
}

func TestHandler_FinalBytesAreMasked(t *testing.T) {
	h, err := New(Config{Masker: mask.New()})
	require.NoError(t, err)

	_, err = h.Write([]byte("Authorization: Bearer sk-123"))
	require.NoError(t, err)
	require.NoError(t, h.Close())

	require.Equal(t, "Authorization: Bearer [REDACTED]", string(h.Bytes()))
}

func TestHandler_MaskingDoesNotAffectOverflowAccounting(t *testing.T) {
	// The raw secret is long; masked output would be shorter. The overflow
	// check must use the raw byte count, not the masked length.
	h, err := New(Config{MaxBuffer: 5, Masker: mask.New()})
	require.NoError(t, err)

	_, err = h.Write([]byte("Authorization: Bearer sk-123")) // far over 5 raw bytes
	require.Error(t, err)
	require.True(t, xerr.Of(err, xerr.KindBufferOverflow))
}

func TestHandler_UnknownEncodingIsValidationError(t *testing.T) {
	_, err := New(Config{Encoding: "not-a-real-encoding"})
	require.Error(t, err)
	require.True(t, xerr.Of(err, xerr.KindValidation))
}

func TestHandler_EmptyWriteIsFine(t *testing.T) {
	h, err := New(Config{})
	require.NoError(t, err)
	n, err := h.Write(nil)
	require.NoError(t, err)
	require.Equal(t, 0, n)
}
