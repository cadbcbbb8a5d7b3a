// Package stream implements the bounded, write-once byte capture used for a
// Command's stdout/stderr (spec §4.2). A Handler counts bytes against a
// configured maximum, decodes the accumulated bytes per a configured
// encoding, and optionally invokes a per-chunk callback with masked content.
package stream

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/ianaindex"

	"github.com/aledsdavies/xrun/xerr"
)

// ChunkFunc receives each chunk as it is written, already masked. Handlers
// must not block long — the same constraint the event bus places on
// subscribers.
type ChunkFunc func(chunk []byte)

// Masker is the minimal surface Handler needs from mask.Masker, expressed
// locally to avoid a dependency cycle.
type Masker interface {
	Mask(string) string
}

// Config configures a Handler.
type Config struct {
	MaxBuffer int64 // 0 means unbounded
	Encoding  string
	OnChunk   ChunkFunc
	Masker    Masker
}

// Handler is a write-once bounded byte sink. After Close, Bytes/Text return
// the final accumulated, decoded content; further writes are rejected.
type Handler struct {
	mu        sync.Mutex
	maxBuffer int64
	written   int64
	buf       bytes.Buffer
	decoder   *encoding.Decoder
	onChunk   ChunkFunc
	masker    Masker
	closed    bool
	overflow  error
}

// New builds a Handler from cfg. An unknown, non-empty Encoding name is a
// validation error because an invalid encoding can silently corrupt captured
// output; an empty Encoding means "use the bytes as-is" (UTF-8 assumed).
func New(cfg Config) (*Handler, error) {
	h := &Handler{
		maxBuffer: cfg.MaxBuffer,
		onChunk:   cfg.OnChunk,
		masker:    cfg.Masker,
	}

	if cfg.Encoding != "" {
		enc, err := ianaindex.IANA.Encoding(cfg.Encoding)
		if err != nil || enc == nil {
			return nil, xerr.New(xerr.KindValidation, fmt.Sprintf("unknown stream encoding %q", cfg.Encoding))
		}
		h.decoder = enc.NewDecoder()
	}

	return h, nil
}

// Write implements io.Writer. It counts bytes against maxBuffer before
// accounting for masking/decoding, so overflow detection is based on the raw
// stream size, never on the (possibly shorter) masked text.
func (h *Handler) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return 0, fmt.Errorf("stream: write after close")
	}
	if h.overflow != nil {
		return 0, h.overflow
	}

	h.written += int64(len(p))
	if h.maxBuffer > 0 && h.written > h.maxBuffer {
		h.overflow = xerr.New(xerr.KindBufferOverflow, fmt.Sprintf("captured stream exceeded max buffer of %d bytes", h.maxBuffer))
		return 0, h.overflow
	}

	h.buf.Write(p)

	if h.onChunk != nil {
		chunk := p
		if h.masker != nil {
			chunk = []byte(h.masker.Mask(string(p)))
		}
		h.onChunk(chunk)
	}

	return len(p), nil
}

// Close finalizes the handler. Calling Close more than once is a no-op.
func (h *Handler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

// Overflow returns the buffer-overflow error, if the stream exceeded
// maxBuffer, else nil.
func (h *Handler) Overflow() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.overflow
}

// Bytes returns the final accumulated, decoded content. Safe to call before
// or after Close (the captured bytes don't change after the source closes).
func (h *Handler) Bytes() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()

	raw := h.buf.Bytes()
	decoded := raw
	if h.decoder != nil {
		if d, _, err := transformAll(h.decoder, raw); err == nil {
			decoded = d
		}
		// On decode error, fall back to raw bytes rather than losing
		// captured output.
	}

	if h.masker == nil {
		out := make([]byte, len(decoded))
		copy(out, decoded)
		return out
	}
	return []byte(h.masker.Mask(string(decoded)))
}

// transformAll runs a decoder over the entirety of src.
func transformAll(dec *encoding.Decoder, src []byte) ([]byte, int, error) {
	var out bytes.Buffer
	w := dec.Writer(&out)
	n, err := w.Write(src)
	if err != nil {
		return nil, n, err
	}
	return out.Bytes(), n, nil
}

// Len reports the number of raw bytes written so far (pre-decode, pre-mask).
func (h *Handler) Len() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.written
}

var _ io.WriteCloser = (*Handler)(nil)
