package server

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"stripcast/internal/core"
)

// Viewport frame flags.
const (
	FlagRaw     byte = 0
	FlagDeflate byte = 1
)

const viewportHeaderLen = 5

var (
	// ErrShortFrame is returned when a viewport frame is truncated or its
	// payload does not match the declared size.
	ErrShortFrame = errors.New("short viewport frame")
	// ErrFrameTooLarge is returned when a dimension does not fit in 16 bits.
	ErrFrameTooLarge = errors.New("viewport frame too large")
)

var deflaters = sync.Pool{
	New: func() any {
		w, _ := flate.NewWriter(io.Discard, flate.BestSpeed)
		return w
	},
}

// EncodeViewport serializes f as [flags][width BE][height BE][rgb...]. With
// compress set the rgb payload is raw deflate at the fastest level.
func EncodeViewport(f *core.Frame, compress bool) ([]byte, error) {
	w, h := f.Width(), f.Height()
	if w > math.MaxUint16 || h > math.MaxUint16 {
		return nil, fmt.Errorf("%w: %dx%d", ErrFrameTooLarge, w, h)
	}
	rgb := f.RGB()

	var buf bytes.Buffer
	buf.Grow(viewportHeaderLen + len(rgb))
	var hdr [viewportHeaderLen]byte
	hdr[0] = FlagRaw
	if compress {
		hdr[0] = FlagDeflate
	}
	binary.BigEndian.PutUint16(hdr[1:], uint16(w))
	binary.BigEndian.PutUint16(hdr[3:], uint16(h))
	buf.Write(hdr[:])

	if !compress {
		buf.Write(rgb)
		return buf.Bytes(), nil
	}

	zw := deflaters.Get().(*flate.Writer)
	defer deflaters.Put(zw)
	zw.Reset(&buf)
	if _, err := zw.Write(rgb); err != nil {
		return nil, fmt.Errorf("deflate: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("deflate: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeViewport parses a frame produced by EncodeViewport.
func DecodeViewport(b []byte) (*core.Frame, error) {
	if len(b) < viewportHeaderLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(b))
	}
	w := int(binary.BigEndian.Uint16(b[1:]))
	h := int(binary.BigEndian.Uint16(b[3:]))
	payload := b[viewportHeaderLen:]

	switch b[0] {
	case FlagRaw:
	case FlagDeflate:
		zr := flate.NewReader(bytes.NewReader(payload))
		defer zr.Close()
		data, err := io.ReadAll(io.LimitReader(zr, int64(w*h*3)+1))
		if err != nil {
			return nil, fmt.Errorf("inflate: %w", err)
		}
		payload = data
	default:
		return nil, fmt.Errorf("unknown viewport flags 0x%02x", b[0])
	}

	if len(payload) != w*h*3 {
		return nil, fmt.Errorf("%w: %d rgb bytes for %dx%d", ErrShortFrame, len(payload), w, h)
	}
	px := make([]core.Color, w*h)
	for i := range px {
		px[i] = core.RGB(payload[i*3], payload[i*3+1], payload[i*3+2])
	}
	return core.NewFrame(w, h, px), nil
}
