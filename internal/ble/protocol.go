package ble

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"stripcast/internal/core"
)

// FrameCommand is the opcode of a pixel frame.
const FrameCommand uint16 = 0x0001

const (
	frameHeaderLen = 4
	bytesPerLED    = 4
)

// ErrBadFrame is returned when decoding a malformed device frame.
var ErrBadFrame = errors.New("malformed device frame")

// EncodeFrame builds the strip payload:
// [cmd:2 LE][count:2 LE] then brightness, r, g, b per LED.
func EncodeFrame(colors []core.Color) []byte {
	n := len(colors)
	if n > math.MaxUint16 {
		n = math.MaxUint16
	}
	buf := make([]byte, frameHeaderLen+n*bytesPerLED)
	binary.LittleEndian.PutUint16(buf[0:], FrameCommand)
	binary.LittleEndian.PutUint16(buf[2:], uint16(n))
	off := frameHeaderLen
	for _, c := range colors[:n] {
		buf[off] = c.Brightness()
		buf[off+1] = c.R()
		buf[off+2] = c.G()
		buf[off+3] = c.B()
		off += bytesPerLED
	}
	return buf
}

// DecodeFrame parses a payload produced by EncodeFrame.
func DecodeFrame(b []byte) ([]core.Color, error) {
	if len(b) < frameHeaderLen {
		return nil, fmt.Errorf("%w: %d byte header", ErrBadFrame, len(b))
	}
	if cmd := binary.LittleEndian.Uint16(b[0:]); cmd != FrameCommand {
		return nil, fmt.Errorf("%w: command 0x%04x", ErrBadFrame, cmd)
	}
	n := int(binary.LittleEndian.Uint16(b[2:]))
	if len(b) != frameHeaderLen+n*bytesPerLED {
		return nil, fmt.Errorf("%w: %d leds in %d bytes", ErrBadFrame, n, len(b))
	}
	out := make([]core.Color, n)
	for i := range out {
		off := frameHeaderLen + i*bytesPerLED
		out[i] = core.NewColor(b[off+1], b[off+2], b[off+3], b[off])
	}
	return out, nil
}
