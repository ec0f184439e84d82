package bridge

import (
	"errors"
	"io"
)

// Wire framing: 1 type byte, 2-byte big-endian payload length, payload.
// The same layout is used inside the store-and-forward ring, so a queued
// frame is copied to the link verbatim.

const (
	framePing  byte = 0x01
	framePong  byte = 0x02
	framePub   byte = 0x10
	frameClose byte = 0x7f
)

const (
	frameHeaderLen  = 3
	maxFramePayload = 0xFFFF
)

var errFrameTooLarge = errors.New("bridge: frame too large")

// Frame is one unit on the link.
type Frame struct {
	Type    byte
	Payload []byte
}

// appendFrame serialises a frame onto buf and returns the extended slice.
func appendFrame(buf []byte, typ byte, payload []byte) ([]byte, error) {
	if len(payload) > maxFramePayload {
		return buf, errFrameTooLarge
	}
	buf = append(buf, typ, byte(len(payload)>>8), byte(len(payload)))
	return append(buf, payload...), nil
}

type framedReader struct{ r io.Reader }

func newFramedReader(r io.Reader) *framedReader { return &framedReader{r: r} }

func (fr *framedReader) ReadFrame() (Frame, error) {
	var hdr [frameHeaderLen]byte
	if _, err := io.ReadFull(fr.r, hdr[:]); err != nil {
		return Frame{}, err
	}
	n := int(hdr[1])<<8 | int(hdr[2])
	var buf []byte
	if n > 0 {
		buf = make([]byte, n)
		if _, err := io.ReadFull(fr.r, buf); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Type: hdr[0], Payload: buf}, nil
}

type framedWriter struct{ w io.Writer }

func newFramedWriter(w io.Writer) *framedWriter { return &framedWriter{w: w} }

func (fw *framedWriter) WriteFrame(f Frame) error {
	if len(f.Payload) > maxFramePayload {
		return errFrameTooLarge
	}
	hdr := [frameHeaderLen]byte{f.Type, byte(len(f.Payload) >> 8), byte(len(f.Payload))}
	if _, err := fw.w.Write(hdr[:]); err != nil {
		return err
	}
	if len(f.Payload) > 0 {
		_, err := fw.w.Write(f.Payload)
		return err
	}
	return nil
}
