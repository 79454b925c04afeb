package mllp

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// Frame bytes of the minimal lower layer protocol.
const (
	StartBlock   byte = 0x0B
	EndBlock     byte = 0x1C
	CarriageRetn byte = 0x0D
)

var (
	ErrFrameTooLarge = errors.New("mllp: frame exceeds maximum size")
	ErrBadFrame      = errors.New("mllp: malformed frame")
)

// WriteFrame writes data wrapped in start and end blocks.
func WriteFrame(w io.Writer, data []byte) error {
	buf := make([]byte, 0, len(data)+3)
	buf = append(buf, StartBlock)
	buf = append(buf, data...)
	buf = append(buf, EndBlock, CarriageRetn)
	_, err := w.Write(buf)
	return err
}

// Reader reads MLLP frames. Bytes before a start block are discarded.
type Reader struct {
	br      *bufio.Reader
	maxSize int
}

// NewReader bounds frames to maxSize bytes (0 means 16 MiB).
func NewReader(r io.Reader, maxSize int) *Reader {
	if maxSize <= 0 {
		maxSize = 16 << 20
	}
	return &Reader{br: bufio.NewReader(r), maxSize: maxSize}
}

// ReadFrame returns the payload of the next frame. io.EOF is returned when
// the stream ends between frames.
func (r *Reader) ReadFrame() ([]byte, error) {
	for {
		b, err := r.br.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == StartBlock {
			break
		}
	}

	var payload bytes.Buffer
	for {
		chunk, err := r.br.ReadSlice(EndBlock)
		if payload.Len()+len(chunk) > r.maxSize+1 {
			return nil, ErrFrameTooLarge
		}
		payload.Write(chunk)
		if err == nil {
			break
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %w", ErrBadFrame, io.ErrUnexpectedEOF)
		}
		return nil, err
	}

	next, err := r.br.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadFrame, io.ErrUnexpectedEOF)
	}
	if next != CarriageRetn {
		return nil, fmt.Errorf("%w: end block not followed by CR", ErrBadFrame)
	}
	data := payload.Bytes()
	return data[:len(data)-1], nil
}
