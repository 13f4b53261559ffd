// Package proto is the wire framing shared by the snapshot transports.
//
// A frame is
//
//	magic "SC" | version | kind | flags | uint32 raw length | uint32 body length | body
//
// where body is an lz4 block when FlagCompressed is set and the raw payload
// otherwise. Lengths are big-endian.
package proto

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/pierrec/lz4"
)

const (
	Version = 1

	HeaderSize   = 2 + 1 + 1 + 1 + 4 + 4
	MaxFrameSize = 16 << 20

	// payloads below this are sent as-is
	MinCompressibleSize = 70

	FlagCompressed = 1 << 0
)

var magic = [2]byte{'S', 'C'}

var (
	ErrBadFrame      = errors.New("bad frame")
	ErrFrameTooLarge = errors.New("frame too large")
)

// Kind tags the role of a frame in an exchange.
type Kind uint8

const (
	KindPush  Kind = 1
	KindReply Kind = 2
	KindError Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindPush:
		return "push"
	case KindReply:
		return "reply"
	case KindError:
		return "error"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

func (k Kind) valid() bool {
	return k >= KindPush && k <= KindError
}

type Frame struct {
	Kind    Kind
	Payload []byte
}

// EncodeFrame compresses payload when it saves space and prepends the header.
func EncodeFrame(kind Kind, payload []byte) ([]byte, error) {
	if !kind.valid() {
		return nil, fmt.Errorf("%w: unknown kind %d", ErrBadFrame, kind)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrBadFrame)
	}
	if len(payload) > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}
	body, flags := payload, byte(0)
	if c := compress(payload); c != nil {
		body, flags = c, FlagCompressed
	}
	out := make([]byte, HeaderSize+len(body))
	copy(out[:2], magic[:])
	out[2] = Version
	out[3] = byte(kind)
	out[4] = flags
	binary.BigEndian.PutUint32(out[5:9], uint32(len(payload)))
	binary.BigEndian.PutUint32(out[9:13], uint32(len(body)))
	copy(out[HeaderSize:], body)
	return out, nil
}

// DecodeFrame parses a complete frame held in data.
func DecodeFrame(data []byte) (Frame, error) {
	return ReadFrame(bytes.NewReader(data))
}

// ReadFrame reads exactly one frame from r.
func ReadFrame(r io.Reader) (Frame, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, fmt.Errorf("%w: short header", ErrBadFrame)
		}
		return Frame{}, err
	}
	if hdr[0] != magic[0] || hdr[1] != magic[1] {
		return Frame{}, fmt.Errorf("%w: bad magic", ErrBadFrame)
	}
	if hdr[2] != Version {
		return Frame{}, fmt.Errorf("%w: unsupported version %d", ErrBadFrame, hdr[2])
	}
	kind := Kind(hdr[3])
	if !kind.valid() {
		return Frame{}, fmt.Errorf("%w: unknown kind %d", ErrBadFrame, hdr[3])
	}
	flags := hdr[4]
	if flags&^FlagCompressed != 0 {
		return Frame{}, fmt.Errorf("%w: unknown flags %#x", ErrBadFrame, flags)
	}
	rawLen := binary.BigEndian.Uint32(hdr[5:9])
	bodyLen := binary.BigEndian.Uint32(hdr[9:13])
	if rawLen == 0 || bodyLen == 0 {
		return Frame{}, fmt.Errorf("%w: empty payload", ErrBadFrame)
	}
	if rawLen > MaxFrameSize || bodyLen > MaxFrameSize {
		return Frame{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, rawLen)
	}
	compressed := flags&FlagCompressed != 0
	if !compressed && rawLen != bodyLen {
		return Frame{}, fmt.Errorf("%w: length mismatch", ErrBadFrame)
	}
	body := make([]byte, int(bodyLen))
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, fmt.Errorf("%w: short body: %v", ErrBadFrame, err)
	}
	if !compressed {
		return Frame{Kind: kind, Payload: body}, nil
	}
	payload, err := decompress(body, int(rawLen))
	if err != nil {
		return Frame{}, err
	}
	return Frame{Kind: kind, Payload: payload}, nil
}

func WriteFrame(w io.Writer, kind Kind, payload []byte) error {
	frame, err := EncodeFrame(kind, payload)
	if err != nil {
		return err
	}
	total := 0
	for total < len(frame) {
		n, err := w.Write(frame[total:])
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("short write")
		}
		total += n
	}
	return nil
}

// compress returns nil when the payload is small or incompressible.
func compress(data []byte) []byte {
	if len(data) < MinCompressibleSize {
		return nil
	}
	buf := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, buf, nil)
	if err != nil || n == 0 || n >= len(data) {
		return nil
	}
	return buf[:n]
}

func decompress(body []byte, rawLen int) ([]byte, error) {
	out := make([]byte, rawLen)
	n, err := lz4.UncompressBlock(body, out)
	if err != nil {
		return nil, fmt.Errorf("%w: lz4: %v", ErrBadFrame, err)
	}
	if n != rawLen {
		return nil, fmt.Errorf("%w: decompressed %d bytes, header says %d", ErrBadFrame, n, rawLen)
	}
	return out, nil
}
