package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// DefaultMaxFrameBytes is the cap applied to a decoded frame body when the
// caller does not configure one explicitly.
const DefaultMaxFrameBytes = 16 << 20 // 16 MiB

// ErrBadFrame is returned for an unknown tag, a truncated body, or a
// length prefix that exceeds the configured cap.
var ErrBadFrame = errors.New("wire: bad frame")

// Encode appends the length-delimited, tagged encoding of p to dst and
// returns the extended slice.
func Encode(dst []byte, p Packet) ([]byte, error) {
	body, err := encodeBody(p)
	if err != nil {
		return nil, err
	}

	frame := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(frame, uint32(len(body)))
	copy(frame[4:], body)
	return append(dst, frame...), nil
}

func encodeBody(p Packet) ([]byte, error) {
	var buf []byte
	buf = append(buf, byte(p.tag()))

	switch v := p.(type) {
	case Join:
		buf = appendPresence(buf, v.Presence)
	case GetPeers:
		if v.List == nil {
			buf = append(buf, 0)
		} else {
			buf = append(buf, 1)
			buf = appendUint32(buf, uint32(len(v.List)))
			for _, pr := range v.List {
				buf = appendPresence(buf, pr)
			}
		}
	case Push:
		buf = appendBytes(buf, v.Data)
	default:
		return nil, fmt.Errorf("wire: unknown packet type %T", p)
	}
	return buf, nil
}

func appendUint32(dst []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(dst, b[:]...)
}

func appendBytes(dst []byte, b []byte) []byte {
	dst = appendUint32(dst, uint32(len(b)))
	return append(dst, b...)
}

func appendString(dst []byte, s string) []byte {
	return appendBytes(dst, []byte(s))
}

func appendPresence(dst []byte, p Presence) []byte {
	dst = appendString(dst, p.ID)
	dst = appendString(dst, p.Addr)
	return dst
}

// Decode reads exactly one length-delimited frame from r and decodes its
// body. maxFrameBytes <= 0 means DefaultMaxFrameBytes. io.EOF is returned
// verbatim so callers can distinguish clean stream end from a codec error.
func Decode(r io.Reader, maxFrameBytes int) (Packet, error) {
	if maxFrameBytes <= 0 {
		maxFrameBytes = DefaultMaxFrameBytes
	}

	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated length prefix", ErrBadFrame)
		}
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if int(n) > maxFrameBytes {
		return nil, fmt.Errorf("%w: frame length %d exceeds cap %d", ErrBadFrame, n, maxFrameBytes)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("%w: truncated body: %v", ErrBadFrame, err)
	}

	return decodeBody(body)
}

func decodeBody(body []byte) (Packet, error) {
	if len(body) < 1 {
		return nil, fmt.Errorf("%w: empty body", ErrBadFrame)
	}
	tag := Tag(body[0])
	rest := body[1:]

	switch tag {
	case TagJoin:
		pr, _, err := readPresence(rest)
		if err != nil {
			return nil, err
		}
		return Join{Presence: pr}, nil

	case TagGetPeers:
		if len(rest) < 1 {
			return nil, fmt.Errorf("%w: truncated GetPeers", ErrBadFrame)
		}
		if rest[0] == 0 {
			return GetPeers{List: nil}, nil
		}
		count, rest, err := readUint32(rest[1:])
		if err != nil {
			return nil, err
		}
		list := make([]Presence, 0, count)
		for i := uint32(0); i < count; i++ {
			var pr Presence
			pr, rest, err = readPresence(rest)
			if err != nil {
				return nil, err
			}
			list = append(list, pr)
		}
		return GetPeers{List: list}, nil

	case TagPush:
		data, _, err := readBytes(rest)
		if err != nil {
			return nil, err
		}
		return Push{Data: data}, nil

	default:
		return nil, fmt.Errorf("%w: unknown tag %d", ErrBadFrame, tag)
	}
}

func readUint32(b []byte) (uint32, []byte, error) {
	if len(b) < 4 {
		return 0, nil, fmt.Errorf("%w: truncated uint32", ErrBadFrame)
	}
	return binary.BigEndian.Uint32(b), b[4:], nil
}

func readBytes(b []byte) ([]byte, []byte, error) {
	n, rest, err := readUint32(b)
	if err != nil {
		return nil, nil, err
	}
	if uint64(len(rest)) < uint64(n) {
		return nil, nil, fmt.Errorf("%w: truncated bytes field", ErrBadFrame)
	}
	return rest[:n], rest[n:], nil
}

func readString(b []byte) (string, []byte, error) {
	raw, rest, err := readBytes(b)
	if err != nil {
		return "", nil, err
	}
	return string(raw), rest, nil
}

func readPresence(b []byte) (Presence, []byte, error) {
	id, rest, err := readString(b)
	if err != nil {
		return Presence{}, nil, err
	}
	addr, rest, err := readString(rest)
	if err != nil {
		return Presence{}, nil, err
	}
	return Presence{ID: id, Addr: addr}, rest, nil
}
