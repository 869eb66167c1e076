// Package cursor implements the random-access byte reader shared by every
// protocol decoder in this module.
//
// A Cursor never panics. Every read that would run past the end of the
// backing buffer returns ErrTruncated and leaves the cursor's position
// unchanged, so callers can decide whether to await more bytes or abort the
// current layer.
package cursor

import (
	"encoding/binary"
	"net"
	"strings"

	"github.com/pkg/errors"
)

// ErrTruncated is returned by any read that would run past the end of the
// backing buffer.
var ErrTruncated = errors.New("cursor: truncated")

// Cursor is a random-access reader over a shared, possibly growing, byte
// buffer. Frames are read from a Cursor wrapping their own immutable data.
// The outer capture envelope does not use a Cursor: package capture keeps
// its own buffer of pending bytes and resumes from the last fully parsed
// frame boundary when a block is incomplete.
type Cursor struct {
	buf []byte
	pos int
}

// New wraps buf in a Cursor positioned at offset 0. The Cursor aliases buf;
// callers must not mutate buf while the Cursor (or any sub-cursor derived
// from it) is in use.
func New(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// Len returns the total size of the backing buffer.
func (c *Cursor) Len() int { return len(c.buf) }

// Pos returns the current read offset.
func (c *Cursor) Pos() int { return c.pos }

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int { return len(c.buf) - c.pos }

// Bytes returns the whole backing buffer, regardless of position.
func (c *Cursor) Bytes() []byte { return c.buf }

// SetPos moves the cursor to an absolute offset. Out-of-range positions are
// clamped to [0, Len()].
func (c *Cursor) SetPos(pos int) {
	if pos < 0 {
		pos = 0
	}
	if pos > len(c.buf) {
		pos = len(c.buf)
	}
	c.pos = pos
}

// Advance moves the cursor forward n bytes. Fails with ErrTruncated (without
// moving) if fewer than n bytes remain.
func (c *Cursor) Advance(n int) error {
	if n < 0 || c.Remaining() < n {
		return ErrTruncated
	}
	c.pos += n
	return nil
}

// Rewind moves the cursor back n bytes, clamping at 0.
func (c *Cursor) Rewind(n int) {
	c.pos -= n
	if c.pos < 0 {
		c.pos = 0
	}
}

// Peek returns the next n bytes without advancing the cursor.
func (c *Cursor) Peek(n int) ([]byte, error) {
	if c.Remaining() < n {
		return nil, ErrTruncated
	}
	return c.buf[c.pos : c.pos+n], nil
}

func (c *Cursor) take(n int) ([]byte, error) {
	b, err := c.Peek(n)
	if err != nil {
		return nil, err
	}
	c.pos += n
	return b, nil
}

// ReadUint8 reads a single byte.
func (c *Cursor) ReadUint8() (uint8, error) {
	b, err := c.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadUint16BE reads a big-endian uint16.
func (c *Cursor) ReadUint16BE() (uint16, error) {
	b, err := c.take(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

// ReadUint16LE reads a little-endian uint16.
func (c *Cursor) ReadUint16LE() (uint16, error) {
	b, err := c.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// ReadUint24BE reads a big-endian 24-bit unsigned integer, as used by TLS
// handshake and X.509 length fields.
func (c *Cursor) ReadUint24BE() (uint32, error) {
	b, err := c.take(3)
	if err != nil {
		return 0, err
	}
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2]), nil
}

// ReadUint32BE reads a big-endian uint32.
func (c *Cursor) ReadUint32BE() (uint32, error) {
	b, err := c.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

// ReadUint32LE reads a little-endian uint32.
func (c *Cursor) ReadUint32LE() (uint32, error) {
	b, err := c.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadUint64BE reads a big-endian uint64.
func (c *Cursor) ReadUint64BE() (uint64, error) {
	b, err := c.take(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// ReadMAC reads a 6-byte hardware address.
func (c *Cursor) ReadMAC() (net.HardwareAddr, error) {
	b, err := c.take(6)
	if err != nil {
		return nil, err
	}
	mac := make(net.HardwareAddr, 6)
	copy(mac, b)
	return mac, nil
}

// ReadIPv4 reads a 4-byte IPv4 address.
func (c *Cursor) ReadIPv4() (net.IP, error) {
	b, err := c.take(4)
	if err != nil {
		return nil, err
	}
	ip := make(net.IP, 4)
	copy(ip, b)
	return ip, nil
}

// ReadIPv6 reads a 16-byte IPv6 address.
func (c *Cursor) ReadIPv6() (net.IP, error) {
	b, err := c.take(16)
	if err != nil {
		return nil, err
	}
	ip := make(net.IP, 16)
	copy(ip, b)
	return ip, nil
}

// ReadString reads a fixed-length UTF-8 substring.
func (c *Cursor) ReadString(length int) (string, error) {
	b, err := c.take(length)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Sub borrows a bounded sub-cursor over the next n bytes without advancing
// this cursor's own position past what the caller later consumes on it
// explicitly via Advance. The sub-cursor is independent: reads on it do not
// move the parent.
func (c *Cursor) Sub(n int) (*Cursor, error) {
	b, err := c.Peek(n)
	if err != nil {
		return nil, err
	}
	return &Cursor{buf: b}, nil
}

// SubAt borrows a bounded sub-cursor over buf[start:start+n] of the whole
// backing buffer, independent of the current position. Used by decoders
// (e.g. DNS name compression) that must jump to an absolute offset without
// disturbing the caller's place in the stream.
func (c *Cursor) SubAt(start, n int) (*Cursor, error) {
	if start < 0 || n < 0 || start+n > len(c.buf) {
		return nil, ErrTruncated
	}
	return &Cursor{buf: c.buf[start : start+n]}, nil
}

// SearchCRLF performs a bounded linear search for the first "\r\n" starting
// at the current position, looking at most maxBytes bytes ahead. It returns
// the offset of the '\r' relative to the current position, or -1 if not
// found within the bound. The cursor position is never changed.
func (c *Cursor) SearchCRLF(maxBytes int) int {
	end := c.pos + maxBytes
	if end > len(c.buf) || maxBytes < 0 {
		end = len(c.buf)
	}
	window := c.buf[c.pos:end]
	idx := strings.Index(string(window), "\r\n")
	if idx < 0 {
		return -1
	}
	return idx
}

// ReadDNSName parses a length-prefixed, possibly compressed DNS name
// starting at the current position. anchor is the absolute offset of the
// start of the enclosing DNS message, which back-pointers are relative to.
//
// On return, the cursor has advanced past the name as it appears at the
// call site: if the name is entirely uncompressed this is past its
// terminating zero label; if a pointer is followed, the cursor stops
// immediately after the two-byte pointer, so the caller's next read lands
// on whatever follows the name at the call site.
func (c *Cursor) ReadDNSName(anchor int) (string, error) {
	start := c.pos
	name, err := c.readDNSName(anchor, 0)
	if err != nil {
		c.pos = start
	}
	return name, err
}

func (c *Cursor) readDNSName(anchor, depth int) (string, error) {
	if depth > 16 {
		// Guards against a back-pointer cycle; real DNS messages never
		// chain pointers this deep.
		return "", errors.New("cursor: DNS name pointer loop")
	}

	var labels []string
	steps := 0

	for {
		steps++
		if steps > 128 {
			return "", errors.New("cursor: DNS name label overrun")
		}

		length, err := c.ReadUint8()
		if err != nil {
			return "", ErrTruncated
		}

		if length == 0 {
			break
		}

		if length&0xC0 == 0xC0 {
			// Back-pointer: top two bits set, low 14 bits (of this byte plus
			// the next) give the offset from anchor.
			lowByte, err := c.ReadUint8()
			if err != nil {
				return "", ErrTruncated
			}
			offset := int(length&0x3F)<<8 | int(lowByte)

			// The caller resumes immediately after this pointer pair; the
			// pointed-to suffix is read on a detached sub-cursor.
			target := anchor + offset
			if target < 0 || target >= len(c.buf) {
				return "", ErrTruncated
			}
			sub := &Cursor{buf: c.buf, pos: target}
			rest, err := sub.readDNSName(anchor, depth+1)
			if err != nil {
				return "", err
			}
			if rest != "" {
				labels = append(labels, rest)
			}
			return strings.Join(labels, "."), nil
		}

		if length&0xC0 != 0 {
			return "", errors.New("cursor: reserved DNS label length bits set")
		}

		label, err := c.ReadString(int(length))
		if err != nil {
			return "", ErrTruncated
		}
		labels = append(labels, label)
	}

	return strings.Join(labels, "."), nil
}
