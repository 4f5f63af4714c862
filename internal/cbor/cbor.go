package cbor

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed indicates wire structure that does not match expectation:
	// wrong major type, impossible length, or a stray break mark inside a
	// definite-length container.
	ErrMalformed = errors.New("malformed CBOR value")

	// ErrIllegalValue indicates a well-formed value the schema forbids.
	ErrIllegalValue = errors.New("illegal CBOR value")

	// ErrEndOfArray signals clean termination of an indefinite-length
	// container or of block iteration. It plays the role io.EOF plays for
	// readers and is not a decode failure.
	ErrEndOfArray = errors.New("end of array")

	// ErrUnexpectedEnd indicates truncated input
	ErrUnexpectedEnd = errors.New("unexpected end of input")
)

// CBOR major types (RFC 8949 Section 3)
const (
	MajorUint   = 0
	MajorNegInt = 1
	MajorBytes  = 2
	MajorText   = 3
	MajorArray  = 4
	MajorMap    = 5
	MajorTag    = 6
	MajorSimple = 7
)

const breakMark = 0xFF

// Cursor walks a CBOR byte stream held entirely in memory. Byte and text
// values returned by the cursor borrow into the underlying buffer; they stay
// valid as long as the buffer does.
type Cursor struct {
	buf []byte
	off int
}

// NewCursor creates a cursor positioned at the start of buf.
func NewCursor(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// Offset returns the current position in the buffer.
func (c *Cursor) Offset() int { return c.off }

// Done reports whether the cursor has consumed the whole buffer.
func (c *Cursor) Done() bool { return c.off >= len(c.buf) }

// PeekMajor returns the major type of the next data item without consuming it.
func (c *Cursor) PeekMajor() (int, error) {
	if c.off >= len(c.buf) {
		return 0, ErrUnexpectedEnd
	}
	return int(c.buf[c.off] >> 5), nil
}

// AtBreak reports whether the next byte is the 0xFF break mark.
func (c *Cursor) AtBreak() bool {
	return c.off < len(c.buf) && c.buf[c.off] == breakMark
}

// ConsumeBreak consumes a break mark previously observed with AtBreak.
func (c *Cursor) ConsumeBreak() {
	if c.AtBreak() {
		c.off++
	}
}

// ReadHead decodes the initial byte and argument of the next data item.
// For container types an additional-info value of 31 reports an
// indefinite-length header through indef instead of a count.
func (c *Cursor) ReadHead() (major int, val int64, indef bool, err error) {
	if c.off >= len(c.buf) {
		return 0, 0, false, ErrUnexpectedEnd
	}
	ib := c.buf[c.off]
	if ib == breakMark {
		return 0, 0, false, ErrMalformed
	}
	c.off++
	major = int(ib >> 5)
	addl := int(ib & 0x1F)

	switch {
	case addl < 24:
		return major, int64(addl), false, nil
	case addl == 24, addl == 25, addl == 26, addl == 27:
		width := 1 << (addl - 24)
		if c.off+width > len(c.buf) {
			return 0, 0, false, ErrUnexpectedEnd
		}
		var v uint64
		for i := 0; i < width; i++ {
			v = v<<8 | uint64(c.buf[c.off+i])
		}
		c.off += width
		// Simple/float payloads are raw bit patterns; everything else is a
		// count or integer value that must fit a signed 64-bit range.
		if v > 0x7FFFFFFFFFFFFFFF && major != MajorSimple {
			return 0, 0, false, ErrMalformed
		}
		return major, int64(v), false, nil
	case addl == 31:
		switch major {
		case MajorBytes, MajorText, MajorArray, MajorMap:
			return major, 0, true, nil
		}
		return 0, 0, false, ErrMalformed
	default:
		return 0, 0, false, ErrMalformed
	}
}

// Int decodes an integer item. Negative integers (major type 1, encoding
// -1-n) are accepted only when allowNegative is set; the schema layer sets it
// for the block timestamp, the query time offset and delay, the
// address-event fields and the collection-parameter integers.
func (c *Cursor) Int(allowNegative bool) (int64, error) {
	major, val, indef, err := c.ReadHead()
	if err != nil {
		return 0, err
	}
	if indef {
		return 0, ErrMalformed
	}
	switch major {
	case MajorUint:
		return val, nil
	case MajorNegInt:
		if !allowNegative {
			return 0, ErrMalformed
		}
		return -1 - val, nil
	}
	return 0, ErrMalformed
}

// Bool decodes a boolean item.
func (c *Cursor) Bool() (bool, error) {
	major, val, indef, err := c.ReadHead()
	if err != nil {
		return false, err
	}
	if indef || major != MajorSimple {
		return false, ErrMalformed
	}
	switch val {
	case 20:
		return false, nil
	case 21:
		return true, nil
	}
	return false, ErrMalformed
}

// Bytes decodes a definite-length byte string as a view into the buffer.
func (c *Cursor) Bytes() ([]byte, error) {
	return c.chunk(MajorBytes)
}

// Text decodes a definite-length text string.
func (c *Cursor) Text() (string, error) {
	b, err := c.chunk(MajorText)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (c *Cursor) chunk(want int) ([]byte, error) {
	major, val, indef, err := c.ReadHead()
	if err != nil {
		return nil, err
	}
	if major != want || indef {
		return nil, ErrMalformed
	}
	n := int(val)
	if n < 0 || c.off+n > len(c.buf) {
		return nil, ErrUnexpectedEnd
	}
	b := c.buf[c.off : c.off+n : c.off+n]
	c.off += n
	return b, nil
}

// ParseArray decodes an array header and invokes fn once per element. Both
// definite and indefinite forms are accepted; a break mark inside a definite
// array is malformed, and fn is expected to consume exactly one item.
func (c *Cursor) ParseArray(fn func(i int) error) error {
	major, count, indef, err := c.ReadHead()
	if err != nil {
		return err
	}
	if major != MajorArray {
		return ErrMalformed
	}
	for i := 0; indef || int64(i) < count; i++ {
		if c.AtBreak() {
			if !indef {
				return ErrMalformed
			}
			c.ConsumeBreak()
			return nil
		}
		if c.Done() {
			return ErrUnexpectedEnd
		}
		if err := fn(i); err != nil {
			return err
		}
	}
	return nil
}

// ParseMap decodes a map header and invokes fn once per entry with the
// entry's unsigned-integer key; fn consumes the value. Non-integer keys are
// malformed: the schema addresses every map by small integer codes.
func (c *Cursor) ParseMap(fn func(key int64) error) error {
	major, count, indef, err := c.ReadHead()
	if err != nil {
		return err
	}
	if major != MajorMap {
		return ErrMalformed
	}
	for i := int64(0); indef || i < count; i++ {
		if c.AtBreak() {
			if !indef {
				return ErrMalformed
			}
			c.ConsumeBreak()
			return nil
		}
		if c.Done() {
			return ErrUnexpectedEnd
		}
		kMajor, key, kIndef, err := c.ReadHead()
		if err != nil {
			return err
		}
		if kMajor != MajorUint || kIndef {
			return ErrMalformed
		}
		if err := fn(key); err != nil {
			return err
		}
	}
	return nil
}

// Skip advances past exactly one data item, recursing through containers.
func (c *Cursor) Skip() error {
	major, val, indef, err := c.ReadHead()
	if err != nil {
		return err
	}

	switch major {
	case MajorUint, MajorNegInt:
		return nil
	case MajorBytes, MajorText:
		if !indef {
			n := int(val)
			if n < 0 || c.off+n > len(c.buf) {
				return ErrUnexpectedEnd
			}
			c.off += n
			return nil
		}
		// Indefinite strings carry definite chunks of the same major type.
		for !c.AtBreak() {
			cMajor, cVal, cIndef, err := c.ReadHead()
			if err != nil {
				return err
			}
			if cMajor != major || cIndef {
				return ErrMalformed
			}
			n := int(cVal)
			if n < 0 || c.off+n > len(c.buf) {
				return ErrUnexpectedEnd
			}
			c.off += n
		}
		c.ConsumeBreak()
		return nil
	case MajorArray, MajorMap:
		items := val
		if major == MajorMap {
			items *= 2
		}
		for i := int64(0); indef || i < items; i++ {
			if c.AtBreak() {
				if !indef {
					return ErrMalformed
				}
				c.ConsumeBreak()
				return nil
			}
			if err := c.Skip(); err != nil {
				return err
			}
		}
		return nil
	case MajorTag:
		return c.Skip()
	case MajorSimple:
		return nil
	}
	return fmt.Errorf("%w: major type %d", ErrMalformed, major)
}
