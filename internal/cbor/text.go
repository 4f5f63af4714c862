package cbor

import (
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ItemText renders the next data item in CBOR diagnostic notation and
// advances past it. Indefinite-length containers render like definite ones.
// The rendering is deterministic: the same bytes always produce the same
// text.
func (c *Cursor) ItemText() (string, error) {
	var b strings.Builder
	if err := c.appendItem(&b, 0); err != nil {
		return "", err
	}
	return b.String(), nil
}

// nesting depth guard for hostile input; real captures nest a handful deep
const maxTextDepth = 64

func (c *Cursor) appendItem(b *strings.Builder, depth int) error {
	if depth > maxTextDepth {
		return ErrMalformed
	}
	addl := 0
	if c.off < len(c.buf) {
		addl = int(c.buf[c.off] & 0x1F)
	}
	major, val, indef, err := c.ReadHead()
	if err != nil {
		return err
	}

	switch major {
	case MajorUint:
		b.WriteString(strconv.FormatInt(val, 10))
		return nil
	case MajorNegInt:
		b.WriteString(strconv.FormatInt(-1-val, 10))
		return nil
	case MajorBytes, MajorText:
		raw, err := c.stringBody(major, val, indef)
		if err != nil {
			return err
		}
		if major == MajorBytes {
			b.WriteString("h'")
			b.WriteString(hex.EncodeToString(raw))
			b.WriteString("'")
		} else {
			b.WriteString(strconv.Quote(string(raw)))
		}
		return nil
	case MajorArray:
		b.WriteString("[")
		first := true
		for i := int64(0); indef || i < val; i++ {
			if c.AtBreak() {
				if !indef {
					return ErrMalformed
				}
				c.ConsumeBreak()
				break
			}
			if !first {
				b.WriteString(", ")
			}
			first = false
			if err := c.appendItem(b, depth+1); err != nil {
				return err
			}
		}
		b.WriteString("]")
		return nil
	case MajorMap:
		b.WriteString("{")
		first := true
		for i := int64(0); indef || i < val; i++ {
			if c.AtBreak() {
				if !indef {
					return ErrMalformed
				}
				c.ConsumeBreak()
				break
			}
			if !first {
				b.WriteString(", ")
			}
			first = false
			if err := c.appendItem(b, depth+1); err != nil {
				return err
			}
			b.WriteString(": ")
			if err := c.appendItem(b, depth+1); err != nil {
				return err
			}
		}
		b.WriteString("}")
		return nil
	case MajorTag:
		fmt.Fprintf(b, "%d(", val)
		if err := c.appendItem(b, depth+1); err != nil {
			return err
		}
		b.WriteString(")")
		return nil
	case MajorSimple:
		return appendSimple(b, val, addl)
	}
	return ErrMalformed
}

// stringBody collects a string payload, reassembling indefinite chunks.
func (c *Cursor) stringBody(major int, val int64, indef bool) ([]byte, error) {
	if !indef {
		n := int(val)
		if n < 0 || c.off+n > len(c.buf) {
			return nil, ErrUnexpectedEnd
		}
		raw := c.buf[c.off : c.off+n]
		c.off += n
		return raw, nil
	}
	var out []byte
	for !c.AtBreak() {
		cMajor, cVal, cIndef, err := c.ReadHead()
		if err != nil {
			return nil, err
		}
		if cMajor != major || cIndef {
			return nil, ErrMalformed
		}
		n := int(cVal)
		if n < 0 || c.off+n > len(c.buf) {
			return nil, ErrUnexpectedEnd
		}
		out = append(out, c.buf[c.off:c.off+n]...)
		c.off += n
	}
	c.ConsumeBreak()
	return out, nil
}

func appendSimple(b *strings.Builder, val int64, addl int) error {
	switch addl {
	case 25:
		b.WriteString(strconv.FormatFloat(halfToFloat(uint16(val)), 'g', -1, 64))
		return nil
	case 26:
		b.WriteString(strconv.FormatFloat(float64(math.Float32frombits(uint32(val))), 'g', -1, 64))
		return nil
	case 27:
		b.WriteString(strconv.FormatFloat(math.Float64frombits(uint64(val)), 'g', -1, 64))
		return nil
	}
	switch val {
	case 20:
		b.WriteString("false")
	case 21:
		b.WriteString("true")
	case 22:
		b.WriteString("null")
	case 23:
		b.WriteString("undefined")
	default:
		fmt.Fprintf(b, "simple(%d)", val)
	}
	return nil
}

func halfToFloat(h uint16) float64 {
	sign := float64(1)
	if h&0x8000 != 0 {
		sign = -1
	}
	exp := int(h>>10) & 0x1F
	frac := int(h & 0x3FF)
	switch exp {
	case 0:
		return sign * float64(frac) * math.Pow(2, -24)
	case 31:
		if frac == 0 {
			return sign * math.Inf(1)
		}
		return math.NaN()
	}
	return sign * float64(frac+1024) * math.Pow(2, float64(exp)-25)
}
