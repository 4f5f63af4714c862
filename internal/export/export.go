// Package export renders decoded C-DNS transactions as text. It resolves
// table references through the block tables and names DNS code points the
// way the rest of the ecosystem spells them.
package export

import (
	"fmt"
	"strings"

	"github.com/miekg/dns"

	"github.com/dnsscience/cdnsreader/internal/cdns"
)

// QueryLine renders one transaction as a single line, the compact form used
// for trace comparison: sizes, signature flags, and for captured queries the
// start time, opcode, rcode, DNS flags, query name and classtype.
func QueryLine(f *cdns.File, q *cdns.Query) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Qsize: %d, rsize:%d", q.QuerySize, q.ResponseSize)

	tables := &f.Block().Tables
	sig, ok := tables.Signature(q.QuerySignatureIndex)
	if !ok {
		b.WriteString(", qsig = NULL")
		return b.String()
	}

	fmt.Fprintf(&b, ", flags = %x, ", sig.QRSigFlags)

	if !sig.QueryPresent() {
		b.WriteString("response only.")
		return b.String()
	}

	queryTimeUsec := f.Block().BlockStartUs + uint64(q.TimeOffsetUsec)
	fmt.Fprintf(&b, "t: %d, op: %d, r: %d, flags: %x, ",
		queryTimeUsec, sig.QueryOpcode, sig.QueryRcode, sig.QRDNSFlags)

	if name, ok := tables.Name(q.QueryNameIndex); ok {
		b.WriteString(NameString(name))
	} else {
		fmt.Fprintf(&b, "name_index %d", q.QueryNameIndex)
	}

	if ct, ok := tables.ClassType(sig.QueryClasstypeIndex); ok {
		fmt.Fprintf(&b, ", CL=%d, RR=%d", ct.RRClass, ct.RRType)
	} else if sig.QueryClasstypeIndex != 0 {
		fmt.Fprintf(&b, ", classtype_index = %d", sig.QueryClasstypeIndex)
	}

	return b.String()
}

// NameString renders a DNS wire-format name (a run of length-prefixed
// labels) as presentation text. Dots and backslashes inside labels are
// escaped, other non-printable bytes render as \DDD. Truncated or
// over-long labels stop the rendering with a length marker.
func NameString(wire []byte) string {
	if len(wire) == 0 {
		return "."
	}

	var b strings.Builder
	i := 0
	for i < len(wire) {
		l := int(wire[i])
		i++
		if l == 0 {
			// The root label ends the name and adds no trailing dot.
			break
		}
		if i > 1 {
			b.WriteByte('.')
		}
		if l >= 64 || i+l > len(wire) {
			if l != 0x80 {
				fmt.Fprintf(&b, "L=%02x?", l)
			}
			break
		}
		for _, c := range wire[i : i+l] {
			switch {
			case c == '.' || c == '\\':
				b.WriteByte('\\')
				b.WriteByte(c)
			case c >= 0x20 && c <= 0x7E:
				b.WriteByte(c)
			default:
				fmt.Fprintf(&b, "\\%03d", c)
			}
		}
		i += l
	}
	return b.String()
}

// Describe renders a query signature in human-readable form, naming the
// opcode, rcodes and transport.
func Describe(sig *cdns.QuerySignature, schema cdns.Schema) string {
	var parts []string

	parts = append(parts, fmt.Sprintf("transport=%s/%s",
		sig.IPProtocol(schema), sig.TransportProtocol(schema)))

	if op, ok := dns.OpcodeToString[int(sig.QueryOpcode)]; ok {
		parts = append(parts, "op="+op)
	} else {
		parts = append(parts, fmt.Sprintf("op=%d", sig.QueryOpcode))
	}

	rcode := func(v int64) string {
		if s, ok := dns.RcodeToString[int(v)]; ok {
			return s
		}
		return fmt.Sprintf("%d", v)
	}
	if sig.QueryPresent() {
		parts = append(parts, "qr="+rcode(sig.QueryRcode))
	}
	if sig.ResponsePresent() {
		parts = append(parts, "rr="+rcode(sig.ResponseRcode))
	}

	return strings.Join(parts, " ")
}

// ClassTypeString names a classtype table entry, e.g. "IN A".
func ClassTypeString(ct cdns.ClassID) string {
	cl, ok := dns.ClassToString[uint16(ct.RRClass)]
	if !ok {
		cl = fmt.Sprintf("CLASS%d", ct.RRClass)
	}
	ty, ok := dns.TypeToString[uint16(ct.RRType)]
	if !ok {
		ty = fmt.Sprintf("TYPE%d", ct.RRType)
	}
	return cl + " " + ty
}
