package cdns

// Hand-rolled CBOR emitter for building synthetic captures in tests. Kept
// deliberately tiny: the library never writes C-DNS, so this stays out of
// the production tree.

type enc struct {
	b []byte
}

func (e *enc) raw(p ...byte) { e.b = append(e.b, p...) }

func (e *enc) head(major int, n uint64) {
	switch {
	case n < 24:
		e.raw(byte(major<<5 | int(n)))
	case n < 0x100:
		e.raw(byte(major<<5|24), byte(n))
	case n < 0x10000:
		e.raw(byte(major<<5|25), byte(n>>8), byte(n))
	case n < 0x100000000:
		e.raw(byte(major<<5|26), byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	default:
		e.raw(byte(major<<5|27),
			byte(n>>56), byte(n>>48), byte(n>>40), byte(n>>32),
			byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
	}
}

func (e *enc) u(v uint64) { e.head(0, v) }

func (e *enc) i(v int64) {
	if v < 0 {
		e.head(1, uint64(-1-v))
	} else {
		e.head(0, uint64(v))
	}
}

func (e *enc) bstr(p []byte) {
	e.head(2, uint64(len(p)))
	e.b = append(e.b, p...)
}

func (e *enc) tstr(s string) {
	e.head(3, uint64(len(s)))
	e.b = append(e.b, s...)
}

func (e *enc) arr(n int) { e.head(4, uint64(n)) }
func (e *enc) mp(n int)  { e.head(5, uint64(n)) }
func (e *enc) arrIndef() { e.raw(4<<5 | 31) }
func (e *enc) mapIndef() { e.raw(5<<5 | 31) }
func (e *enc) brk()      { e.raw(0xFF) }

func (e *enc) boolean(v bool) {
	if v {
		e.raw(0xF5)
	} else {
		e.raw(0xF4)
	}
}

// exampleName is "example.com" in DNS wire format.
var exampleName = []byte{7, 'e', 'x', 'a', 'm', 'p', 'l', 'e', 3, 'c', 'o', 'm', 0}

// captureSpec describes one logical transaction trace that can be encoded
// in either wire layout.
type captureSpec struct {
	TicksPerSecond int64 // RFC only; 0 means omit block parameters entirely
	MaxBlockItems  int64
	BlockSec       int64
	BlockUsec      int64 // raw wire value (ticks under RFC)

	TransportFlagsRFC   int64
	TransportFlagsDraft int64
	SigFlagsRFC         int64
	SigFlagsDraft       int64
	QueryOpcode         int64
	QueryRcode          int64
	QRDNSFlags          int64

	QueryCount int
}

func defaultSpec() captureSpec {
	return captureSpec{
		TicksPerSecond: 1000000,
		MaxBlockItems:  100,
		BlockSec:       1555000000,
		BlockUsec:      250,
		// ipv6 + tcp + trailing bytes, in each layout's packing
		TransportFlagsRFC:   0x23,
		TransportFlagsDraft: 0x07,
		// query + response + query OPT + response with no question
		SigFlagsRFC:   0x27,
		SigFlagsDraft: 0x2B,
		QueryOpcode:   0,
		QueryRcode:    3,
		QRDNSFlags:    0x0104,
		QueryCount:    1,
	}
}

// encodeRFC builds a complete RFC 8618 capture with one block.
func encodeRFC(spec captureSpec) []byte {
	e := &enc{}
	e.arr(3)
	e.tstr("C-DNS")

	// Preamble
	if spec.TicksPerSecond == 0 {
		e.mp(2)
		e.u(0)
		e.u(1)
		e.u(1)
		e.u(0)
	} else {
		e.mp(3)
		e.u(0)
		e.u(1) // major version
		e.u(1)
		e.u(0) // minor version
		e.u(3)
		e.arr(1)
		e.mp(2)
		e.u(0) // storage parameters
		e.mp(2)
		e.u(0)
		e.u(uint64(spec.TicksPerSecond))
		e.u(1)
		e.u(uint64(spec.MaxBlockItems))
		e.u(1) // collection parameters
		e.mp(4)
		e.u(0)
		e.i(5)
		e.u(3)
		e.boolean(true)
		e.u(8)
		e.tstr("unit-test")
		e.u(9)
		e.tstr("host")
	}

	// Block list, indefinite length
	e.arrIndef()
	encodeRFCBlock(e, spec)
	e.brk()
	return e.b
}

func encodeRFCBlock(e *enc, spec captureSpec) {
	e.mp(5)

	e.u(0) // block preamble
	e.mp(2)
	e.u(0)
	e.arr(2)
	e.i(spec.BlockSec)
	e.i(spec.BlockUsec)
	e.u(1)
	e.u(0) // block parameter index

	e.u(1) // statistics
	e.mp(5)
	e.u(0)
	e.u(12)
	e.u(1)
	e.u(6)
	e.u(2)
	e.u(1)
	e.u(3)
	e.u(2)
	e.u(4)
	e.u(3) // discarded_opcode under RFC

	e.u(2) // tables
	e.mp(4)
	e.u(0) // addresses
	e.arr(1)
	e.bstr([]byte{192, 0, 2, 1})
	e.u(1) // classtypes
	e.arr(1)
	e.mp(2)
	e.u(0)
	e.u(1) // rr_type A
	e.u(1)
	e.u(1) // rr_class IN
	e.u(2) // name rdata
	e.arr(1)
	e.bstr(exampleName)
	e.u(3) // query signatures
	e.arr(1)
	e.mp(8)
	e.u(0)
	e.u(1) // server_address_index
	e.u(1)
	e.u(53)
	e.u(2)
	e.u(uint64(spec.TransportFlagsRFC))
	e.u(4)
	e.u(uint64(spec.SigFlagsRFC))
	e.u(5)
	e.u(uint64(spec.QueryOpcode))
	e.u(6)
	e.u(uint64(spec.QRDNSFlags))
	e.u(7)
	e.u(uint64(spec.QueryRcode))
	e.u(8)
	e.u(1) // query_classtype_index

	e.u(3) // queries
	e.arr(spec.QueryCount)
	for i := 0; i < spec.QueryCount; i++ {
		e.mp(8)
		e.u(0)
		e.i(int64(100 + i)) // time offset, ticks
		e.u(1)
		e.u(1) // client_address_index
		e.u(2)
		e.u(12345)
		e.u(3)
		e.u(uint64(0x8000 + i))
		e.u(4)
		e.u(1) // query_signature_index
		e.u(7)
		e.u(1) // query_name_index
		e.u(8)
		e.u(64)
		e.u(9)
		e.u(128)
	}

	e.u(4) // address events
	e.arr(1)
	e.mp(5)
	e.u(0)
	e.u(1)
	e.u(1)
	e.u(3)
	e.u(2)
	e.u(uint64(spec.TransportFlagsRFC))
	e.u(3)
	e.u(1)
	e.u(4)
	e.u(9)
}

// encodeDraft builds the same logical capture in draft-04 layout.
func encodeDraft(spec captureSpec) []byte {
	e := &enc{}
	e.arrIndef()
	e.tstr("C-DNS")

	// Preamble: version 0 plus the flat parameter map and legacy ids
	e.mp(5)
	e.u(0)
	e.u(0)
	e.u(1)
	e.u(5)
	e.u(3)
	e.mp(4)
	e.u(0)
	e.u(5) // query-timeout
	e.u(2)
	e.u(65535) // snaplen
	e.u(6)
	e.tstr("port 53")
	e.u(12)
	e.u(uint64(spec.MaxBlockItems))
	e.u(4)
	e.tstr("unit-test")
	e.u(5)
	e.tstr("host")

	// Block list
	e.arrIndef()
	encodeDraftBlock(e, spec)
	e.brk()
	e.brk()
	return e.b
}

func encodeDraftBlock(e *enc, spec captureSpec) {
	e.mp(5)

	e.u(0) // block preamble: timestamp at key 1
	e.mp(1)
	e.u(1)
	e.arr(2)
	e.i(spec.BlockSec)
	e.i(spec.BlockUsec)

	e.u(1) // statistics: keys 4 and 5 both malformed counters
	e.mp(6)
	e.u(0)
	e.u(12)
	e.u(1)
	e.u(6)
	e.u(2)
	e.u(1)
	e.u(3)
	e.u(2)
	e.u(4)
	e.u(2)
	e.u(5)
	e.u(1)

	e.u(2) // tables
	e.mp(4)
	e.u(0)
	e.arr(1)
	e.bstr([]byte{192, 0, 2, 1})
	e.u(1)
	e.arr(1)
	e.mp(2)
	e.u(0)
	e.u(1)
	e.u(1)
	e.u(1)
	e.u(2)
	e.arr(1)
	e.bstr(exampleName)
	e.u(3)
	e.arr(1)
	e.mp(8)
	e.u(0)
	e.u(1)
	e.u(1)
	e.u(53)
	e.u(2)
	e.u(uint64(spec.TransportFlagsDraft))
	e.u(3)
	e.u(uint64(spec.SigFlagsDraft))
	e.u(4)
	e.u(uint64(spec.QueryOpcode))
	e.u(5)
	e.u(uint64(spec.QRDNSFlags))
	e.u(6)
	e.u(uint64(spec.QueryRcode))
	e.u(7)
	e.u(1)

	e.u(3) // queries: draft key layout
	e.arr(spec.QueryCount)
	for i := 0; i < spec.QueryCount; i++ {
		e.mp(8)
		e.u(0)
		e.i(int64(100 + i))
		e.u(2)
		e.u(1)
		e.u(3)
		e.u(12345)
		e.u(4)
		e.u(uint64(0x8000 + i))
		e.u(5)
		e.u(1)
		e.u(9)
		e.u(1)
		e.u(10)
		e.u(64)
		e.u(11)
		e.u(128)
	}

	e.u(4) // address events: no transport flags in the draft
	e.arr(1)
	e.mp(4)
	e.u(0)
	e.u(1)
	e.u(1)
	e.u(3)
	e.u(2)
	e.u(1)
	e.u(3)
	e.u(9)
}
