package cdns

import (
	"encoding/binary"
	"fmt"

	"github.com/dchest/siphash"

	"github.com/dnsscience/cdnsreader/internal/cbor"
)

// IPProtocol is the address family recorded in the transport flags.
type IPProtocol int

const (
	IPv4 IPProtocol = 0
	IPv6 IPProtocol = 1
)

func (p IPProtocol) String() string {
	if p == IPv6 {
		return "ipv6"
	}
	return "ipv4"
}

// TransportProtocol is the DNS transport recorded in the transport flags.
type TransportProtocol int

const (
	TransportUDP         TransportProtocol = 0
	TransportTCP         TransportProtocol = 1
	TransportTLS         TransportProtocol = 2
	TransportDTLS        TransportProtocol = 3
	TransportHTTPS       TransportProtocol = 4
	TransportNonStandard TransportProtocol = 15
)

func (t TransportProtocol) String() string {
	switch t {
	case TransportUDP:
		return "udp"
	case TransportTCP:
		return "tcp"
	case TransportTLS:
		return "tls"
	case TransportDTLS:
		return "dtls"
	case TransportHTTPS:
		return "https"
	case TransportNonStandard:
		return "non-standard"
	}
	return fmt.Sprintf("transport(%d)", int(t))
}

// QuerySignature is the deduplicated tuple of protocol-level fields shared
// by matching transactions. The packed flag words are re-laid-out between
// versions, so the predicates take the capture's Schema.
type QuerySignature struct {
	ServerAddressIndex  int64
	ServerPort          int64
	QRTransportFlags    int64
	QRType              int64
	QRSigFlags          int64
	QueryOpcode         int64
	QRDNSFlags          int64
	QueryRcode          int64
	QueryClasstypeIndex int64
	QueryQDCount        int64
	QueryANCount        int64
	QueryNSCount        int64
	QueryARCount        int64
	EDNSVersion         int64
	UDPBufSize          int64
	OptRDataIndex       int64
	ResponseRcode       int64
}

func newQuerySignature() QuerySignature {
	return QuerySignature{EDNSVersion: -1}
}

func (qs *QuerySignature) parse(c *cbor.Cursor, dc *decodeContext) error {
	item := qs.parseItem
	if dc.schema == Draft04 {
		item = qs.parseItemOld
	}
	return c.ParseMap(func(key int64) error {
		if err := item(c, key); err != nil {
			return fmt.Errorf("signature %s: %w", keyName(sigKeyNames(dc.schema), key), err)
		}
		return nil
	})
}

func (qs *QuerySignature) parseItem(c *cbor.Cursor, key int64) error {
	var err error
	switch key {
	case 0:
		qs.ServerAddressIndex, err = c.Int(false)
	case 1:
		qs.ServerPort, err = c.Int(false)
	case 2:
		qs.QRTransportFlags, err = c.Int(false)
	case 3:
		qs.QRType, err = c.Int(false)
	case 4:
		qs.QRSigFlags, err = c.Int(false)
	case 5:
		qs.QueryOpcode, err = c.Int(false)
	case 6:
		qs.QRDNSFlags, err = c.Int(false)
	case 7:
		qs.QueryRcode, err = c.Int(false)
	case 8:
		qs.QueryClasstypeIndex, err = c.Int(false)
	case 9:
		qs.QueryQDCount, err = c.Int(false)
	case 10:
		qs.QueryANCount, err = c.Int(false)
	case 11:
		qs.QueryNSCount, err = c.Int(false)
	case 12:
		qs.QueryARCount, err = c.Int(false)
	case 13:
		qs.EDNSVersion, err = c.Int(false)
	case 14:
		qs.UDPBufSize, err = c.Int(false)
	case 15:
		qs.OptRDataIndex, err = c.Int(false)
	case 16:
		qs.ResponseRcode, err = c.Int(false)
	default:
		err = c.Skip()
	}
	return err
}

// parseItemOld handles the draft layout: no qr_type key, so every key past
// the transport flags sits one lower, and the qd/an/ar/ns counts come in a
// different order.
func (qs *QuerySignature) parseItemOld(c *cbor.Cursor, key int64) error {
	var err error
	switch key {
	case 0:
		qs.ServerAddressIndex, err = c.Int(false)
	case 1:
		qs.ServerPort, err = c.Int(false)
	case 2:
		qs.QRTransportFlags, err = c.Int(false)
	case 3:
		qs.QRSigFlags, err = c.Int(false)
	case 4:
		qs.QueryOpcode, err = c.Int(false)
	case 5:
		qs.QRDNSFlags, err = c.Int(false)
	case 6:
		qs.QueryRcode, err = c.Int(false)
	case 7:
		qs.QueryClasstypeIndex, err = c.Int(false)
	case 8:
		qs.QueryQDCount, err = c.Int(false)
	case 9:
		qs.QueryANCount, err = c.Int(false)
	case 10:
		qs.QueryARCount, err = c.Int(false)
	case 11:
		qs.QueryNSCount, err = c.Int(false)
	case 12:
		qs.EDNSVersion, err = c.Int(false)
	case 13:
		qs.UDPBufSize, err = c.Int(false)
	case 14:
		qs.OptRDataIndex, err = c.Int(false)
	case 15:
		qs.ResponseRcode, err = c.Int(false)
	default:
		err = c.Skip()
	}
	return err
}

// IPProtocol extracts the address family from the transport flag word.
func (qs *QuerySignature) IPProtocol(s Schema) IPProtocol {
	if s == Draft04 {
		return IPProtocol((qs.QRTransportFlags >> 1) & 1)
	}
	return IPProtocol(qs.QRTransportFlags & 1)
}

// TransportProtocol extracts the DNS transport from the transport flag word.
func (qs *QuerySignature) TransportProtocol(s Schema) TransportProtocol {
	if s == Draft04 {
		return TransportProtocol(qs.QRTransportFlags & 1)
	}
	return TransportProtocol((qs.QRTransportFlags >> 1) & 0xF)
}

// HasTrailingBytes reports whether the message carried trailing bytes.
func (qs *QuerySignature) HasTrailingBytes(s Schema) bool {
	if s == Draft04 {
		return qs.QRTransportFlags&0x04 != 0
	}
	return qs.QRTransportFlags&0x20 != 0
}

// QueryPresent reports whether a query was captured for this signature.
func (qs *QuerySignature) QueryPresent() bool {
	return qs.QRSigFlags&0x01 != 0
}

// ResponsePresent reports whether a response was captured.
func (qs *QuerySignature) ResponsePresent() bool {
	return qs.QRSigFlags&0x02 != 0
}

// QueryHasOPT reports whether the query carried an OPT record.
func (qs *QuerySignature) QueryHasOPT(s Schema) bool {
	if s == Draft04 {
		return qs.QRSigFlags&0x08 != 0
	}
	return qs.QRSigFlags&0x04 != 0
}

// ResponseHasOPT reports whether the response carried an OPT record.
func (qs *QuerySignature) ResponseHasOPT(s Schema) bool {
	if s == Draft04 {
		return qs.QRSigFlags&0x10 != 0
	}
	return qs.QRSigFlags&0x08 != 0
}

// QueryHasNoQuestion reports whether the query had an empty question
// section. The draft flag word never defined this bit; there it aliases
// ResponseHasNoQuestion, which is the closest signal the word carries.
func (qs *QuerySignature) QueryHasNoQuestion(s Schema) bool {
	if s == Draft04 {
		return qs.ResponseHasNoQuestion()
	}
	return qs.QRSigFlags&0x10 != 0
}

// ResponseHasNoQuestion reports whether the response had an empty question
// section.
func (qs *QuerySignature) ResponseHasNoQuestion() bool {
	return qs.QRSigFlags&0x20 != 0
}

// sipHashKey is a fixed key: Hash is a stable fingerprint, not a MAC.
var sipHashKey = [16]byte{
	'c', 'd', 'n', 's', '-', 's', 'i', 'g',
	'n', 'a', 't', 'u', 'r', 'e', '-', '1',
}

// Hash returns a stable 64-bit fingerprint of the version-normalized
// signature, suitable for dedup or bucketing across blocks and across
// capture formats. Two signatures that answer every predicate identically
// and share the scalar fields hash equal regardless of schema.
func (qs *QuerySignature) Hash(s Schema) uint64 {
	var flags uint64
	set := func(bit uint, on bool) {
		if on {
			flags |= 1 << bit
		}
	}
	set(0, qs.QueryPresent())
	set(1, qs.ResponsePresent())
	set(2, qs.QueryHasOPT(s))
	set(3, qs.ResponseHasOPT(s))
	// Bit 4 (query with no question) is left out: the draft word cannot
	// carry it, so QueryHasNoQuestion differs between the two encodings of
	// the same signature.
	set(5, qs.ResponseHasNoQuestion())
	set(6, qs.HasTrailingBytes(s))
	set(7, qs.IPProtocol(s) == IPv6)

	buf := make([]byte, 0, 14*8)
	for _, v := range []int64{
		int64(flags),
		int64(qs.TransportProtocol(s)),
		qs.ServerPort,
		qs.QueryOpcode,
		qs.QRDNSFlags,
		qs.QueryRcode,
		qs.ResponseRcode,
		qs.QueryQDCount,
		qs.QueryANCount,
		qs.QueryNSCount,
		qs.QueryARCount,
		qs.EDNSVersion,
		qs.UDPBufSize,
	} {
		buf = binary.BigEndian.AppendUint64(buf, uint64(v))
	}
	return siphash.Hash(
		binary.LittleEndian.Uint64(sipHashKey[:8]),
		binary.LittleEndian.Uint64(sipHashKey[8:]),
		buf,
	)
}
