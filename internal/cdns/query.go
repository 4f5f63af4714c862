package cdns

import (
	"fmt"

	"github.com/dnsscience/cdnsreader/internal/cbor"
)

// Query is one query/response transaction record. Index fields are 1-based
// references into the block tables, 0 meaning absent; resolve them through
// the BlockTables accessors.
type Query struct {
	TimeOffsetUsec      int64
	ClientAddressIndex  int64
	ClientPort          int64
	TransactionID       int64
	QuerySignatureIndex int64
	ClientHoplimit      int64
	DelayUseconds       int64
	QueryNameIndex      int64
	QuerySize           int64
	ResponseSize        int64

	ResponseProcessing ResponseProcessingData
	QueryExtended      QRExtended
	ResponseExtended   QRExtended
}

func (q *Query) parse(c *cbor.Cursor, dc *decodeContext, blockParamIndex int64) error {
	item := q.parseItem
	if dc.schema == Draft04 {
		item = q.parseItemOld
	}
	err := c.ParseMap(func(key int64) error {
		if err := item(c, key); err != nil {
			return fmt.Errorf("query %s: %w", keyName(queryKeyNames(dc.schema), key), err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if dc.schema == RFC8618 {
		q.TimeOffsetUsec = dc.ticksToMicroseconds(q.TimeOffsetUsec, blockParamIndex)
	}
	return nil
}

func (q *Query) parseItem(c *cbor.Cursor, key int64) error {
	var err error
	switch key {
	case 0:
		q.TimeOffsetUsec, err = c.Int(true)
	case 1:
		q.ClientAddressIndex, err = c.Int(false)
	case 2:
		q.ClientPort, err = c.Int(false)
	case 3:
		q.TransactionID, err = c.Int(false)
	case 4:
		q.QuerySignatureIndex, err = c.Int(false)
	case 5:
		q.ClientHoplimit, err = c.Int(false)
	case 6:
		q.DelayUseconds, err = c.Int(true)
	case 7:
		q.QueryNameIndex, err = c.Int(false)
	case 8:
		q.QuerySize, err = c.Int(false)
	case 9:
		q.ResponseSize, err = c.Int(false)
	case 10:
		err = q.ResponseProcessing.parse(c)
	case 11:
		err = q.QueryExtended.parse(c)
	case 12:
		err = q.ResponseExtended.parse(c)
	default:
		err = c.Skip()
	}
	return err
}

func (q *Query) parseItemOld(c *cbor.Cursor, key int64) error {
	var err error
	switch key {
	case 0:
		q.TimeOffsetUsec, err = c.Int(true)
	case 1:
		// Picosecond variant; scale down to microseconds.
		var t int64
		t, err = c.Int(true)
		if err == nil {
			q.TimeOffsetUsec = t / 1000000
		}
	case 2:
		q.ClientAddressIndex, err = c.Int(false)
	case 3:
		q.ClientPort, err = c.Int(false)
	case 4:
		q.TransactionID, err = c.Int(false)
	case 5:
		q.QuerySignatureIndex, err = c.Int(false)
	case 6:
		q.ClientHoplimit, err = c.Int(false)
	case 7:
		q.DelayUseconds, err = c.Int(true)
	case 8:
		var t int64
		t, err = c.Int(true)
		if err == nil {
			q.DelayUseconds = t / 1000000
		}
	case 9:
		q.QueryNameIndex, err = c.Int(false)
	case 10:
		q.QuerySize, err = c.Int(false)
	case 11:
		q.ResponseSize, err = c.Int(false)
	case 12:
		err = q.QueryExtended.parse(c)
	case 13:
		err = q.ResponseExtended.parse(c)
	default:
		err = c.Skip()
	}
	return err
}

// QRExtended holds the optional extended section indexes of one direction
// of a transaction; any index may be 0 (absent). Filled reports whether the
// section appeared on the wire at all.
type QRExtended struct {
	QuestionIndex   int64
	AnswerIndex     int64
	AuthorityIndex  int64
	AdditionalIndex int64
	Filled          bool
}

func (qe *QRExtended) parse(c *cbor.Cursor) error {
	*qe = QRExtended{Filled: true}
	return c.ParseMap(func(key int64) error {
		var err error
		switch key {
		case 0:
			qe.QuestionIndex, err = c.Int(false)
		case 1:
			qe.AnswerIndex, err = c.Int(false)
		case 2:
			qe.AuthorityIndex, err = c.Int(false)
		case 3:
			qe.AdditionalIndex, err = c.Int(false)
		default:
			err = c.Skip()
		}
		return err
	})
}

// ResponseProcessingData is RFC-only response metadata.
type ResponseProcessingData struct {
	BailiwickIndex  int64
	ProcessingFlags int64
	Present         bool
}

func (rp *ResponseProcessingData) parse(c *cbor.Cursor) error {
	rp.Present = true
	return c.ParseMap(func(key int64) error {
		var err error
		switch key {
		case 0:
			rp.BailiwickIndex, err = c.Int(false)
		case 1:
			rp.ProcessingFlags, err = c.Int(false)
		default:
			err = c.Skip()
		}
		return err
	})
}

// AddressEventCount is one aggregated address event (for example an ICMP
// error) with its occurrence count. The RFC layout inserts transport flags
// at key 2; the draft has no transport flags.
type AddressEventCount struct {
	AEType           int64
	AECode           int64
	AETransportFlags int64
	AEAddressIndex   int64
	AECount          int64
}

func (ae *AddressEventCount) parse(c *cbor.Cursor, dc *decodeContext) error {
	old := dc.schema == Draft04
	return c.ParseMap(func(key int64) error {
		var err error
		switch {
		case key == 0:
			ae.AEType, err = c.Int(true)
		case key == 1:
			ae.AECode, err = c.Int(true)
		case key == 2 && !old:
			ae.AETransportFlags, err = c.Int(true)
		case key == 2 && old, key == 3 && !old:
			ae.AEAddressIndex, err = c.Int(true)
		case key == 3 && old, key == 4 && !old:
			ae.AECount, err = c.Int(true)
		default:
			err = c.Skip()
		}
		return err
	})
}
