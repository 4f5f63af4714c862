package cdns

import (
	"fmt"

	"github.com/dnsscience/cdnsreader/internal/cbor"
)

// Block is one bundle of transactions with the deduplicated tables they
// reference. A File holds a single Block that is cleared and reused on each
// OpenBlock call; table storage keeps its capacity across blocks.
type Block struct {
	Preamble      BlockPreamble
	Statistics    BlockStatistics
	Tables        BlockTables
	Queries       []Query
	AddressEvents []AddressEventCount

	// BlockStartUs is the block's earliest time as microseconds since the
	// epoch, computed after tick normalization.
	BlockStartUs uint64
}

func (b *Block) clear() {
	b.Preamble = BlockPreamble{}
	b.Statistics = BlockStatistics{}
	b.Tables.clear()
	b.Queries = b.Queries[:0]
	b.AddressEvents = b.AddressEvents[:0]
	b.BlockStartUs = 0
}

func (b *Block) parse(c *cbor.Cursor, dc *decodeContext) error {
	b.clear()

	err := c.ParseMap(func(key int64) error {
		var err error
		switch key {
		case 0:
			err = b.Preamble.parse(c, dc)
		case 1:
			err = b.Statistics.parse(c, dc)
		case 2:
			err = b.Tables.parse(c, dc)
		case 3:
			err = c.ParseArray(func(int) error {
				var q Query
				if err := q.parse(c, dc, b.Preamble.BlockParameterIndex); err != nil {
					return err
				}
				b.Queries = append(b.Queries, q)
				return nil
			})
		case 4:
			err = c.ParseArray(func(int) error {
				var ae AddressEventCount
				if err := ae.parse(c, dc); err != nil {
					return err
				}
				b.AddressEvents = append(b.AddressEvents, ae)
				return nil
			})
		default:
			err = c.Skip()
		}
		if err != nil {
			return fmt.Errorf("block %s: %w", keyName(blockKeyNames, key), err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	b.BlockStartUs = uint64(b.Preamble.EarliestTimeSec)*1000000 +
		uint64(b.Preamble.EarliestTimeUsec)
	return nil
}

// BlockPreamble carries the block's earliest timestamp and the index of the
// block parameters it was compacted under. The timestamp is a two-element
// array on the wire; the sub-second part arrives in ticks and is stored
// normalized to microseconds.
type BlockPreamble struct {
	EarliestTimeSec     int64
	EarliestTimeUsec    int64
	BlockParameterIndex int64
}

func (bp *BlockPreamble) parse(c *cbor.Cursor, dc *decodeContext) error {
	filled := false

	if dc.schema == Draft04 {
		// The draft block preamble keeps the timestamp at key 1 and has no
		// parameter index; sub-seconds are already microseconds.
		err := c.ParseMap(func(key int64) error {
			if key != 1 {
				return c.Skip()
			}
			var err error
			bp.EarliestTimeSec, bp.EarliestTimeUsec, err = parseTimestamp(c)
			filled = err == nil
			return err
		})
		if err != nil {
			return err
		}
		if !filled {
			return cbor.ErrMalformed
		}
		return nil
	}

	err := c.ParseMap(func(key int64) error {
		var err error
		switch key {
		case 0:
			bp.EarliestTimeSec, bp.EarliestTimeUsec, err = parseTimestamp(c)
			filled = err == nil
		case 1:
			bp.BlockParameterIndex, err = c.Int(false)
		default:
			err = c.Skip()
		}
		return err
	})
	if err != nil {
		return err
	}
	if !filled {
		return cbor.ErrMalformed
	}
	bp.EarliestTimeUsec = dc.ticksToMicroseconds(bp.EarliestTimeUsec, bp.BlockParameterIndex)
	return nil
}

// parseTimestamp reads the [seconds, sub-seconds] pair.
func parseTimestamp(c *cbor.Cursor) (sec, sub int64, err error) {
	n := 0
	err = c.ParseArray(func(i int) error {
		v, err := c.Int(true)
		if err != nil {
			return err
		}
		switch i {
		case 0:
			sec = v
		case 1:
			sub = v
		}
		n++
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	if n != 2 {
		return 0, 0, cbor.ErrMalformed
	}
	return sec, sub, nil
}

// BlockStatistics are the collector's per-block counters. The draft splits
// malformed items over two keys; both accumulate into MalformedItems.
type BlockStatistics struct {
	ProcessedMessages  int64
	QRDataItems        int64
	UnmatchedQueries   int64
	UnmatchedResponses int64
	DiscardedOpcode    int64
	MalformedItems     int64
}

func (bs *BlockStatistics) parse(c *cbor.Cursor, dc *decodeContext) error {
	return c.ParseMap(func(key int64) error {
		var err error
		switch key {
		case 0:
			bs.ProcessedMessages, err = c.Int(false)
		case 1:
			bs.QRDataItems, err = c.Int(false)
		case 2:
			bs.UnmatchedQueries, err = c.Int(false)
		case 3:
			bs.UnmatchedResponses, err = c.Int(false)
		case 4:
			if dc.schema == Draft04 {
				var v int64
				v, err = c.Int(false)
				bs.MalformedItems += v
			} else {
				bs.DiscardedOpcode, err = c.Int(false)
			}
		case 5:
			if dc.schema == Draft04 {
				var v int64
				v, err = c.Int(false)
				bs.MalformedItems += v
			} else {
				err = c.Skip()
			}
		default:
			err = c.Skip()
		}
		return err
	})
}

// ClassID is one entry of the classtype table.
type ClassID struct {
	RRType  int64
	RRClass int64
}

func (ci *ClassID) parse(c *cbor.Cursor) error {
	return c.ParseMap(func(key int64) error {
		var err error
		switch key {
		case 0:
			ci.RRType, err = c.Int(false)
		case 1:
			ci.RRClass, err = c.Int(false)
		default:
			// The classtype map is the one scope with a closed key set.
			return cbor.ErrIllegalValue
		}
		return err
	})
}

// Question is one entry of the qrr table: indexes into the name-rdata and
// classtype tables.
type Question struct {
	NameIndex      int64
	ClasstypeIndex int64
}

func (q *Question) parse(c *cbor.Cursor) error {
	return c.ParseMap(func(key int64) error {
		var err error
		switch key {
		case 0:
			q.NameIndex, err = c.Int(false)
		case 1:
			q.ClasstypeIndex, err = c.Int(false)
		default:
			err = c.Skip()
		}
		return err
	})
}

// RR is one entry of the rr table.
type RR struct {
	NameIndex      int64
	ClasstypeIndex int64
	TTL            int64
	RDataIndex     int64
}

func (rr *RR) parse(c *cbor.Cursor) error {
	return c.ParseMap(func(key int64) error {
		var err error
		switch key {
		case 0:
			rr.NameIndex, err = c.Int(false)
		case 1:
			rr.ClasstypeIndex, err = c.Int(false)
		case 2:
			rr.TTL, err = c.Int(false)
		case 3:
			rr.RDataIndex, err = c.Int(false)
		default:
			err = c.Skip()
		}
		return err
	})
}

// BlockTables are the eight parallel deduplication pools queries reference
// by 1-based index (0 meaning absent).
type BlockTables struct {
	Addresses     [][]byte
	ClassIDs      []ClassID
	NameRData     [][]byte
	QSigs         []QuerySignature
	QuestionLists [][]int64
	QRRs          []Question
	RRLists       [][]int64
	RRs           []RR
}

func (bt *BlockTables) clear() {
	bt.Addresses = bt.Addresses[:0]
	bt.ClassIDs = bt.ClassIDs[:0]
	bt.NameRData = bt.NameRData[:0]
	bt.QSigs = bt.QSigs[:0]
	bt.QuestionLists = bt.QuestionLists[:0]
	bt.QRRs = bt.QRRs[:0]
	bt.RRLists = bt.RRLists[:0]
	bt.RRs = bt.RRs[:0]
}

func (bt *BlockTables) parse(c *cbor.Cursor, dc *decodeContext) error {
	return c.ParseMap(func(key int64) error {
		var err error
		switch key {
		case 0:
			bt.Addresses, err = parseBytesArray(c, bt.Addresses)
		case 1:
			err = c.ParseArray(func(int) error {
				var ci ClassID
				if err := ci.parse(c); err != nil {
					return err
				}
				bt.ClassIDs = append(bt.ClassIDs, ci)
				return nil
			})
		case 2:
			bt.NameRData, err = parseBytesArray(c, bt.NameRData)
		case 3:
			err = c.ParseArray(func(int) error {
				sig := newQuerySignature()
				if err := sig.parse(c, dc); err != nil {
					return err
				}
				bt.QSigs = append(bt.QSigs, sig)
				return nil
			})
		case 4:
			bt.QuestionLists, err = parseIndexLists(c, bt.QuestionLists)
		case 5:
			err = c.ParseArray(func(int) error {
				q := Question{NameIndex: -1, ClasstypeIndex: -1}
				if err := q.parse(c); err != nil {
					return err
				}
				bt.QRRs = append(bt.QRRs, q)
				return nil
			})
		case 6:
			bt.RRLists, err = parseIndexLists(c, bt.RRLists)
		case 7:
			err = c.ParseArray(func(int) error {
				rr := RR{NameIndex: -1, ClasstypeIndex: -1, RDataIndex: -1}
				if err := rr.parse(c); err != nil {
					return err
				}
				bt.RRs = append(bt.RRs, rr)
				return nil
			})
		default:
			err = c.Skip()
		}
		if err != nil {
			return fmt.Errorf("table %s: %w", keyName(tablesKeyNames, key), err)
		}
		return nil
	})
}

// Address returns the address table entry for a 1-based reference.
func (bt *BlockTables) Address(index int64) ([]byte, bool) {
	i := index - IndexOffset
	if i < 0 || i >= int64(len(bt.Addresses)) {
		return nil, false
	}
	return bt.Addresses[i], true
}

// ClassType returns the classtype table entry for a 1-based reference.
func (bt *BlockTables) ClassType(index int64) (ClassID, bool) {
	i := index - IndexOffset
	if i < 0 || i >= int64(len(bt.ClassIDs)) {
		return ClassID{}, false
	}
	return bt.ClassIDs[i], true
}

// Name returns the name-rdata table entry for a 1-based reference.
func (bt *BlockTables) Name(index int64) ([]byte, bool) {
	i := index - IndexOffset
	if i < 0 || i >= int64(len(bt.NameRData)) {
		return nil, false
	}
	return bt.NameRData[i], true
}

// Signature returns the query-signature table entry for a 1-based reference.
func (bt *BlockTables) Signature(index int64) (*QuerySignature, bool) {
	i := index - IndexOffset
	if i < 0 || i >= int64(len(bt.QSigs)) {
		return nil, false
	}
	return &bt.QSigs[i], true
}

func parseIndexLists(c *cbor.Cursor, dst [][]int64) ([][]int64, error) {
	err := c.ParseArray(func(int) error {
		list, err := parseIntArray(c, nil, false)
		if err != nil {
			return err
		}
		dst = append(dst, list)
		return nil
	})
	return dst, err
}
