package cdns

import (
	"fmt"

	"github.com/dnsscience/cdnsreader/internal/cbor"
)

// Preamble is the file-level header: format version plus the block
// parameters every block refers to by index. The draft layout stores a
// single flat parameter map and file-level generator/host ids; the RFC
// layout stores an array of structured parameters. Both slots are kept and
// consumers pick by Schema.
type Preamble struct {
	VersionMajor   int64
	VersionMinor   int64
	VersionPrivate int64

	BlockParameters    []BlockParameter
	OldBlockParameters BlockParameterOld

	OldGeneratorID string
	OldHostID      string
}

// Schema reports the wire layout the version numbers select.
func (p *Preamble) Schema() Schema {
	if p.VersionMajor == 0 {
		return Draft04
	}
	return RFC8618
}

func (p *Preamble) parse(c *cbor.Cursor) error {
	return c.ParseMap(func(key int64) error {
		var err error
		switch key {
		case 0:
			p.VersionMajor, err = c.Int(false)
		case 1:
			p.VersionMinor, err = c.Int(false)
		case 2:
			p.VersionPrivate, err = c.Int(false)
		case 3:
			// The version keys precede key 3 in every known encoder, so the
			// layout of the parameters is known by the time they appear.
			if p.VersionMajor > 0 {
				err = c.ParseArray(func(int) error {
					var bp BlockParameter
					if err := bp.parse(c); err != nil {
						return err
					}
					p.BlockParameters = append(p.BlockParameters, bp)
					return nil
				})
			} else {
				err = p.OldBlockParameters.parse(c)
			}
		case 4:
			p.OldGeneratorID, err = c.Text()
		case 5:
			p.OldHostID, err = c.Text()
		default:
			err = c.Skip()
		}
		if err != nil {
			return fmt.Errorf("preamble %s: %w", keyName(preambleKeyNames, key), err)
		}
		return nil
	})
}

// BlockParameter is the RFC form: storage parameters (how transactions were
// compacted) and collection parameters (how they were captured).
type BlockParameter struct {
	Storage    StorageParameter
	Collection CollectionParameters
}

func (bp *BlockParameter) parse(c *cbor.Cursor) error {
	bp.Storage = StorageParameter{
		TicksPerSecond: defaultTicksPerSecond,
		StorageHints:   StorageHints{-1, -1, -1, -1},
	}
	return c.ParseMap(func(key int64) error {
		switch key {
		case 0:
			if err := bp.Storage.parse(c); err != nil {
				return fmt.Errorf("storage parameters: %w", err)
			}
		case 1:
			if err := bp.Collection.parse(c); err != nil {
				return fmt.Errorf("collection parameters: %w", err)
			}
		default:
			return c.Skip()
		}
		return nil
	})
}

// StorageHints are the four presence bitmasks describing which optional
// fields the compactor stored.
type StorageHints struct {
	QueryResponseHints          int64
	QueryResponseSignatureHints int64
	RRHints                     int64
	OtherDataHints              int64
}

func (h *StorageHints) parse(c *cbor.Cursor) error {
	return c.ParseMap(func(key int64) error {
		var err error
		switch key {
		case 0:
			h.QueryResponseHints, err = c.Int(false)
		case 1:
			h.QueryResponseSignatureHints, err = c.Int(false)
		case 2:
			h.RRHints, err = c.Int(false)
		case 3:
			h.OtherDataHints, err = c.Int(false)
		default:
			err = c.Skip()
		}
		return err
	})
}

// StorageParameter describes the compaction settings of a block, most
// importantly the sub-second time unit.
type StorageParameter struct {
	TicksPerSecond          int64
	MaxBlockItems           int64
	StorageHints            StorageHints
	Opcodes                 []int64
	RRTypes                 []int64
	StorageFlags            int64
	ClientAddressPrefixIPv4 int64
	ClientAddressPrefixIPv6 int64
	ServerAddressPrefixIPv4 int64
	ServerAddressPrefixIPv6 int64
	SamplingMethod          []byte
	AnonymizationMethod     []byte
}

func (sp *StorageParameter) parse(c *cbor.Cursor) error {
	return c.ParseMap(func(key int64) error {
		var err error
		switch key {
		case 0:
			sp.TicksPerSecond, err = c.Int(false)
		case 1:
			sp.MaxBlockItems, err = c.Int(false)
		case 2:
			err = sp.StorageHints.parse(c)
		case 3:
			sp.Opcodes, err = parseIntArray(c, sp.Opcodes, false)
		case 4:
			sp.RRTypes, err = parseIntArray(c, sp.RRTypes, false)
		case 5:
			sp.StorageFlags, err = c.Int(false)
		case 6:
			sp.ClientAddressPrefixIPv4, err = c.Int(false)
		case 7:
			sp.ClientAddressPrefixIPv6, err = c.Int(false)
		case 8:
			sp.ServerAddressPrefixIPv4, err = c.Int(false)
		case 9:
			sp.ServerAddressPrefixIPv6, err = c.Int(false)
		case 10:
			sp.SamplingMethod, err = c.Bytes()
		case 11:
			sp.AnonymizationMethod, err = c.Bytes()
		default:
			err = c.Skip()
		}
		if err != nil {
			return fmt.Errorf("storage parameter %d: %w", key, err)
		}
		return nil
	})
}

// CollectionParameters describe the capture configuration. Some encoders
// write the integer fields as CBOR negative ints, so those accept both
// signs.
type CollectionParameters struct {
	QueryTimeout    int64
	SkewTimeout     int64
	Snaplen         int64
	Promisc         bool
	Interfaces      [][]byte
	ServerAddresses [][]byte
	VlanID          [][]byte
	Filter          []byte
	GeneratorID     string
	HostID          string
}

func (cp *CollectionParameters) parse(c *cbor.Cursor) error {
	return c.ParseMap(func(key int64) error {
		var err error
		switch key {
		case 0:
			cp.QueryTimeout, err = c.Int(true)
		case 1:
			cp.SkewTimeout, err = c.Int(true)
		case 2:
			cp.Snaplen, err = c.Int(true)
		case 3:
			cp.Promisc, err = c.Bool()
		case 4:
			cp.Interfaces, err = parseBytesArray(c, cp.Interfaces)
		case 5:
			cp.ServerAddresses, err = parseBytesArray(c, cp.ServerAddresses)
		case 6:
			cp.VlanID, err = parseBytesArray(c, cp.VlanID)
		case 7:
			cp.Filter, err = c.Bytes()
		case 8:
			cp.GeneratorID, err = c.Text()
		case 9:
			cp.HostID, err = c.Text()
		default:
			err = c.Skip()
		}
		if err != nil {
			return fmt.Errorf("collection parameter %d: %w", key, err)
		}
		return nil
	})
}

// BlockParameterOld is the draft-04 form: one flat map at file level.
// Draft encoders never emit the reserved vlan-ids key and write the filter
// at key 6.
type BlockParameterOld struct {
	QueryTimeout     int64
	SkewTimeout      int64
	Snaplen          int64
	Promisc          int64
	Interfaces       [][]byte
	ServerAddresses  [][]byte
	Filter           string
	QueryOptions     int64
	ResponseOptions  int64
	AcceptRRTypes    []string
	IgnoreRRTypes    []string
	MaxBlockQRItems  int64
	CollectMalformed int64
}

func (bp *BlockParameterOld) parse(c *cbor.Cursor) error {
	return c.ParseMap(func(key int64) error {
		var err error
		switch key {
		case 0:
			bp.QueryTimeout, err = c.Int(false)
		case 1:
			bp.SkewTimeout, err = c.Int(false)
		case 2:
			bp.Snaplen, err = c.Int(false)
		case 3:
			bp.Promisc, err = c.Int(false)
		case 4:
			bp.Interfaces, err = parseBytesArray(c, bp.Interfaces)
		case 5:
			bp.ServerAddresses, err = parseBytesArray(c, bp.ServerAddresses)
		case 6:
			bp.Filter, err = c.Text()
		case 7:
			bp.QueryOptions, err = c.Int(false)
		case 8:
			bp.ResponseOptions, err = c.Int(false)
		case 9:
			bp.AcceptRRTypes, err = parseTextArray(c, bp.AcceptRRTypes)
		case 10:
			bp.IgnoreRRTypes, err = parseTextArray(c, bp.IgnoreRRTypes)
		case 12:
			bp.MaxBlockQRItems, err = c.Int(false)
		case 13:
			bp.CollectMalformed, err = c.Int(false)
		default:
			err = c.Skip()
		}
		if err != nil {
			return fmt.Errorf("block parameter %d: %w", key, err)
		}
		return nil
	})
}

func parseIntArray(c *cbor.Cursor, dst []int64, allowNegative bool) ([]int64, error) {
	err := c.ParseArray(func(int) error {
		v, err := c.Int(allowNegative)
		if err != nil {
			return err
		}
		dst = append(dst, v)
		return nil
	})
	return dst, err
}

func parseBytesArray(c *cbor.Cursor, dst [][]byte) ([][]byte, error) {
	err := c.ParseArray(func(int) error {
		b, err := c.Bytes()
		if err != nil {
			return err
		}
		dst = append(dst, b)
		return nil
	})
	return dst, err
}

func parseTextArray(c *cbor.Cursor, dst []string) ([]string, error) {
	err := c.ParseArray(func(int) error {
		s, err := c.Text()
		if err != nil {
			return err
		}
		dst = append(dst, s)
		return nil
	})
	return dst, err
}
