package cdns

import (
	"fmt"
	"io"
	"math"
	"os"

	"github.com/dnsscience/cdnsreader/internal/cbor"
	"github.com/dnsscience/cdnsreader/internal/metrics"
)

// File is a C-DNS capture open for reading. The whole file is held in one
// buffer; blocks are decoded on demand into a single reusable Block, so the
// previous block's contents are invalidated by the next OpenBlock call.
//
// A File is not safe for concurrent use; distinct Files share nothing.
type File struct {
	buf []byte
	cur *cbor.Cursor

	preamble Preamble
	block    Block

	firstBlockStartUs uint64
	indexOffset       int

	preambleParsed bool
	fileHeadIndef  bool
	blockListIndef bool

	nbBlocksPresent int64
	nbBlocksRead    int64
}

const initialBufSize = 128 * 1024

// Open reads an entire capture file into memory. No I/O happens after Open
// returns; block decoding only walks the buffer.
func Open(path string) (*File, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open capture: %w", err)
	}
	defer fd.Close()

	buf, err := loadEntireFile(fd)
	if err != nil {
		return nil, fmt.Errorf("read capture: %w", err)
	}
	metrics.FilesOpened.Inc()
	return FromBytes(buf), nil
}

// FromBytes wraps an in-memory capture. The File keeps buf and hands out
// views into it.
func FromBytes(buf []byte) *File {
	return &File{buf: buf, cur: cbor.NewCursor(buf)}
}

// loadEntireFile slurps a stream into a buffer that grows by quadrupling,
// starting small enough that the growth path is exercised routinely.
func loadEntireFile(r io.Reader) ([]byte, error) {
	buf := make([]byte, initialBufSize)
	read := 0
	for {
		if read == len(buf) {
			next := make([]byte, 4*len(buf))
			copy(next, buf[:read])
			buf = next
		}
		n, err := r.Read(buf[read:])
		read += n
		if err == io.EOF {
			return buf[:read], nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// Preamble returns the file preamble; valid after the first OpenBlock call.
func (f *File) Preamble() *Preamble { return &f.preamble }

// Block returns the current block; valid after OpenBlock returns nil and
// until the next OpenBlock call.
func (f *File) Block() *Block { return &f.block }

// FirstBlockStartUs returns the start time of the first block, in
// microseconds.
func (f *File) FirstBlockStartUs() uint64 { return f.firstBlockStartUs }

// IndexOffset returns the adjustment to subtract from wire table references
// before indexing; see the package IndexOffset pivot.
func (f *File) IndexOffset() int { return f.indexOffset }

// IsFirstBlock reports whether the current block is the first of the file.
func (f *File) IsFirstBlock() bool { return f.nbBlocksRead == 1 }

// IsLastBlock reports whether the current block is known to be the last.
// For an indefinite-length block list this only becomes true once the end
// mark has been seen.
func (f *File) IsLastBlock() bool {
	return f.nbBlocksRead > 0 && f.nbBlocksRead == f.nbBlocksPresent
}

// Schema reports the capture's wire layout; valid once the preamble has
// been parsed.
func (f *File) Schema() Schema { return f.preamble.Schema() }

// IsOldVersion reports whether the capture uses the draft-04 layout.
func (f *File) IsOldVersion() bool {
	return f.preambleParsed && f.preamble.VersionMajor == 0
}

func (f *File) context() *decodeContext {
	return &decodeContext{schema: f.preamble.Schema(), preamble: &f.preamble}
}

// TicksPerSecond returns the sub-second unit declared by the referenced
// block parameters, or the microsecond default when the reference does not
// resolve.
func (f *File) TicksPerSecond(blockID int64) int64 {
	if !f.preambleParsed {
		return defaultTicksPerSecond
	}
	return f.context().ticksPerSecond(blockID)
}

// TicksToMicroseconds converts a tick count recorded under the referenced
// block parameters to microseconds.
func (f *File) TicksToMicroseconds(ticks, blockID int64) int64 {
	if !f.preambleParsed {
		return ticks
	}
	return f.context().ticksToMicroseconds(ticks, blockID)
}

// DNSFlags unpacks the DNS header flags of one direction from the packed
// signature word.
func DNSFlags(qrDNSFlags int64, isResponse bool) int64 {
	if isResponse {
		return (qrDNSFlags >> 8) & 0x7E
	}
	return qrDNSFlags & 0x7C
}

// EDNSFlags promotes the packed DO bit to its position in the EDNS flags
// word.
func EDNSFlags(qrDNSFlags int64) int64 {
	return (qrDNSFlags << 8) & (1 << 15)
}

// OpenBlock advances to the next block. The first call parses the file
// preamble. It returns nil when a block is ready, cbor.ErrEndOfArray once
// the block list is exhausted, and a descriptive error when the stream is
// malformed; errors other than ErrEndOfArray are terminal.
func (f *File) OpenBlock() error {
	if !f.preambleParsed {
		if err := f.readPreamble(); err != nil {
			return err
		}
	}

	if f.nbBlocksRead >= f.nbBlocksPresent {
		return cbor.ErrEndOfArray
	}

	if f.cur.AtBreak() {
		f.cur.ConsumeBreak()
		if f.blockListIndef {
			f.nbBlocksPresent = f.nbBlocksRead
			return cbor.ErrEndOfArray
		}
		return fmt.Errorf("block list: %w", cbor.ErrMalformed)
	}
	if f.cur.Done() {
		// A definite count promised more blocks than the buffer holds.
		f.nbBlocksPresent = f.nbBlocksRead
		return fmt.Errorf("block list: %w", cbor.ErrUnexpectedEnd)
	}

	if err := f.block.parse(f.cur, f.context()); err != nil {
		// No rewind after a malformed block: iteration ends here.
		f.nbBlocksPresent = f.nbBlocksRead
		metrics.MalformedBlocks.Inc()
		return fmt.Errorf("block %d: %w", f.nbBlocksRead+1, err)
	}

	f.nbBlocksRead++
	metrics.BlocksRead.Inc()
	metrics.QueriesDecoded.Add(float64(len(f.block.Queries)))

	if f.firstBlockStartUs == 0 {
		f.firstBlockStartUs = f.block.BlockStartUs
	}
	return nil
}

// readPreamble consumes the outer array header, the file type atom, the
// preamble map and the block-list array header, leaving the cursor at the
// first block.
func (f *File) readPreamble() error {
	fail := func(err error) error {
		// Leave the driver in a terminal state.
		f.preambleParsed = true
		f.nbBlocksPresent = 0
		return err
	}

	major, count, indef, err := f.cur.ReadHead()
	if err != nil {
		return fail(fmt.Errorf("file header: %w", err))
	}
	if major != cbor.MajorArray {
		return fail(fmt.Errorf("file header: %w", cbor.ErrMalformed))
	}
	f.fileHeadIndef = indef
	if !indef && count < 3 {
		return fail(fmt.Errorf("file header: %w", cbor.ErrMalformed))
	}

	// File type atom: validated to exist, content skipped.
	if f.cur.AtBreak() || f.cur.Done() {
		return fail(fmt.Errorf("file type: %w", cbor.ErrMalformed))
	}
	if err := f.cur.Skip(); err != nil {
		return fail(fmt.Errorf("file type: %w", err))
	}

	if f.cur.AtBreak() || f.cur.Done() {
		return fail(fmt.Errorf("preamble: %w", cbor.ErrMalformed))
	}
	if err := f.preamble.parse(f.cur); err != nil {
		return fail(err)
	}

	if f.cur.AtBreak() || f.cur.Done() {
		return fail(fmt.Errorf("block list: %w", cbor.ErrMalformed))
	}
	major, nbBlocks, indef, err := f.cur.ReadHead()
	if err != nil {
		return fail(fmt.Errorf("block list: %w", err))
	}
	if major != cbor.MajorArray {
		return fail(fmt.Errorf("block list: %w", cbor.ErrMalformed))
	}
	if indef {
		f.blockListIndef = true
		f.nbBlocksPresent = math.MaxInt64
	} else {
		f.nbBlocksPresent = nbBlocks
	}

	f.preambleParsed = true
	f.indexOffset = IndexOffset
	return nil
}
