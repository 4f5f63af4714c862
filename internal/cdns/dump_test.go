package cdns

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dumpToString(t *testing.T, buf []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dump.txt")
	f := FromBytes(buf)
	require.NoError(t, f.Dump(path))
	out, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(out)
}

func TestDumpRFC(t *testing.T) {
	out := dumpToString(t, encodeRFC(defaultSpec()))

	assert.Contains(t, out, "-- File type:\n    \"C-DNS\",")
	assert.Contains(t, out, "-- Preamble:")
	assert.Contains(t, out, "--major-format-version")
	assert.Contains(t, out, "--block-parameters")
	assert.Contains(t, out, "--storage parameters")
	assert.Contains(t, out, "--collection parameters")
	assert.Contains(t, out, "-- Block 1:")
	assert.Contains(t, out, "--time_offset,")
	assert.Contains(t, out, "--qr_sig_flags,")
	assert.Contains(t, out, "-- found 1 queries")
	assert.Contains(t, out, "-- found 1 qr-sigs")
	assert.Contains(t, out, "-- found 1 class-types")
	assert.Contains(t, out, "-- Processed=")
	assert.Contains(t, out, "-- Err = 0")
}

func TestDumpDraft(t *testing.T) {
	out := dumpToString(t, encodeDraft(defaultSpec()))

	// Draft captures annotate with the draft key layout.
	assert.Contains(t, out, "--time_useconds,")
	assert.NotContains(t, out, "--qr_type,")
	assert.Contains(t, out, "--query-timeout")
	assert.Contains(t, out, "-- Err = 0")
}

// Long tables truncate after ten items with an ellipsis and a count.
func TestDumpTruncatesLists(t *testing.T) {
	e := &enc{}
	e.arr(3)
	e.tstr("C-DNS")
	e.mp(1)
	e.u(0)
	e.u(1)
	e.arr(1)
	e.mp(1)
	e.u(2) // tables
	e.mp(1)
	e.u(0) // addresses
	e.arr(12)
	for i := 0; i < 12; i++ {
		e.bstr([]byte{10, 0, 0, byte(i)})
	}

	out := dumpToString(t, e.b)
	assert.Contains(t, out, "...")
	assert.Contains(t, out, "-- found 12 addresses")
	// Only the first ten items render.
	assert.Equal(t, 10, strings.Count(out, "h'0a0000"))
}

func TestDumpDeterministic(t *testing.T) {
	buf := encodeRFC(defaultSpec())
	a := dumpToString(t, buf)
	b := dumpToString(t, buf)
	assert.Equal(t, a, b)
}

// The dump is a raw second pass: it reports what it cannot justify instead
// of failing the call.
func TestDumpMalformed(t *testing.T) {
	e := &enc{}
	e.arr(3)
	e.tstr("C-DNS")
	e.tstr("not a preamble")

	path := filepath.Join(t.TempDir(), "dump.txt")
	f := FromBytes(e.b)
	require.NoError(t, f.Dump(path))
	out, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(out), "Error")
}

func TestDumpNotCBOR(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.txt")
	f := FromBytes([]byte("plain text, not CBOR"))
	require.NoError(t, f.Dump(path))
	out, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(out), "Error, cannot parse the first bytes")
}
