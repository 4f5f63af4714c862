package cdns

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dnsscience/cdnsreader/internal/cbor"
)

// Some collectors emit collection-parameter integers as CBOR negative ints.
func TestCollectionParametersNegativeInts(t *testing.T) {
	e := &enc{}
	e.mp(3)
	e.u(0)
	e.i(-1)
	e.u(2)
	e.i(-65536)
	e.u(7)
	e.bstr([]byte("udp port 53"))

	var cp CollectionParameters
	require.NoError(t, cp.parse(cbor.NewCursor(e.b)))
	assert.Equal(t, int64(-1), cp.QueryTimeout)
	assert.Equal(t, int64(-65536), cp.Snaplen)
	assert.Equal(t, []byte("udp port 53"), cp.Filter)
}

func TestStorageParameterFields(t *testing.T) {
	e := &enc{}
	e.mp(9)
	e.u(0)
	e.u(1000)
	e.u(2) // storage hints
	e.mp(4)
	e.u(0)
	e.u(0x3FF)
	e.u(1)
	e.u(0x1F)
	e.u(2)
	e.u(0xFF)
	e.u(3)
	e.u(0x07)
	e.u(3) // opcodes
	e.arr(2)
	e.u(0)
	e.u(2)
	e.u(4) // rr types
	e.arr(3)
	e.u(1)
	e.u(28)
	e.u(5)
	e.u(6)
	e.u(24) // client v4 prefix
	e.u(7)
	e.u(96)
	e.u(10)
	e.bstr([]byte{1})
	e.u(11)
	e.bstr([]byte{2, 3})
	e.u(99) // unknown key
	e.u(0)

	sp := StorageParameter{TicksPerSecond: defaultTicksPerSecond}
	require.NoError(t, sp.parse(cbor.NewCursor(e.b)))
	assert.Equal(t, int64(1000), sp.TicksPerSecond)
	assert.Equal(t, int64(0x3FF), sp.StorageHints.QueryResponseHints)
	assert.Equal(t, int64(0x07), sp.StorageHints.OtherDataHints)
	assert.Equal(t, []int64{0, 2}, sp.Opcodes)
	assert.Equal(t, []int64{1, 28, 5}, sp.RRTypes)
	assert.Equal(t, int64(24), sp.ClientAddressPrefixIPv4)
	assert.Equal(t, int64(96), sp.ClientAddressPrefixIPv6)
	assert.Equal(t, []byte{1}, sp.SamplingMethod)
	assert.Equal(t, []byte{2, 3}, sp.AnonymizationMethod)
}

func TestOldBlockParametersArrays(t *testing.T) {
	e := &enc{}
	e.mp(4)
	e.u(4) // interfaces
	e.arr(2)
	e.bstr([]byte("eth0"))
	e.bstr([]byte("eth1"))
	e.u(5) // server addresses
	e.arr(1)
	e.bstr([]byte{192, 0, 2, 53})
	e.u(9) // accept rr types
	e.arr(2)
	e.tstr("A")
	e.tstr("AAAA")
	e.u(13)
	e.u(1)

	var bp BlockParameterOld
	require.NoError(t, bp.parse(cbor.NewCursor(e.b)))
	assert.Equal(t, [][]byte{[]byte("eth0"), []byte("eth1")}, bp.Interfaces)
	assert.Equal(t, [][]byte{{192, 0, 2, 53}}, bp.ServerAddresses)
	assert.Equal(t, []string{"A", "AAAA"}, bp.AcceptRRTypes)
	assert.Equal(t, int64(1), bp.CollectMalformed)
}

// Draft preambles keep the flat map and legacy ids; RFC preambles keep the
// parameter array. Both slots survive on the same struct.
func TestPreambleVersionDispatch(t *testing.T) {
	e := &enc{}
	e.mp(2)
	e.u(0)
	e.u(1)
	e.u(3)
	e.arr(2)
	e.mp(0)
	e.mp(0)

	var p Preamble
	require.NoError(t, p.parse(cbor.NewCursor(e.b)))
	assert.Equal(t, RFC8618, p.Schema())
	assert.Len(t, p.BlockParameters, 2)

	e = &enc{}
	e.mp(2)
	e.u(0)
	e.u(0)
	e.u(3)
	e.mp(1)
	e.u(0)
	e.u(7)

	p = Preamble{}
	require.NoError(t, p.parse(cbor.NewCursor(e.b)))
	assert.Equal(t, Draft04, p.Schema())
	assert.Empty(t, p.BlockParameters)
	assert.Equal(t, int64(7), p.OldBlockParameters.QueryTimeout)
}
