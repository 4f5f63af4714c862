// Package cdns reads C-DNS capture files (RFC 8618 and its draft-04
// predecessor): compact CBOR encodings of DNS query/response traffic,
// organized as blocks of deduplicated tables plus per-transaction records.
//
// The whole file is loaded into memory up front; blocks are decoded one at a
// time and byte/text values in the block tables borrow into the file buffer.
package cdns

// Schema identifies the wire layout of a capture. The two layouts share most
// fields but renumber map keys, re-pack flag words and move the block
// parameters, so every version-dependent decoder is selected by this tag
// once instead of branching per field.
type Schema int

const (
	// Draft04 is the pre-RFC layout (format version major == 0).
	Draft04 Schema = iota
	// RFC8618 is the published layout (format version major >= 1).
	RFC8618
)

func (s Schema) String() string {
	if s == Draft04 {
		return "draft-04"
	}
	return "rfc8618"
}

// IndexOffset is the fixed adjustment applied to table references: the wire
// encodes 1-based indexes with 0 meaning absent. Kept as a named pivot in
// case a 0-based legacy dialect ever has to be tolerated.
const IndexOffset = 1

// defaultTicksPerSecond is the sub-second time unit when no storage
// parameter says otherwise.
const defaultTicksPerSecond = 1000000

// decodeContext carries the version and unit information parsers need,
// instead of entities holding back-pointers into the file driver.
type decodeContext struct {
	schema   Schema
	preamble *Preamble
}

func (dc *decodeContext) ticksPerSecond(blockID int64) int64 {
	if dc.schema == RFC8618 && dc.preamble != nil &&
		blockID >= 0 && blockID < int64(len(dc.preamble.BlockParameters)) {
		return dc.preamble.BlockParameters[blockID].Storage.TicksPerSecond
	}
	return defaultTicksPerSecond
}

func (dc *decodeContext) ticksToMicroseconds(ticks, blockID int64) int64 {
	if tps := dc.ticksPerSecond(blockID); tps > 0 && tps != defaultTicksPerSecond {
		ticks *= 1000000
		ticks /= tps
	}
	return ticks
}

// Key role names, shared between the decoders' diagnostics and the dump
// pass so the schema is spelled out exactly once per scope.

var preambleKeyNames = []string{
	"major-format-version",
	"minor-format-version",
	"private-version",
	"block-parameters",
	"generator-id",
	"host-id",
}

var blockKeyNames = []string{
	"preamble",
	"statistics",
	"tables",
	"queries",
	"address-event-counts",
}

var tablesKeyNames = []string{
	"ip-address",
	"classtype",
	"name-rdata",
	"query-signature",
	"question-list",
	"question-rr",
	"rr-list",
	"rr",
}

// Draft-spec labels for the flat block-parameter map. The draft reserves
// key 6 for vlan-ids, but known draft encoders never emit it and write the
// filter there instead; the parser follows the encoders, the labels follow
// the draft text.
var oldBlockParameterKeyNames = []string{
	"query-timeout",
	"skew-timeout",
	"snaplen",
	"promisc",
	"interfaces",
	"server-addresses",
	"vlan-ids",
	"filter",
	"query-options",
	"response-options",
	"accept-rr-types",
	"ignore-rr-types",
	"max-block-qr-items",
	"collect-malformed",
}

var queryKeyNamesOld = []string{
	"time_useconds",
	"time_pseconds",
	"client_address_index",
	"client_port",
	"transaction_id",
	"query_signature_index",
	"client_hoplimit",
	"delay_useconds",
	"delay_pseconds",
	"query_name_index",
	"query_size",
	"response_size",
	"query_extended",
	"response_extended",
}

var queryKeyNamesRFC = []string{
	"time_offset",
	"client_address_index",
	"client_port",
	"transaction_id",
	"query_signature_index",
	"client_hoplimit",
	"response_delay",
	"query_name_index",
	"query_size",
	"response_size",
	"response_processing_data",
	"query_extended",
	"response_extended",
}

var sigKeyNamesOld = []string{
	"server_address_index",
	"server_port",
	"transport_flags",
	"qr_sig_flags",
	"query_opcode",
	"qr_dns_flags",
	"query_rcode",
	"query_classtype_index",
	"query_qd_count",
	"query_an_count",
	"query_ar_count",
	"query_ns_count",
	"edns_version",
	"udp_buf_size",
	"opt_rdata_index",
	"response_rcode",
}

var sigKeyNamesRFC = []string{
	"server_address_index",
	"server_port",
	"transport_flags",
	"qr_type",
	"qr_sig_flags",
	"query_opcode",
	"qr_dns_flags",
	"query_rcode",
	"query_classtype_index",
	"query_qd_count",
	"query_an_count",
	"query_ns_count",
	"query_ar_count",
	"edns_version",
	"udp_buf_size",
	"opt_rdata_index",
	"response_rcode",
}

var classTypeKeyNames = []string{
	"type-id",
	"class-id",
}

// keyName looks a role name up with an out-of-range fallback.
func keyName(names []string, key int64) string {
	if key >= 0 && key < int64(len(names)) {
		return names[key]
	}
	return "unknown"
}

func queryKeyNames(s Schema) []string {
	if s == Draft04 {
		return queryKeyNamesOld
	}
	return queryKeyNamesRFC
}

func sigKeyNames(s Schema) []string {
	if s == Draft04 {
		return sigKeyNamesOld
	}
	return sigKeyNamesRFC
}
