// Package metrics exposes decode counters for consumers that already run a
// prometheus registry (collectors, batch importers).
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	FilesOpened = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "cdnsreader_files_opened_total", Help: "Capture files opened"},
	)
	BlocksRead = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "cdnsreader_blocks_read_total", Help: "Blocks decoded"},
	)
	QueriesDecoded = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "cdnsreader_queries_decoded_total", Help: "Query records decoded"},
	)
	MalformedBlocks = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "cdnsreader_malformed_blocks_total", Help: "Blocks abandoned as malformed"},
	)
)

func init() {
	prometheus.MustRegister(FilesOpened, BlocksRead, QueriesDecoded, MalformedBlocks)
}
