// cdnsdump decodes a C-DNS capture file (RFC 8618 or draft-04) and either
// prints one line per query/response transaction or writes an annotated
// textual dump of the raw CBOR.
package main

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/dnsscience/cdnsreader/internal/cbor"
	"github.com/dnsscience/cdnsreader/internal/cdns"
	"github.com/dnsscience/cdnsreader/internal/export"
)

var (
	inPath     = flag.String("in", "", "C-DNS capture file to read")
	outPath    = flag.String("out", "", "Output file (default stdout; <in>.txt with -dump)")
	dumpMode   = flag.Bool("dump", false, "Write an annotated CBOR dump instead of query lines")
	configPath = flag.String("config", "", "Optional YAML config file")
	maxQueries = flag.Int("max", 0, "Max query lines per block (0 = unlimited)")
	stats      = flag.Bool("stats", true, "Print a decode summary to stderr")
)

func main() {
	flag.Parse()

	cfg := &ConfigFile{Stats: true}
	if *configPath != "" {
		loaded, err := LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	// Flags passed explicitly override the config file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "in":
			cfg.Input = *inPath
		case "out":
			cfg.Output = *outPath
		case "dump":
			cfg.Dump = *dumpMode
		case "max":
			cfg.MaxQueries = *maxQueries
		case "stats":
			cfg.Stats = *stats
		}
	})
	if cfg.Input == "" {
		fmt.Fprintf(os.Stderr, "Usage: cdnsdump -in capture.cdns [-out file] [-dump]\n")
		os.Exit(2)
	}

	f, err := cdns.Open(cfg.Input)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening %s: %v\n", cfg.Input, err)
		os.Exit(1)
	}

	if cfg.Dump {
		out := cfg.Output
		if out == "" {
			out = cfg.Input + ".txt"
		}
		if err := f.Dump(out); err != nil {
			fmt.Fprintf(os.Stderr, "Error dumping: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "Dump written to %s\n", out)
		return
	}

	var w *bufio.Writer
	if cfg.Output != "" {
		out, err := os.Create(cfg.Output)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating %s: %v\n", cfg.Output, err)
			os.Exit(1)
		}
		defer out.Close()
		w = bufio.NewWriter(out)
	} else {
		w = bufio.NewWriter(os.Stdout)
	}
	defer w.Flush()

	var (
		nbBlocks   int
		nbQueries  int
		signatures = make(map[uint64]struct{})
		totals     cdns.BlockStatistics
	)

	for {
		err := f.OpenBlock()
		if errors.Is(err, cbor.ErrEndOfArray) {
			break
		}
		if err != nil {
			w.Flush()
			fmt.Fprintf(os.Stderr, "Error after %d blocks: %v\n", nbBlocks, err)
			os.Exit(1)
		}

		block := f.Block()
		nbBlocks++
		nbQueries += len(block.Queries)

		for i := range block.Queries {
			q := &block.Queries[i]
			if sig, ok := block.Tables.Signature(q.QuerySignatureIndex); ok {
				signatures[sig.Hash(f.Schema())] = struct{}{}
			}
			if cfg.MaxQueries > 0 && i >= cfg.MaxQueries {
				if i == cfg.MaxQueries {
					fmt.Fprintf(w, "... %d more queries in block %d\n", len(block.Queries)-i, nbBlocks)
				}
				continue
			}
			fmt.Fprintf(w, "%s\n", export.QueryLine(f, q))
		}

		totals.ProcessedMessages += block.Statistics.ProcessedMessages
		totals.QRDataItems += block.Statistics.QRDataItems
		totals.UnmatchedQueries += block.Statistics.UnmatchedQueries
		totals.UnmatchedResponses += block.Statistics.UnmatchedResponses
		totals.DiscardedOpcode += block.Statistics.DiscardedOpcode
		totals.MalformedItems += block.Statistics.MalformedItems
	}

	if cfg.Stats {
		fmt.Fprintf(os.Stderr, "Format:              %s\n", f.Schema())
		fmt.Fprintf(os.Stderr, "Blocks:              %d\n", nbBlocks)
		fmt.Fprintf(os.Stderr, "Queries:             %d\n", nbQueries)
		fmt.Fprintf(os.Stderr, "Distinct signatures: %d\n", len(signatures))
		fmt.Fprintf(os.Stderr, "Processed messages:  %d\n", totals.ProcessedMessages)
		fmt.Fprintf(os.Stderr, "QR data items:       %d\n", totals.QRDataItems)
		fmt.Fprintf(os.Stderr, "Unmatched queries:   %d\n", totals.UnmatchedQueries)
		fmt.Fprintf(os.Stderr, "Unmatched responses: %d\n", totals.UnmatchedResponses)
		fmt.Fprintf(os.Stderr, "Discarded opcode:    %d\n", totals.DiscardedOpcode)
		fmt.Fprintf(os.Stderr, "Malformed items:     %d\n", totals.MalformedItems)
	}
}
