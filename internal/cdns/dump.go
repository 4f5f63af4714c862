package cdns

import (
	"bufio"
	"fmt"
	"os"

	"github.com/dnsscience/cdnsreader/internal/cbor"
)

// Dump writes an annotated textual rendering of the capture to path. It
// walks the raw buffer again rather than the parsed state, so it works on
// files the block decoder rejects; decode problems are annotated in the
// output and the walk stops at the first point it cannot make sense of.
func (f *File) Dump(path string) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create dump: %w", err)
	}
	defer out.Close()

	w := bufio.NewWriter(out)
	d := &dumper{w: w, cur: cbor.NewCursor(f.buf)}
	d.dump()
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write dump: %w", err)
	}
	return out.Close()
}

// listTruncateAt caps per-list output: long deduplication tables would
// otherwise dominate the dump.
const listTruncateAt = 10

type dumper struct {
	w      *bufio.Writer
	cur    *cbor.Cursor
	schema Schema
	nbErrs int
}

func (d *dumper) dump() {
	major, count, indef, err := d.cur.ReadHead()
	if err != nil || major != cbor.MajorArray {
		fmt.Fprintf(d.w, "Error, cannot parse the first bytes, type %d.\n", major)
		d.nbErrs++
		return
	}

	fmt.Fprintf(d.w, "[\n")
	fail := func(err error) {
		fmt.Fprintf(d.w, "\nError: %v\n", err)
		d.nbErrs++
	}

	if !d.cur.AtBreak() && !d.cur.Done() {
		txt, err := d.cur.ItemText()
		if err != nil {
			fail(fmt.Errorf("file type: %w", err))
			return
		}
		fmt.Fprintf(d.w, "-- File type:\n    %s,\n", txt)
	}

	if !d.cur.AtBreak() && !d.cur.Done() {
		if err := d.dumpPreamble(); err != nil {
			fail(fmt.Errorf("preamble: %w", err))
			return
		}
		fmt.Fprintf(d.w, ",\n")
	}

	rank := 0
	for !d.cur.AtBreak() && !d.cur.Done() && (indef || int64(rank) < count-2) {
		rank++
		fmt.Fprintf(d.w, "-- Block %d:\n", rank)
		if err := d.dumpBlock(); err != nil {
			fail(fmt.Errorf("block %d: %w", rank, err))
			return
		}
	}

	if d.cur.AtBreak() {
		if indef {
			d.cur.ConsumeBreak()
		} else {
			fmt.Fprintf(d.w, "Error, end of array mark unexpected.\n")
			d.nbErrs++
		}
	}

	fmt.Fprintf(d.w, "\n]\n-- Processed=%d\n-- Err = %d\n", d.cur.Offset(), d.nbErrs)
}

func (d *dumper) dumpPreamble() error {
	fmt.Fprintf(d.w, "-- Preamble:\n    [\n")
	first := true
	err := d.cur.ParseMap(func(key int64) error {
		if !first {
			fmt.Fprintf(d.w, ",\n")
		}
		first = false
		fmt.Fprintf(d.w, "        --%s\n", keyName(preambleKeyNames, key))
		switch key {
		case 0:
			v, err := d.cur.Int(false)
			if err != nil {
				return err
			}
			if v > 0 {
				d.schema = RFC8618
			}
			fmt.Fprintf(d.w, "        %d, %d", key, v)
			return nil
		case 3:
			fmt.Fprintf(d.w, "        %d, ", key)
			return d.dumpBlockParameters()
		}
		return d.keyAndText(key, "        ")
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(d.w, "\n    ]")
	return nil
}

// keyAndText prints "key, <item>" at the given indent.
func (d *dumper) keyAndText(key int64, indent string) error {
	txt, err := d.cur.ItemText()
	if err != nil {
		return err
	}
	fmt.Fprintf(d.w, "%s%d, %s", indent, key, txt)
	return nil
}

func (d *dumper) dumpBlockParameters() error {
	if d.schema == Draft04 {
		// Flat draft map, annotated with the draft spec labels.
		fmt.Fprintf(d.w, "[\n")
		first := true
		err := d.cur.ParseMap(func(key int64) error {
			if !first {
				fmt.Fprintf(d.w, ",\n")
			}
			first = false
			fmt.Fprintf(d.w, "            --%s\n", keyName(oldBlockParameterKeyNames, key))
			return d.keyAndText(key, "            ")
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(d.w, "\n        ]")
		return nil
	}

	fmt.Fprintf(d.w, " [\n")
	rank := 0
	err := d.cur.ParseArray(func(int) error {
		fmt.Fprintf(d.w, "            -- Block parameter %d:\n", rank)
		rank++
		return d.dumpBlockParameterRFC()
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(d.w, "\n        ]")
	return nil
}

func (d *dumper) dumpBlockParameterRFC() error {
	fmt.Fprintf(d.w, "            [\n")
	first := true
	err := d.cur.ParseMap(func(key int64) error {
		if !first {
			fmt.Fprintf(d.w, ",\n")
		}
		first = false
		switch key {
		case 0:
			fmt.Fprintf(d.w, "                --storage parameters\n                %d, ", key)
			return d.dumpParameterMap()
		case 1:
			fmt.Fprintf(d.w, "                --collection parameters\n                %d, ", key)
			return d.dumpParameterMap()
		}
		fmt.Fprintf(d.w, "                --unexpected parameters\n")
		return d.keyAndText(key, "                ")
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(d.w, "\n            ]")
	return nil
}

// dumpParameterMap renders a storage or collection map without per-key
// annotation, one entry per line.
func (d *dumper) dumpParameterMap() error {
	fmt.Fprintf(d.w, "[\n")
	first := true
	err := d.cur.ParseMap(func(key int64) error {
		if !first {
			fmt.Fprintf(d.w, ",\n")
		}
		first = false
		return d.keyAndText(key, "                    ")
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(d.w, "\n                ]")
	return nil
}

func (d *dumper) dumpBlock() error {
	fmt.Fprintf(d.w, "    [\n")
	rank := 0
	err := d.cur.ParseArray(func(int) error {
		major, err := d.cur.PeekMajor()
		if err != nil {
			return err
		}
		if major == cbor.MajorMap {
			return d.dumpBlockProperties()
		}
		rank++
		fmt.Fprintf(d.w, "        -- Property %d:\n    ", rank)
		txt, err := d.cur.ItemText()
		if err != nil {
			return err
		}
		fmt.Fprintf(d.w, "%s\n", txt)
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(d.w, "\n    ]\n")
	return nil
}

func (d *dumper) dumpBlockProperties() error {
	fmt.Fprintf(d.w, "        [\n")
	first := true
	err := d.cur.ParseMap(func(key int64) error {
		if !first {
			fmt.Fprintf(d.w, ",\n")
		}
		first = false
		fmt.Fprintf(d.w, "            %d, ", key)
		switch key {
		case 2:
			return d.dumpBlockTables()
		case 3:
			fmt.Fprintf(d.w, "[\n")
			if err := d.dumpQueries(); err != nil {
				return err
			}
			fmt.Fprintf(d.w, "            ]")
			return nil
		case 4:
			fmt.Fprintf(d.w, "[\n")
			if err := d.dumpList("                ", "address-event-counts"); err != nil {
				return err
			}
			fmt.Fprintf(d.w, "            ]")
			return nil
		}
		txt, err := d.cur.ItemText()
		if err != nil {
			return err
		}
		fmt.Fprintf(d.w, "%s", txt)
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(d.w, "\n        ]\n")
	return nil
}

func (d *dumper) dumpBlockTables() error {
	fmt.Fprintf(d.w, "[\n")
	first := true
	err := d.cur.ParseMap(func(key int64) error {
		if !first {
			fmt.Fprintf(d.w, ",\n")
		}
		first = false
		fmt.Fprintf(d.w, "                %d, ", key)

		list := func(name string) error {
			fmt.Fprintf(d.w, "[\n")
			if err := d.dumpList("                    ", name); err != nil {
				return err
			}
			fmt.Fprintf(d.w, "                ]")
			return nil
		}
		switch key {
		case 0:
			return list("addresses")
		case 1:
			fmt.Fprintf(d.w, "[\n")
			if err := d.dumpClassTypes(); err != nil {
				return err
			}
			fmt.Fprintf(d.w, "                ]")
			return nil
		case 2:
			return list("name-rdata")
		case 3:
			fmt.Fprintf(d.w, "[\n")
			if err := d.dumpQRSigs(); err != nil {
				return err
			}
			fmt.Fprintf(d.w, "                ]")
			return nil
		case 4:
			return list("q-lists")
		case 5:
			return list("qrr")
		case 6:
			return list("rr-lists")
		case 7:
			return list("rrs")
		}
		txt, err := d.cur.ItemText()
		if err != nil {
			return err
		}
		fmt.Fprintf(d.w, "%s", txt)
		return nil
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(d.w, "\n            ]")
	return nil
}

func (d *dumper) dumpQueries() error {
	rank := 0
	err := d.cur.ParseArray(func(int) error {
		rank++
		if rank > listTruncateAt {
			return d.cur.Skip()
		}
		if rank != 1 {
			fmt.Fprintf(d.w, ",\n")
		}
		return d.dumpAnnotatedMap("                ", queryKeyNames(d.schema))
	})
	if err != nil {
		return err
	}
	if rank > listTruncateAt {
		fmt.Fprintf(d.w, ",\n                ...\n")
	}
	fmt.Fprintf(d.w, "                -- found %d queries\n", rank)
	return nil
}

func (d *dumper) dumpClassTypes() error {
	rank := 0
	err := d.cur.ParseArray(func(int) error {
		rank++
		if rank > listTruncateAt {
			return d.cur.Skip()
		}
		if rank != 1 {
			fmt.Fprintf(d.w, ",\n")
		}
		return d.dumpAnnotatedMap("                    ", classTypeKeyNames)
	})
	if err != nil {
		return err
	}
	if rank > listTruncateAt {
		fmt.Fprintf(d.w, ",\n                    ...\n")
	}
	fmt.Fprintf(d.w, "                    -- found %d class-types\n", rank)
	return nil
}

func (d *dumper) dumpQRSigs() error {
	rank := 0
	err := d.cur.ParseArray(func(int) error {
		rank++
		if rank > listTruncateAt {
			return d.cur.Skip()
		}
		if rank != 1 {
			fmt.Fprintf(d.w, ",\n")
		}
		return d.dumpAnnotatedMap("                    ", sigKeyNames(d.schema))
	})
	if err != nil {
		return err
	}
	if rank > listTruncateAt {
		fmt.Fprintf(d.w, ",\n                    ...\n")
	}
	fmt.Fprintf(d.w, "                    -- found %d qr-sigs\n", rank)
	return nil
}

// dumpAnnotatedMap renders one map with every key decorated by its schema
// role name.
func (d *dumper) dumpAnnotatedMap(indent string, names []string) error {
	fmt.Fprintf(d.w, "%s[\n", indent)
	first := true
	err := d.cur.ParseMap(func(key int64) error {
		if !first {
			fmt.Fprintf(d.w, ",\n")
		}
		first = false
		fmt.Fprintf(d.w, "%s    --%s,\n", indent, keyName(names, key))
		return d.keyAndText(key, indent+"    ")
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(d.w, "\n%s]", indent)
	return nil
}

// dumpList renders a plain item list, truncated after listTruncateAt items
// with a trailing count.
func (d *dumper) dumpList(indent, name string) error {
	rank := 0
	err := d.cur.ParseArray(func(int) error {
		rank++
		if rank > listTruncateAt {
			return d.cur.Skip()
		}
		txt, err := d.cur.ItemText()
		if err != nil {
			return err
		}
		fmt.Fprintf(d.w, "%s%s,\n", indent, txt)
		return nil
	})
	if err != nil {
		return err
	}
	if rank > listTruncateAt {
		fmt.Fprintf(d.w, "%s...\n", indent)
	}
	fmt.Fprintf(d.w, "%s-- found %d %s\n", indent, rank, name)
	return nil
}
