package sstable

import (
	"fmt"
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"exchanged/pkg/model"
)

// WriteOLAP persists one Arrow record batch (from memtable.Frozen.
// ArrowRecord) as a Parquet file (spec §4.3, "OLAP format: a widely-used
// columnar on-disk format (record groups with column statistics)"),
// block-compressed with zstd.
func WriteOLAP(path string, rec arrow.Record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: create olap sstable: %v", model.ErrIOError, err)
	}
	defer f.Close()

	props := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Zstd),
		parquet.WithDictionaryDefault(true),
	)
	writer, err := pqarrow.NewFileWriter(rec.Schema(), f, props, pqarrow.DefaultWriterProps())
	if err != nil {
		return fmt.Errorf("%w: open parquet writer: %v", model.ErrIOError, err)
	}
	defer writer.Close()

	if err := writer.Write(rec); err != nil {
		return fmt.Errorf("%w: write parquet record group: %v", model.ErrIOError, err)
	}
	return nil
}

// ReadOLAP reads back a Parquet OLAP SSTable in full as one Arrow record.
// The compactor and the query engine do not call it; they read OLTP
// files only.
func ReadOLAP(path string, pool memory.Allocator) (arrow.Record, error) {
	if pool == nil {
		pool = memory.NewGoAllocator()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open olap sstable: %v", model.ErrIOError, err)
	}
	defer f.Close()

	reader, err := pqarrow.NewFileReader(f, pqarrow.ArrowReadProperties{}, pool)
	if err != nil {
		return nil, fmt.Errorf("%w: open parquet reader: %v", model.ErrCorruptFile, err)
	}

	table, err := reader.ReadTable(nil)
	if err != nil {
		return nil, fmt.Errorf("%w: read parquet table: %v", model.ErrCorruptFile, err)
	}
	defer table.Release()

	tr := arrayFromTable(table, pool)
	return tr, nil
}

// arrayFromTable flattens an arrow.Table (one or more chunked columns)
// into a single contiguous arrow.Record via a TableReader with batch size
// equal to the table's row count.
func arrayFromTable(table arrow.Table, pool memory.Allocator) arrow.Record {
	tr := array.NewTableReader(table, table.NumRows())
	defer tr.Release()
	tr.Next()
	rec := tr.Record()
	rec.Retain()
	return rec
}
