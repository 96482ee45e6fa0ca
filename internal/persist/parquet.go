package persist

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/apache/arrow/go/v17/parquet"
	"github.com/apache/arrow/go/v17/parquet/compress"
	"github.com/apache/arrow/go/v17/parquet/pqarrow"

	"github.com/i474232898/weather-parquet-pipeline/internal/weather"
)

var errRowCount = errors.New("expected exactly one row")

// writeParquet encodes rec as a Parquet file at path, replacing any existing file.
func writeParquet(path string, rec arrow.Record) error {
	var buf bytes.Buffer

	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	fw, err := pqarrow.NewFileWriter(rec.Schema(), &buf, props, pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	if err != nil {
		return fmt.Errorf("create parquet writer: %w", err)
	}
	if err := fw.Write(rec); err != nil {
		_ = fw.Close()
		return fmt.Errorf("write parquet row: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// readSingleRow loads the only row of the Parquet file at path and hands it to fn.
func readSingleRow(ctx context.Context, path string, fn func(rec arrow.Record) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	mem := memory.NewGoAllocator()
	tbl, err := pqarrow.ReadTable(ctx, f, parquet.NewReaderProperties(mem), pqarrow.ArrowReadProperties{}, mem)
	if err != nil {
		return fmt.Errorf("read parquet %s: %w", path, err)
	}
	defer tbl.Release()

	if tbl.NumRows() != 1 {
		return fmt.Errorf("%s: %w, got %d", path, errRowCount, tbl.NumRows())
	}

	tr := array.NewTableReader(tbl, 0)
	defer tr.Release()

	for tr.Next() {
		rec := tr.Record()
		if rec.NumRows() == 0 {
			continue
		}
		return fn(rec)
	}
	return fmt.Errorf("%s: %w, got 0", path, errRowCount)
}

func column[T arrow.Array](rec arrow.Record, name string) (T, error) {
	var zero T
	idx := rec.Schema().FieldIndices(name)
	if len(idx) == 0 {
		return zero, fmt.Errorf("missing column %q", name)
	}
	col, ok := rec.Column(idx[0]).(T)
	if !ok {
		return zero, fmt.Errorf("column %q has type %s", name, rec.Column(idx[0]).DataType())
	}
	return col, nil
}

// ReadTemperature decodes a file written for a TemperatureRecord.
func ReadTemperature(ctx context.Context, path string) (weather.TemperatureRecord, error) {
	var out weather.TemperatureRecord
	err := readSingleRow(ctx, path, func(rec arrow.Record) error {
		dt, err := column[*array.String](rec, "datetime")
		if err != nil {
			return err
		}
		floats := make(map[string]float64, 4)
		for _, name := range []string{"temp", "feels_like", "temp_min", "temp_max"} {
			col, err := column[*array.Float64](rec, name)
			if err != nil {
				return err
			}
			floats[name] = col.Value(0)
		}
		pressure, err := column[*array.Int64](rec, "pressure")
		if err != nil {
			return err
		}

		out = weather.TemperatureRecord{
			Datetime:  dt.Value(0),
			Temp:      floats["temp"],
			FeelsLike: floats["feels_like"],
			TempMin:   floats["temp_min"],
			TempMax:   floats["temp_max"],
			Pressure:  pressure.Value(0),
		}
		return nil
	})
	return out, err
}

// ReadWind decodes a file written for a WindRecord.
func ReadWind(ctx context.Context, path string) (weather.WindRecord, error) {
	var out weather.WindRecord
	err := readSingleRow(ctx, path, func(rec arrow.Record) error {
		dt, err := column[*array.String](rec, "datetime")
		if err != nil {
			return err
		}
		speed, err := column[*array.Float64](rec, "speed")
		if err != nil {
			return err
		}
		deg, err := column[*array.Int64](rec, "deg")
		if err != nil {
			return err
		}
		gust, err := column[*array.Float64](rec, "gust")
		if err != nil {
			return err
		}

		out = weather.WindRecord{
			Datetime: dt.Value(0),
			Speed:    speed.Value(0),
			Deg:      deg.Value(0),
		}
		if gust.IsValid(0) {
			g := gust.Value(0)
			out.Gust = &g
		}
		return nil
	})
	return out, err
}
