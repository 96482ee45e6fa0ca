package persist

import (
	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"

	"github.com/i474232898/weather-parquet-pipeline/internal/weather"
)

// TemperatureSchema is the column layout of *_temp.parquet files.
var TemperatureSchema = arrow.NewSchema([]arrow.Field{
	{Name: "datetime", Type: arrow.BinaryTypes.String},
	{Name: "temp", Type: arrow.PrimitiveTypes.Float64},
	{Name: "feels_like", Type: arrow.PrimitiveTypes.Float64},
	{Name: "temp_min", Type: arrow.PrimitiveTypes.Float64},
	{Name: "temp_max", Type: arrow.PrimitiveTypes.Float64},
	{Name: "pressure", Type: arrow.PrimitiveTypes.Int64},
}, nil)

// WindSchema is the column layout of *_wind.parquet files. gust is the only nullable column.
var WindSchema = arrow.NewSchema([]arrow.Field{
	{Name: "datetime", Type: arrow.BinaryTypes.String},
	{Name: "speed", Type: arrow.PrimitiveTypes.Float64},
	{Name: "deg", Type: arrow.PrimitiveTypes.Int64},
	{Name: "gust", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
}, nil)

func temperatureRow(mem memory.Allocator, t weather.TemperatureRecord) arrow.Record {
	b := array.NewRecordBuilder(mem, TemperatureSchema)
	defer b.Release()

	b.Field(0).(*array.StringBuilder).Append(t.Datetime)
	b.Field(1).(*array.Float64Builder).Append(t.Temp)
	b.Field(2).(*array.Float64Builder).Append(t.FeelsLike)
	b.Field(3).(*array.Float64Builder).Append(t.TempMin)
	b.Field(4).(*array.Float64Builder).Append(t.TempMax)
	b.Field(5).(*array.Int64Builder).Append(t.Pressure)

	return b.NewRecord()
}

func windRow(mem memory.Allocator, w weather.WindRecord) arrow.Record {
	b := array.NewRecordBuilder(mem, WindSchema)
	defer b.Release()

	b.Field(0).(*array.StringBuilder).Append(w.Datetime)
	b.Field(1).(*array.Float64Builder).Append(w.Speed)
	b.Field(2).(*array.Int64Builder).Append(w.Deg)
	gust := b.Field(3).(*array.Float64Builder)
	if w.Gust != nil {
		gust.Append(*w.Gust)
	} else {
		gust.AppendNull()
	}

	return b.NewRecord()
}
