package weather

import (
	"strings"
	"time"
	"unicode"
)

const (
	// DatetimeLayout is the capture timestamp format shared by both records of a run.
	DatetimeLayout = "2006-01-02 15:04:05"
	// FileDateLayout is the date component of persisted file names.
	FileDateLayout = "2006_01_02"
)

// Handoff keys written by the fetch step and read by the save step.
const (
	KeyTemperature = "temp_data"
	KeyWind        = "wind_data"
)

// Location represents the single city the pipeline tracks.
type Location struct {
	City string `json:"city"`
}

// FileKey returns the lowercase, filesystem-safe form of the city used in file names.
func (l Location) FileKey() string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(l.City)) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case r == ' ', r == '-', r == '_':
			b.WriteRune('-')
		}
	}
	return b.String()
}

// TemperatureRecord holds the `main` block of one OpenWeatherMap response.
type TemperatureRecord struct {
	Datetime  string  `json:"datetime"`
	Temp      float64 `json:"temp"`
	FeelsLike float64 `json:"feels_like"`
	TempMin   float64 `json:"temp_min"`
	TempMax   float64 `json:"temp_max"`
	Pressure  int64   `json:"pressure"`
}

// WindRecord holds the `wind` block of one OpenWeatherMap response.
// Gust is nil when the source payload has no gust value; it is always
// serialized, as null in that case.
type WindRecord struct {
	Datetime string   `json:"datetime"`
	Speed    float64  `json:"speed"`
	Deg      int64    `json:"deg"`
	Gust     *float64 `json:"gust"`
}

// Reading is the pair of records extracted from a single API call.
type Reading struct {
	Temperature TemperatureRecord
	Wind        WindRecord
}

// FormatDatetime formats t as a capture timestamp.
func FormatDatetime(t time.Time) string {
	return t.Format(DatetimeLayout)
}

// Clock returns the current wall-clock time. Components take one so tests can pin it.
type Clock func() time.Time
