package weather

import (
	"context"
)

// Provider abstracts the current-weather data source (OpenWeatherMap).
type Provider interface {
	Name() string
	Fetch(ctx context.Context, loc Location) (Reading, error)
}

// Handoff is the per-run key-value exchange between the fetch and save steps.
type Handoff interface {
	Put(ctx context.Context, key string, value any) error
	Get(ctx context.Context, key string, dst any) error
}

// PutReading writes both records of a reading under their fixed keys.
func PutReading(ctx context.Context, h Handoff, r Reading) error {
	if err := h.Put(ctx, KeyTemperature, r.Temperature); err != nil {
		return err
	}
	return h.Put(ctx, KeyWind, r.Wind)
}
