package providers

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/i474232898/weather-parquet-pipeline/internal/weather"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// DefaultOpenWeatherURL is the current-weather endpoint of OpenWeatherMap.
const DefaultOpenWeatherURL = "https://api.openweathermap.org/data/2.5/weather"

// OpenWeatherProvider implements the weather.Provider interface for OpenWeatherMap.
type OpenWeatherProvider struct {
	name    string
	apiKey  string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
	now     weather.Clock
	log     *zap.SugaredLogger
}

// Option configures an OpenWeatherProvider.
type Option func(*OpenWeatherProvider)

// WithBaseURL points the provider at another endpoint (tests, proxies).
func WithBaseURL(baseURL string) Option {
	return func(p *OpenWeatherProvider) {
		if baseURL != "" {
			p.baseURL = baseURL
		}
	}
}

// WithBackoff overrides DefaultBackoff.
func WithBackoff(b BackoffConfig) Option {
	return func(p *OpenWeatherProvider) {
		p.httpCfg.Backoff = b
	}
}

// WithSleep replaces the timer-based wait between attempts.
func WithSleep(sleep SleepFunc) Option {
	return func(p *OpenWeatherProvider) {
		p.httpCfg.Sleep = sleep
	}
}

// WithClock sets the clock used to stamp records.
func WithClock(now weather.Clock) Option {
	return func(p *OpenWeatherProvider) {
		if now != nil {
			p.now = now
		}
	}
}

// WithLogger sets the provider logger.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(p *OpenWeatherProvider) {
		if log != nil {
			p.log = log
		}
	}
}

// WithoutCircuitBreaker disables the breaker; every attempt hits the network.
func WithoutCircuitBreaker() Option {
	return func(p *OpenWeatherProvider) {
		p.circuit = nil
	}
}

func NewOpenWeatherProvider(client *http.Client, apiKey string, opts ...Option) *OpenWeatherProvider {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "openweather",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	p := &OpenWeatherProvider{
		name:    "openweathermap",
		apiKey:  apiKey,
		baseURL: DefaultOpenWeatherURL,
		httpCfg: HTTPClientConfig{
			Client:  client,
			Backoff: DefaultBackoff,
		},
		circuit: cb,
		now:     time.Now,
		log:     zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *OpenWeatherProvider) Name() string {
	return p.name
}

// Fetch calls the API once per attempt and extracts the temperature and wind
// records, both stamped with the same capture time.
func (p *OpenWeatherProvider) Fetch(ctx context.Context, loc weather.Location) (weather.Reading, error) {
	if p.apiKey == "" {
		return weather.Reading{}, fmt.Errorf("openweather: %w", ErrMissingAPIKey)
	}
	if strings.TrimSpace(loc.City) == "" {
		return weather.Reading{}, fmt.Errorf("openweather: %w", ErrMissingCity)
	}

	var reading weather.Reading
	attempts, err := doWithResilience(ctx, p.httpCfg, p.circuit, p.log.With("city", loc.City), func(ctx context.Context) error {
		req, err := p.buildRequest(ctx, loc)
		if err != nil {
			return err
		}

		var payload openWeatherPayload
		if err := getJSON(p.httpCfg.Client, req, &payload); err != nil {
			return err
		}

		r, err := payload.reading(weather.FormatDatetime(p.now()))
		if err != nil {
			return err
		}
		reading = r
		return nil
	})
	if err != nil {
		return weather.Reading{}, fmt.Errorf("%w for %s after %d attempt(s): %w", ErrFetchFailed, loc.City, attempts, err)
	}

	p.log.Infow("weather data fetched",
		"city", loc.City,
		"attempts", attempts,
		"datetime", reading.Temperature.Datetime,
	)
	return reading, nil
}

// FetchToHandoff fetches a reading and hands both records to the next step.
// Nothing is written when the fetch fails.
func (p *OpenWeatherProvider) FetchToHandoff(ctx context.Context, loc weather.Location, h weather.Handoff) (weather.Reading, error) {
	r, err := p.Fetch(ctx, loc)
	if err != nil {
		return weather.Reading{}, err
	}
	if err := weather.PutReading(ctx, h, r); err != nil {
		return weather.Reading{}, fmt.Errorf("handoff weather data: %w", err)
	}
	return r, nil
}

func (p *OpenWeatherProvider) buildRequest(ctx context.Context, loc weather.Location) (*http.Request, error) {
	values := url.Values{}
	values.Set("q", loc.City)
	values.Set("appid", p.apiKey)
	values.Set("units", "metric")

	u := fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
	return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
}

// openWeatherPayload keeps pointers so absent fields can be told apart from zero values.
type openWeatherPayload struct {
	Main *struct {
		Temp      *float64 `json:"temp"`
		FeelsLike *float64 `json:"feels_like"`
		TempMin   *float64 `json:"temp_min"`
		TempMax   *float64 `json:"temp_max"`
		Pressure  *float64 `json:"pressure"`
	} `json:"main"`
	Wind *struct {
		Speed *float64 `json:"speed"`
		Deg   *float64 `json:"deg"`
		Gust  *float64 `json:"gust"`
	} `json:"wind"`
}

func (p openWeatherPayload) reading(datetime string) (weather.Reading, error) {
	if p.Main == nil || p.Wind == nil {
		return weather.Reading{}, fmt.Errorf("%w: missing main or wind object", ErrMalformedPayload)
	}

	var missing []string
	check := func(name string, v *float64) {
		if v == nil {
			missing = append(missing, name)
		}
	}
	check("main.temp", p.Main.Temp)
	check("main.feels_like", p.Main.FeelsLike)
	check("main.temp_min", p.Main.TempMin)
	check("main.temp_max", p.Main.TempMax)
	check("main.pressure", p.Main.Pressure)
	check("wind.speed", p.Wind.Speed)
	check("wind.deg", p.Wind.Deg)
	if len(missing) > 0 {
		return weather.Reading{}, fmt.Errorf("%w: missing %s", ErrMalformedPayload, strings.Join(missing, ", "))
	}

	var gust *float64
	if p.Wind.Gust != nil {
		g := *p.Wind.Gust
		gust = &g
	}

	return weather.Reading{
		Temperature: weather.TemperatureRecord{
			Datetime:  datetime,
			Temp:      *p.Main.Temp,
			FeelsLike: *p.Main.FeelsLike,
			TempMin:   *p.Main.TempMin,
			TempMax:   *p.Main.TempMax,
			Pressure:  int64(math.Round(*p.Main.Pressure)),
		},
		Wind: weather.WindRecord{
			Datetime: datetime,
			Speed:    *p.Wind.Speed,
			Deg:      int64(math.Round(*p.Wind.Deg)),
			Gust:     gust,
		},
	}, nil
}
