package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"go.uber.org/zap"

	"github.com/satriahrh/voicerelay/domain"
	"github.com/satriahrh/voicerelay/domain/repositories"
)

const (
	// WeatherToolName is the function name the model calls
	WeatherToolName = "get_current_weather"

	defaultWeatherBaseURL = "https://api.openweathermap.org/data/2.5"
)

// Weather answers current-conditions questions through OpenWeatherMap
type Weather struct {
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

var _ repositories.Skill = (*Weather)(nil)

// NewWeather creates a new weather skill
func NewWeather(apiKey string, logger *zap.Logger, opts ...Option) *Weather {
	o := newOptions(defaultWeatherBaseURL, opts)
	return &Weather{
		apiKey:  apiKey,
		baseURL: o.baseURL,
		client:  o.httpClient,
		logger:  logger,
	}
}

// Declaration implements repositories.Skill
func (w *Weather) Declaration() repositories.ToolDeclaration {
	return repositories.ToolDeclaration{
		Name:        WeatherToolName,
		Description: "Get the current weather for a location (city required, country optional).",
		Parameters: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"city":    {Type: "string", Description: "City name"},
				"country": {Type: "string", Description: "Country two-letter code (optional)"},
			},
			Required: []string{"city"},
		},
	}
}

type weatherResponse struct {
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  float64 `json:"humidity"`
	} `json:"main"`
}

// Call implements repositories.Skill
func (w *Weather) Call(ctx context.Context, args map[string]any) (string, error) {
	if w.apiKey == "" {
		return "", &domain.ToolError{
			Tool:    WeatherToolName,
			Message: "Weather API key is missing. Please set WEATHER_API_KEY in the environment.",
		}
	}

	city := stringArg(args, "city")
	if city == "" {
		return "", &domain.ToolError{Tool: WeatherToolName, Message: "Sorry, I need a city to check the weather."}
	}
	location := city
	if country := stringArg(args, "country"); country != "" {
		location = city + "," + country
	}

	q := url.Values{}
	q.Set("q", location)
	q.Set("appid", w.apiKey)
	q.Set("units", "metric")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"/weather?"+q.Encode(), nil)
	if err != nil {
		return "", &domain.ToolError{Tool: WeatherToolName, Message: fmt.Sprintf("Exception occurred: %v", err), Err: err}
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return "", &domain.ToolError{Tool: WeatherToolName, Message: fmt.Sprintf("Exception occurred: %v", err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := readErrorBody(resp)
		return "", &domain.ToolError{
			Tool:    WeatherToolName,
			Message: fmt.Sprintf("API error: %d - %s", resp.StatusCode, body),
		}
	}

	var data weatherResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", &domain.ToolError{Tool: WeatherToolName, Message: fmt.Sprintf("Exception occurred: %v", err), Err: err}
	}
	if len(data.Weather) == 0 {
		return "", &domain.ToolError{Tool: WeatherToolName, Message: "Sorry, I couldn't fetch the weather."}
	}

	description := data.Weather[0].Description
	w.logger.Info("Fetched weather",
		zap.String("city", city),
		zap.String("weather", description),
		zap.Float64("temp", data.Main.Temp))

	return fmt.Sprintf("The current weather in %s is %s with a temperature of %s°C (feels like %s°C) and humidity of %s%%. %s",
		city, description,
		formatNumber(data.Main.Temp),
		formatNumber(data.Main.FeelsLike),
		formatNumber(data.Main.Humidity),
		weatherSuggestion(city, description)), nil
}

func weatherSuggestion(city, weather string) string {
	lower := strings.ToLower(weather)
	switch {
	case strings.Contains(lower, "rain"):
		return fmt.Sprintf("It's rainy in %s. Don't forget your umbrella! 🌧️ Maybe enjoy a cozy day indoors with a book.", city)
	case strings.Contains(lower, "clear"):
		return fmt.Sprintf("It's a sunny day in %s! Perfect for a walk or a picnic. ☀️ Don't forget your sunglasses!", city)
	case strings.Contains(lower, "cloud"):
		return fmt.Sprintf("It's cloudy in %s. A great day to grab a warm drink and explore the city. ☁️", city)
	case strings.Contains(lower, "snow"):
		return fmt.Sprintf("It's snowing in %s! Stay warm and maybe build a snowman. ❄️", city)
	default:
		return fmt.Sprintf("The weather in %s is %s. Have a great day, no matter the weather! 🌈", city, weather)
	}
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
