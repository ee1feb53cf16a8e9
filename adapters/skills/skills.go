// Package skills holds the tools the model may call during a turn.
package skills

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/voicerelay/domain/repositories"
)

const (
	defaultHTTPTimeout = 10 * time.Second
	maxErrorBody       = 8192
)

// Option configures a skill
type Option func(*options)

type options struct {
	baseURL    string
	httpClient *http.Client
}

// WithBaseURL overrides the API base URL
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// WithHTTPClient overrides the HTTP client used for requests
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

func newOptions(baseURL string, opts []Option) *options {
	o := &options{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(o)
	}
	o.baseURL = strings.TrimRight(o.baseURL, "/")
	return o
}

// Config holds API keys for every built-in skill
type Config struct {
	WeatherAPIKey string
	TavilyAPIKey  string
}

// Default returns the built-in skills. Skills without a key stay registered
// and answer with a configuration hint.
func Default(config Config, logger *zap.Logger) []repositories.Skill {
	return []repositories.Skill{
		NewWeather(config.WeatherAPIKey, logger),
		NewTavily(config.TavilyAPIKey, logger),
	}
}

func stringArg(args map[string]any, name string) string {
	v, ok := args[name]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func readErrorBody(resp *http.Response) string {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return string(body)
}
