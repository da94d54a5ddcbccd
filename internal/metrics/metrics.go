package metrics

import (
	"sync"
	"time"

	"github.com/DataDog/datadog-go/v5/statsd"
	"github.com/rs/zerolog/log"
)

const (
	ApiRequestCount    = "api_request_count"
	ApiRequestLatency  = "api_request_latency"
	InferenceLatency   = "model_inference_latency"
	InferenceCount     = "model_inference_count"
	PredictionCount    = "prediction_count"
	NonCTRejectedCount = "non_ct_rejected_count"
)

const (
	TagEnv            = "env"
	TagService        = "service"
	TagPath           = "path"
	TagMethod         = "method"
	TagHttpStatusCode = "http_status_code"
	TagModel          = "model"
	TagCase           = "case"
	TagStatus         = "status"
)

var (
	// safe to use from multiple goroutines; a no-op until Init runs
	client statsd.ClientInterface = &statsd.NoOpClient{}

	samplingRate = 1.0
	once         sync.Once
)

// Init points the package at the telegraf agent. A client that cannot be
// created is logged and metrics stay disabled.
func Init(address, env, service string, rate float64) {
	once.Do(func() {
		c, err := statsd.New(address, statsd.WithTags([]string{
			TagAsString(TagEnv, env),
			TagAsString(TagService, service),
		}))
		if err != nil {
			log.Error().Err(err).Msg("StatsD client initialization failed, metrics will be unavailable")
			return
		}
		client = c
		if rate > 0 {
			samplingRate = rate
		}
		log.Info().Msgf("Metrics client initialized with telegraf address - %s, sampling rate - %f", address, samplingRate)
	})
}

// Close flushes and closes the client.
func Close() {
	if err := client.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close statsd client")
	}
}

func TagAsString(key, value string) string {
	return key + ":" + value
}

// BuildTags turns key/value pairs into statsd tags.
func BuildTags(kv ...string) []string {
	tags := make([]string, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		tags = append(tags, TagAsString(kv[i], kv[i+1]))
	}
	return tags
}

func Timing(name string, value time.Duration, tags []string) {
	if err := client.Timing(name, value, tags, samplingRate); err != nil {
		log.Warn().Err(err).Msg("Error occurred while doing statsd timing")
	}
}

func Count(name string, value int64, tags []string) {
	if err := client.Count(name, value, tags, samplingRate); err != nil {
		log.Warn().Err(err).Msg("Error occurred while doing statsd count")
	}
}

func Incr(name string, tags []string) {
	Count(name, 1, tags)
}
