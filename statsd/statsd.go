// Package statsd wraps the few statsd calls the replicator makes. It keeps the datadog dependency in one file.
package statsd

import (
	"strings"
	"time"

	ddstatsd "github.com/DataDog/datadog-go/v5/statsd"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog/log"
)

var client ddstatsd.ClientInterface = &ddstatsd.NoOpClient{}

func Client() ddstatsd.ClientInterface {
	return client
}

// SetClient replaces the global client. Tests use it to observe emitted metrics.
func SetClient(c ddstatsd.ClientInterface) {
	client = c
}

func EmitTickStat(start time.Time, stage string) {
	duration := time.Since(start)
	err := Client().Timing("tick", duration, []string{"stage:" + stage}, 1)
	if err != nil {
		log.Logger.Warn().Msgf("failed to emit tick stat: %v", err)
	}
}

func Count(name string, value int64, tags ...string) {
	if err := Client().Count(name, value, tags, 1); err != nil {
		log.Logger.Warn().Msgf("failed to emit %s: %v", name, err)
	}
}

func Gauge(name string, value float64, tags ...string) {
	if err := Client().Gauge(name, value, tags, 1); err != nil {
		log.Logger.Warn().Msgf("failed to emit %s: %v", name, err)
	}
}

// ParseTags splits a comma separated list of key:value tags, dropping empty entries.
func ParseTags(s string) []string {
	var tags []string
	for _, tag := range strings.Split(s, ",") {
		tag = strings.TrimSpace(tag)
		if tag == "" || strings.HasPrefix(tag, ":") {
			continue
		}
		tags = append(tags, strings.TrimSuffix(tag, ":"))
	}
	return tags
}

func Init(address string, tags []string) error {
	if address == "" {
		return eris.New("address must not be empty")
	}
	opts := []ddstatsd.Option{
		// The statsd namespace is the prefix of all metrics
		ddstatsd.WithNamespace("replicate"),
	}
	if len(tags) > 0 {
		opts = append(opts, ddstatsd.WithTags(tags))
	}

	newClient, err := ddstatsd.New(address, opts...)
	if err != nil {
		return eris.Wrap(err, "")
	}
	client = newClient
	return nil
}
