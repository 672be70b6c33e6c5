package ingest

import (
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/spawn/internal/logging"
	"github.com/arloliu/spawn/internal/metrics"
	"github.com/arloliu/spawn/types"
)

// Default configuration values for Consumer.
const (
	// DefaultStreamName is the stream chat events are published to.
	DefaultStreamName = "CHAT_EVENTS"

	// DefaultSubjectTemplate maps a chat to its event subject.
	DefaultSubjectTemplate = "chat.{{.ChatID}}.events"

	// DefaultFilterSubject matches every chat's events.
	DefaultFilterSubject = "chat.*.events"

	// DefaultConsumerName is the durable consumer name.
	DefaultConsumerName = "spawn-engine"

	// DefaultBatchSize is the default number of messages to fetch per pull request.
	DefaultBatchSize = 64

	// DefaultFetchTimeout is the default maximum duration to wait for messages.
	DefaultFetchTimeout = 5 * time.Second

	// DefaultMaxRetries is the default number of consumer creation retries.
	DefaultMaxRetries = 3

	// DefaultRetryBackoff is the default duration between retry attempts.
	DefaultRetryBackoff = 100 * time.Millisecond

	// DefaultAckWait is the default duration to wait for acknowledgment.
	DefaultAckWait = 30 * time.Second

	// DefaultMaxDeliver is the default maximum delivery attempts.
	DefaultMaxDeliver = 3

	// DefaultNakDelay delays redelivery after a handler error.
	DefaultNakDelay = 500 * time.Millisecond
)

// Config configures a Consumer.
//
// Zero values are replaced by defaults via applyDefaults().
type Config struct {
	StreamName    string `yaml:"streamName"`
	FilterSubject string `yaml:"filterSubject"`
	ConsumerName  string `yaml:"consumerName"`

	AckWait    time.Duration `yaml:"ackWait"`
	MaxDeliver int           `yaml:"maxDeliver"`
	NakDelay   time.Duration `yaml:"nakDelay"`

	BatchSize    int           `yaml:"batchSize"`
	FetchTimeout time.Duration `yaml:"fetchTimeout"`

	MaxRetries   int           `yaml:"maxRetries"`
	RetryBackoff time.Duration `yaml:"retryBackoff"`

	Logger  types.Logger           `yaml:"-"`
	Metrics types.MetricsCollector `yaml:"-"`
}

// applyDefaults fills unset optional fields with project defaults.
func (cfg *Config) applyDefaults() {
	if cfg.StreamName == "" {
		cfg.StreamName = DefaultStreamName
	}
	if cfg.FilterSubject == "" {
		cfg.FilterSubject = DefaultFilterSubject
	}
	if cfg.ConsumerName == "" {
		cfg.ConsumerName = DefaultConsumerName
	}
	if cfg.AckWait == 0 {
		cfg.AckWait = DefaultAckWait
	}
	if cfg.MaxDeliver == 0 {
		cfg.MaxDeliver = DefaultMaxDeliver
	}
	if cfg.NakDelay == 0 {
		cfg.NakDelay = DefaultNakDelay
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = DefaultRetryBackoff
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNop()
	}
}

// consumerConfig returns the durable consumer definition.
func (cfg *Config) consumerConfig() jetstream.ConsumerConfig {
	return jetstream.ConsumerConfig{
		Name:          cfg.ConsumerName,
		Durable:       cfg.ConsumerName,
		FilterSubject: cfg.FilterSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       cfg.AckWait,
		MaxDeliver:    cfg.MaxDeliver,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	}
}
