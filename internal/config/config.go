package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

type Config struct {
	KafkaBrokers []string
	StreamTopic  string
	RedisURL     string // empty: the data service keeps items in memory

	DataServiceURL  string // base URL the dashboard polls and resolves schemas from
	DataServiceAddr string // listen address of the data service
	DashboardAddr   string // listen address of the dashboard
	Publisher       string // optional: only accept events from this publisher

	ProposalPollInterval time.Duration
	VotePollInterval     time.Duration
	PushDisabled         bool // if true: every feed polls

	ProposalScopedVoteKeys bool
	BufferOrphanVotes      bool

	LogLevel  string
	LogFormat string // text or json
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		fmt.Fprintf(os.Stderr, "warning: invalid %s=%q, using %s\n", key, v, def)
		return def
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func Load() Config {
	return Config{
		KafkaBrokers:           splitList(getenv("KAFKA_BROKERS", "localhost:9092")),
		StreamTopic:            getenv("STREAM_TOPIC", "governance.events"),
		RedisURL:               strings.TrimSpace(os.Getenv("REDIS_URL")),
		DataServiceURL:         getenv("DATASVC_URL", "http://localhost:8080"),
		DataServiceAddr:        getenv("DATASVC_ADDR", ":8080"),
		DashboardAddr:          getenv("DASHBOARD_ADDR", ":8081"),
		Publisher:              os.Getenv("PUBLISHER_ADDRESS"),
		ProposalPollInterval:   getenvDuration("PROPOSAL_POLL_INTERVAL", 3000*time.Millisecond),
		VotePollInterval:       getenvDuration("VOTE_POLL_INTERVAL", 2500*time.Millisecond),
		PushDisabled:           getenvBool("PUSH_DISABLED", false),
		ProposalScopedVoteKeys: getenvBool("PROPOSAL_SCOPED_VOTE_KEYS", false),
		BufferOrphanVotes:      getenvBool("BUFFER_ORPHAN_VOTES", false),
		LogLevel:               getenv("LOG_LEVEL", "info"),
		LogFormat:              getenv("LOG_FORMAT", "text"),
	}
}

// BindFlags registers command line overrides for cfg. Defaults are the
// values already in cfg, so flags win over the environment.
func BindFlags(fs *pflag.FlagSet, cfg *Config) {
	fs.StringSliceVar(&cfg.KafkaBrokers, "kafka-brokers", cfg.KafkaBrokers, "Kafka bootstrap brokers")
	fs.StringVar(&cfg.StreamTopic, "topic", cfg.StreamTopic, "Kafka topic carrying proposal and vote items")
	fs.StringVar(&cfg.RedisURL, "redis-url", cfg.RedisURL, "Redis URL for the data service (empty: in memory)")
	fs.StringVar(&cfg.DataServiceURL, "datasvc-url", cfg.DataServiceURL, "base URL of the data service")
	fs.StringVar(&cfg.DataServiceAddr, "datasvc-addr", cfg.DataServiceAddr, "listen address of the data service")
	fs.StringVar(&cfg.DashboardAddr, "addr", cfg.DashboardAddr, "listen address of the dashboard")
	fs.StringVar(&cfg.Publisher, "publisher", cfg.Publisher, "only accept events from this publisher")
	fs.DurationVar(&cfg.ProposalPollInterval, "proposal-poll-interval", cfg.ProposalPollInterval, "proposal feed poll interval")
	fs.DurationVar(&cfg.VotePollInterval, "vote-poll-interval", cfg.VotePollInterval, "vote feed poll interval")
	fs.BoolVar(&cfg.PushDisabled, "no-push", cfg.PushDisabled, "poll the data service instead of subscribing to Kafka")
	fs.BoolVar(&cfg.ProposalScopedVoteKeys, "proposal-scoped-vote-keys", cfg.ProposalScopedVoteKeys, "dedupe votes per proposal")
	fs.BoolVar(&cfg.BufferOrphanVotes, "buffer-orphan-votes", cfg.BufferOrphanVotes, "count votes that arrive before their proposal")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format (text, json)")
}

// DebugString returns a human-friendly configuration string with masked secrets.
func (c Config) DebugString() string {
	return fmt.Sprintf(
		"brokers=%s topic=%s redis=%s datasvc=%s publisher=%s poll=%s/%s push=%t",
		strings.Join(c.KafkaBrokers, ","),
		c.StreamTopic,
		maskURL(c.RedisURL),
		c.DataServiceURL,
		c.Publisher,
		c.ProposalPollInterval,
		c.VotePollInterval,
		!c.PushDisabled,
	)
}

func maskURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return "***"
	}
	if u.User != nil {
		if _, ok := u.User.Password(); ok {
			u.User = url.UserPassword(u.User.Username(), "***")
		}
	}
	return u.String()
}
