package cmd

import (
	"time"

	"github.com/dukex/crmflow/pkg/crm/rest"
	"github.com/dukex/crmflow/pkg/delegates"
	"github.com/dukex/crmflow/pkg/delegates/chat"
	"github.com/dukex/crmflow/pkg/delegates/ses"
	"github.com/dukex/crmflow/pkg/engine"
	"github.com/dukex/crmflow/pkg/retry"
	cli "github.com/urfave/cli/v3"
)

// LogFlags are shared by every binary.
func LogFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Value:   "text",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
	}
}

// RuntimeFlags configure the store, bus, locks, engine limits and delegates.
func RuntimeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Database connection URL (postgres://... or a file store directory)",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (kafka, memory); empty disables publishing",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringSliceFlag{
			Name:    "kafka-brokers",
			Usage:   "Kafka broker addresses",
			Value:   []string{"localhost:9092"},
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.StringFlag{
			Name:    "lock-backend",
			Usage:   "Lease backend (local, redis, postgres)",
			Value:   "local",
			Sources: cli.EnvVars("LOCK_BACKEND"),
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "Redis URL for the redis lease backend",
			Value:   "redis://localhost:6379/0",
			Sources: cli.EnvVars("REDIS_URL"),
		},
		&cli.BoolFlag{
			Name:    "otel-enabled",
			Usage:   "Export traces over OTLP",
			Sources: cli.EnvVars("OTEL_ENABLED"),
		},
		&cli.IntFlag{
			Name:    "max-chain-depth",
			Usage:   "Maximum depth of automation chains triggered by automation events",
			Value:   engine.DefaultMaxChainDepth,
			Sources: cli.EnvVars("MAX_CHAIN_DEPTH"),
		},
		&cli.IntFlag{
			Name:    "max-attempts",
			Usage:   "Attempts per step before it fails",
			Value:   retry.DefaultMaxAttempts,
			Sources: cli.EnvVars("MAX_ATTEMPTS"),
		},
		&cli.IntFlag{
			Name:    "tick-batch",
			Usage:   "Records handled per sweep phase",
			Value:   engine.DefaultTickBatch,
			Sources: cli.EnvVars("TICK_BATCH"),
		},
		&cli.DurationFlag{
			Name:    "definition-cache-ttl",
			Usage:   "How long active flows and cadences are cached",
			Value:   engine.DefaultCacheTTL,
			Sources: cli.EnvVars("DEFINITION_CACHE_TTL"),
		},
		&cli.DurationFlag{
			Name:    "delegate-timeout",
			Usage:   "Timeout for each delegate call",
			Value:   delegates.DefaultTimeout,
			Sources: cli.EnvVars("DELEGATE_TIMEOUT"),
		},
		&cli.StringFlag{
			Name:    "crm-api-url",
			Usage:   "Base URL of the CRM REST API; empty uses an in-memory CRM",
			Sources: cli.EnvVars("CRM_API_URL"),
		},
		&cli.StringFlag{
			Name:    "crm-api-token",
			Usage:   "Bearer token for the CRM REST API",
			Sources: cli.EnvVars("CRM_API_TOKEN"),
		},
		&cli.StringFlag{
			Name:    "ses-region",
			Usage:   "AWS region for SES",
			Value:   "us-east-1",
			Sources: cli.EnvVars("SES_REGION"),
		},
		&cli.StringFlag{
			Name:    "ses-from",
			Usage:   "Sender address for send-email; empty disables SES",
			Sources: cli.EnvVars("SES_FROM"),
		},
		&cli.StringFlag{
			Name:    "ses-configuration-set",
			Usage:   "SES configuration set attached to every email",
			Sources: cli.EnvVars("SES_CONFIGURATION_SET"),
		},
		&cli.StringFlag{
			Name:    "chat-gateway-url",
			Usage:   "Base URL of the chat gateway for send-message",
			Sources: cli.EnvVars("CHAT_GATEWAY_URL"),
		},
		&cli.StringFlag{
			Name:    "chat-gateway-token",
			Usage:   "Bearer token for the chat gateway",
			Sources: cli.EnvVars("CHAT_GATEWAY_TOKEN"),
		},
	}
}

// RuntimeConfigFrom reads the RuntimeFlags of command.
func RuntimeConfigFrom(command *cli.Command, serviceName string) RuntimeConfig {
	return RuntimeConfig{
		ServiceName:   serviceName,
		DatabaseURL:   command.String("database-url"),
		EventBus:      command.String("event-bus"),
		KafkaBrokers:  command.StringSlice("kafka-brokers"),
		LockBackend:   command.String("lock-backend"),
		RedisURL:      command.String("redis-url"),
		OtelEnabled:   command.Bool("otel-enabled"),
		MaxChainDepth: command.Int("max-chain-depth"),
		MaxAttempts:   command.Int("max-attempts"),
		TickBatch:     command.Int("tick-batch"),
		CacheTTL:      command.Duration("definition-cache-ttl"),
		Delegates: DelegateConfig{
			Timeout: command.Duration("delegate-timeout"),
			CRM: rest.Config{
				BaseURL: command.String("crm-api-url"),
				Token:   command.String("crm-api-token"),
			},
			SES: ses.Config{
				Region:           command.String("ses-region"),
				From:             command.String("ses-from"),
				ConfigurationSet: command.String("ses-configuration-set"),
			},
			Chat: chat.Config{
				BaseURL: command.String("chat-gateway-url"),
				Token:   command.String("chat-gateway-token"),
			},
		},
	}
}

// ShutdownTimeout bounds graceful shutdown of every binary.
const ShutdownTimeout = 10 * time.Second
