package config

import (
	"errors"
	"os"
	"strings"
	"time"
)

// Store backends
const (
	StoreDynamoDB = "dynamodb"
	StorePostgres = "postgres"
)

type Config struct {
	Region           string
	EndpointOverride string

	OrdersTable      string
	IdempotencyTable string
	EventBusName     string
	DeadLetterURL    string

	OrderStore  string
	DatabaseURI string

	RunLocal   bool
	ListenAddr string

	LogLevel string
	LogJSON  bool

	MetricsNamespace string
	AttemptTimeout   time.Duration
	IdempotencyTTL   time.Duration
}

func Default() Config {
	return Config{
		Region:         "us-east-1",
		OrdersTable:    "Orders",
		EventBusName:   "serverless-snacks-orders",
		OrderStore:     StoreDynamoDB,
		ListenAddr:     ":8080",
		LogLevel:       "info",
		LogJSON:        true,
		AttemptTimeout: 30 * time.Second,
		IdempotencyTTL: 48 * time.Hour,
	}
}

// Load reads the environment on top of Default.
func Load() Config {
	return fromEnv(Default(), os.LookupEnv)
}

func fromEnv(c Config, lookup func(string) (string, bool)) Config {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok {
			return
		}
		switch strings.ToLower(v) {
		case "1", "true", "yes":
			*dst = true
		case "0", "false", "no":
			*dst = false
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				*dst = d
			}
		}
	}

	str("AWS_REGION", &c.Region)
	str("AWS_ENDPOINT_OVERRIDE", &c.EndpointOverride)
	str("ORDERS_TABLE_NAME", &c.OrdersTable)
	str("IDEMPOTENCY_TABLE_NAME", &c.IdempotencyTable)
	str("EVENT_BUS_NAME", &c.EventBusName)
	str("DLQ_URL", &c.DeadLetterURL)
	str("ORDER_STORE", &c.OrderStore)
	str("DATABASE_URI", &c.DatabaseURI)
	boolean("RUN_LOCAL", &c.RunLocal)
	str("LISTEN_ADDR", &c.ListenAddr)
	str("LOG_LEVEL", &c.LogLevel)
	boolean("LOG_JSON", &c.LogJSON)
	str("METRICS_NAMESPACE", &c.MetricsNamespace)
	duration("ATTEMPT_TIMEOUT", &c.AttemptTimeout)
	duration("IDEMPOTENCY_TTL", &c.IdempotencyTTL)
	return c
}

var (
	ErrMissingOrdersTable = errors.New("ORDERS_TABLE_NAME is required for the dynamodb store")
	ErrMissingDatabaseURI = errors.New("DATABASE_URI is required for the postgres store")
	ErrUnknownStore       = errors.New("ORDER_STORE must be dynamodb or postgres")
	ErrMissingEventBus    = errors.New("EVENT_BUS_NAME is required outside local mode")
	ErrMissingDeadLetter  = errors.New("DLQ_URL is required outside local mode")
)

// ValidateStore checks the settings every component needs.
func (c Config) ValidateStore() error {
	switch c.OrderStore {
	case StoreDynamoDB:
		if c.OrdersTable == "" {
			return ErrMissingOrdersTable
		}
	case StorePostgres:
		if c.DatabaseURI == "" {
			return ErrMissingDatabaseURI
		}
	default:
		return ErrUnknownStore
	}
	return nil
}

// ValidateCreator checks what the intake entry point needs.
func (c Config) ValidateCreator() error {
	if err := c.ValidateStore(); err != nil {
		return err
	}
	if !c.RunLocal && c.EventBusName == "" {
		return ErrMissingEventBus
	}
	return nil
}

// ValidateProcessor checks what the fulfillment entry point and the replay tool need.
func (c Config) ValidateProcessor() error {
	if err := c.ValidateStore(); err != nil {
		return err
	}
	if !c.RunLocal && c.DeadLetterURL == "" {
		return ErrMissingDeadLetter
	}
	return nil
}
