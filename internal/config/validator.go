package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"leadflow/internal/constants"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

func ValidateStatic(cfg *Config) error {
	var errs []error

	validators := []func(*Config) error{
		func(c *Config) error { return validateServer(c.Server) },
		func(c *Config) error { return validateBroker(c.Broker) },
		func(c *Config) error { return validateDatabase(c.Database) },
		func(c *Config) error { return validateDistribution(c.Distribution, c.Database) },
		func(c *Config) error { return validateScheduler(c.Scheduler) },
	}

	for _, validate := range validators {
		if err := validate(cfg); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func validateServer(cfg ServerConfig) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "server.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.ReadTimeoutSeconds <= 0 {
		return &ValidationError{Field: "server.read_timeout_seconds", Message: "read timeout must be positive"}
	}

	if cfg.WriteTimeoutSeconds <= 0 {
		return &ValidationError{Field: "server.write_timeout_seconds", Message: "write timeout must be positive"}
	}

	return nil
}

// validateBroker accepts an empty type: the service then runs without Kafka triggers.
func validateBroker(cfg BrokerConfig) error {
	switch cfg.Type {
	case "":
		return nil
	case "kafka":
		return validateKafka(cfg.Kafka)
	default:
		return &ValidationError{
			Field:   "broker.type",
			Message: fmt.Sprintf("unknown broker type: %s (supported: kafka)", cfg.Type),
		}
	}
}

func validateKafka(cfg KafkaConfig) error {
	if len(cfg.Brokers) == 0 {
		return &ValidationError{Field: "broker.kafka.brokers", Message: "at least one Kafka broker is required"}
	}

	for i, broker := range cfg.Brokers {
		if broker == "" {
			return &ValidationError{
				Field:   fmt.Sprintf("broker.kafka.brokers[%d]", i),
				Message: "broker address cannot be empty",
			}
		}
	}

	if cfg.GroupID == "" {
		return &ValidationError{Field: "broker.kafka.group_id", Message: "Kafka consumer group ID is required"}
	}

	return validateRetry("broker.kafka.retry", cfg.Retry)
}

func validateRetry(field string, cfg RetryConfig) error {
	if cfg.MaxAttempts < 0 {
		return &ValidationError{Field: field + ".max_attempts", Message: "max_attempts must be non-negative"}
	}

	if cfg.InitialInterval < 0 || cfg.MaxInterval < 0 {
		return &ValidationError{Field: field, Message: "intervals must be non-negative"}
	}

	if cfg.MaxInterval > 0 && cfg.InitialInterval > 0 && cfg.MaxInterval < cfg.InitialInterval {
		return &ValidationError{
			Field:   field + ".max_interval",
			Message: "max_interval must be greater than or equal to initial_interval",
		}
	}

	if cfg.Multiplier < 0 {
		return &ValidationError{Field: field + ".multiplier", Message: "multiplier must be non-negative"}
	}

	return nil
}

func validateDatabase(cfg DatabaseConfig) error {
	if err := validatePostgres(cfg.Postgres); err != nil {
		return err
	}

	if cfg.Redis.Host != "" || cfg.Redis.Port > 0 {
		if err := validateRedis(cfg.Redis); err != nil {
			return err
		}
	}

	if cfg.MongoDB.URI != "" {
		if err := validateMongoDB(cfg.MongoDB); err != nil {
			return err
		}
	}

	return nil
}

// validatePostgres: Postgres is the system of record for rules, members and leads, so it is required.
func validatePostgres(cfg PostgresConfig) error {
	if cfg.Host == "" {
		return &ValidationError{Field: "database.postgres.host", Message: "PostgreSQL host is required"}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.postgres.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	if cfg.User == "" {
		return &ValidationError{Field: "database.postgres.user", Message: "PostgreSQL user is required"}
	}

	if cfg.DBName == "" {
		return &ValidationError{Field: "database.postgres.dbname", Message: "PostgreSQL database name is required"}
	}

	validSSLModes := map[string]bool{
		"disable": true, "allow": true, "prefer": true,
		"require": true, "verify-ca": true, "verify-full": true,
	}
	if cfg.SSLMode != "" && !validSSLModes[strings.ToLower(cfg.SSLMode)] {
		return &ValidationError{
			Field:   "database.postgres.sslmode",
			Message: fmt.Sprintf("invalid SSL mode: %s", cfg.SSLMode),
		}
	}

	return nil
}

func validateRedis(cfg RedisConfig) error {
	if cfg.Host == "" {
		return &ValidationError{Field: "database.redis.host", Message: "Redis host is required"}
	}

	if cfg.Port < 1 || cfg.Port > 65535 {
		return &ValidationError{
			Field:   "database.redis.port",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", cfg.Port),
		}
	}

	return nil
}

func validateMongoDB(cfg MongoDBConfig) error {
	if !strings.HasPrefix(cfg.URI, "mongodb://") && !strings.HasPrefix(cfg.URI, "mongodb+srv://") {
		return &ValidationError{
			Field:   "database.mongodb.uri",
			Message: "MongoDB URI must start with mongodb:// or mongodb+srv://",
		}
	}

	if cfg.Database == "" {
		return &ValidationError{Field: "database.mongodb.database", Message: "MongoDB database name is required"}
	}

	return nil
}

func validateDistribution(cfg DistributionConfig, db DatabaseConfig) error {
	if cfg.StoreTimeout <= 0 {
		return &ValidationError{Field: "distribution.store_timeout", Message: "store timeout must be positive"}
	}

	if cfg.CursorMaxRetries < 1 {
		return &ValidationError{Field: "distribution.cursor_max_retries", Message: "at least one attempt is required"}
	}

	if _, err := time.LoadLocation(cfg.DefaultTimezone); err != nil {
		return &ValidationError{
			Field:   "distribution.default_timezone",
			Message: fmt.Sprintf("unknown timezone %q", cfg.DefaultTimezone),
		}
	}

	for workspace, tz := range cfg.WorkspaceTimezones {
		if _, err := time.LoadLocation(tz); err != nil {
			return &ValidationError{
				Field:   "distribution.workspace_timezones." + workspace,
				Message: fmt.Sprintf("unknown timezone %q", tz),
			}
		}
	}

	switch cfg.LogStore {
	case constants.LogStorePostgres:
	case constants.LogStoreMongoDB:
		if db.MongoDB.URI == "" {
			return &ValidationError{
				Field:   "distribution.log_store",
				Message: "log_store mongodb requires database.mongodb.uri",
			}
		}
	default:
		return &ValidationError{
			Field:   "distribution.log_store",
			Message: fmt.Sprintf("invalid log store: %s (valid: postgres, mongodb)", cfg.LogStore),
		}
	}

	if cfg.OpenLeadsCacheTTL < 0 {
		return &ValidationError{Field: "distribution.open_leads_cache_ttl", Message: "TTL must be non-negative"}
	}

	if cfg.Batch.DefaultLimit < 1 || cfg.Batch.MaxLimit < cfg.Batch.DefaultLimit {
		return &ValidationError{
			Field:   "distribution.batch",
			Message: "default_limit must be positive and not greater than max_limit",
		}
	}

	return validateRetry("distribution.assignee_retry", cfg.AssigneeRetry)
}

func validateScheduler(cfg SchedulerConfig) error {
	if !cfg.Enabled {
		return nil
	}

	specs := map[string]string{"scheduler.redistribute_cron": cfg.RedistributeCron}
	if cfg.ResetCounters {
		specs["scheduler.reset_hourly_cron"] = cfg.ResetHourlyCron
		specs["scheduler.reset_daily_cron"] = cfg.ResetDailyCron
	}

	for field, spec := range specs {
		if _, err := cron.ParseStandard(spec); err != nil {
			return &ValidationError{Field: field, Message: fmt.Sprintf("invalid cron spec %q: %v", spec, err)}
		}
	}

	return nil
}
