package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"leadflow/internal/constants"
)

func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()

	v.SetConfigType("yaml")
	v.SetConfigFile(configFile)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	bindEnvVariables(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(v, &cfg)

	if err := ValidateStatic(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout_seconds", "10s")
	v.SetDefault("server.write_timeout_seconds", "10s")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("database.postgres.sslmode", "disable")
	v.SetDefault("database.mongodb.database", constants.DefaultMongoDBName)

	v.SetDefault("broker.kafka.input_topic", constants.DefaultInputTopic)
	v.SetDefault("broker.kafka.output_topic", constants.DefaultOutputTopic)
	v.SetDefault("broker.kafka.retry.max_attempts", 3)
	v.SetDefault("broker.kafka.retry.initial_interval", "1s")
	v.SetDefault("broker.kafka.retry.max_interval", "30s")
	v.SetDefault("broker.kafka.retry.multiplier", 2.0)

	v.SetDefault("distribution.store_timeout", constants.DefaultStoreTimeout)
	v.SetDefault("distribution.cursor_max_retries", constants.DefaultCursorMaxRetries)
	v.SetDefault("distribution.default_timezone", constants.DefaultTimezone)
	v.SetDefault("distribution.terminal_statuses", []string{"won", "lost"})
	v.SetDefault("distribution.counter_guard_ttl", constants.DefaultCounterGuardTTL)
	v.SetDefault("distribution.log_store", constants.LogStorePostgres)
	v.SetDefault("distribution.rule_cache.ttl", "30s")
	v.SetDefault("distribution.batch.default_limit", constants.DefaultBatchLimit)
	v.SetDefault("distribution.batch.max_limit", constants.MaxBatchLimit)
	v.SetDefault("distribution.batch.lead_timeout", constants.DefaultBatchLeadTimeout)
	v.SetDefault("distribution.assignee_retry.max_attempts", 3)
	v.SetDefault("distribution.assignee_retry.initial_interval", "100ms")
	v.SetDefault("distribution.assignee_retry.max_interval", "2s")
	v.SetDefault("distribution.assignee_retry.multiplier", 2.0)

	v.SetDefault("scheduler.redistribute_cron", constants.DefaultRedistributeCron)
	v.SetDefault("scheduler.reset_hourly_cron", constants.DefaultResetHourlyCron)
	v.SetDefault("scheduler.reset_daily_cron", constants.DefaultResetDailyCron)

	v.SetDefault("rate_limit.rps", 10.0)
	v.SetDefault("rate_limit.burst", 20)
	v.SetDefault("rate_limit.cleanup_interval", 300)
	v.SetDefault("rate_limit.max_age", 600)
}

func bindEnvVariables(v *viper.Viper) {
	_ = v.BindEnv("broker.kafka.group_id", "BROKER_KAFKA_GROUP_ID")
	_ = v.BindEnv("broker.kafka.input_topic", "BROKER_KAFKA_INPUT_TOPIC")
	_ = v.BindEnv("broker.kafka.output_topic", "BROKER_KAFKA_OUTPUT_TOPIC")
	_ = v.BindEnv("broker.kafka.config_update_topic", "BROKER_KAFKA_CONFIG_UPDATE_TOPIC")
	_ = v.BindEnv("broker.kafka.dlq_topic", "BROKER_KAFKA_DLQ_TOPIC")

	_ = v.BindEnv("database.postgres.host", "DATABASE_POSTGRES_HOST")
	_ = v.BindEnv("database.postgres.port", "DATABASE_POSTGRES_PORT")
	_ = v.BindEnv("database.postgres.user", "DATABASE_POSTGRES_USER")
	_ = v.BindEnv("database.postgres.password", "DATABASE_POSTGRES_PASSWORD")
	_ = v.BindEnv("database.postgres.dbname", "DATABASE_POSTGRES_DBNAME")
	_ = v.BindEnv("database.postgres.sslmode", "DATABASE_POSTGRES_SSLMODE")

	_ = v.BindEnv("database.redis.host", "DATABASE_REDIS_HOST")
	_ = v.BindEnv("database.redis.port", "DATABASE_REDIS_PORT")
	_ = v.BindEnv("database.redis.password", "DATABASE_REDIS_PASSWORD")
	_ = v.BindEnv("database.redis.db", "DATABASE_REDIS_DB")

	_ = v.BindEnv("database.mongodb.uri", "DATABASE_MONGODB_URI")
	_ = v.BindEnv("database.mongodb.database", "DATABASE_MONGODB_DATABASE")

	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("logging.level", "LOGGING_LEVEL")
	_ = v.BindEnv("logging.format", "LOGGING_FORMAT")

	_ = v.BindEnv("tracing.enabled", "TRACING_ENABLED")
	_ = v.BindEnv("tracing.service_name", "TRACING_SERVICE_NAME")
	_ = v.BindEnv("tracing.otlp.insecure", "TRACING_OTLP_INSECURE")
}

// applyEnvOverrides handles values viper cannot map from a single env string.
func applyEnvOverrides(v *viper.Viper, cfg *Config) {
	if brokersEnv := v.GetString("BROKER_KAFKA_BROKERS"); brokersEnv != "" {
		cfg.Broker.Kafka.Brokers = splitList(brokersEnv)
	}

	if workspacesEnv := v.GetString("SCHEDULER_WORKSPACES"); workspacesEnv != "" {
		cfg.Scheduler.Workspaces = splitList(workspacesEnv)
	}

	if otlpEndpoint := v.GetString("TRACING_OTLP_ENDPOINT"); otlpEndpoint != "" {
		cfg.Tracing.OTLP.Endpoint = otlpEndpoint
	}
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
