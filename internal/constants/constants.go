package constants

import "time"

const (
	ServiceName = "distribution-service"
)

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	ShutdownTimeout = 5 * time.Second
	HealthTimeout   = 5 * time.Second
)

const (
	DefaultStoreTimeout     = 5 * time.Second
	DefaultCursorMaxRetries = 3
	DefaultTimezone         = "UTC"
)

const (
	DefaultBatchLimit       = 100
	MaxBatchLimit           = 1000
	DefaultBatchLeadTimeout = 30 * time.Second
)

const (
	DefaultLogLimit = 50
	MaxLogLimit     = 500
)

const (
	CacheKeyPrefixOpenLeads    = "dist:open_leads:"
	CacheKeyPrefixCounterGuard = "dist:counted:"
	DefaultCounterGuardTTL     = 48 * time.Hour
)

const (
	LogStorePostgres = "postgres"
	LogStoreMongoDB  = "mongodb"
)

const (
	DefaultMongoDBName         = "leadflow"
	DistributionLogsCollection = "distribution_logs"
)

const (
	DefaultRedistributeCron = "*/5 * * * *"
	DefaultResetHourlyCron  = "0 * * * *"
	DefaultResetDailyCron   = "0 0 * * *"
)

const (
	DefaultInputTopic  = "lead_events"
	DefaultOutputTopic = "lead_assignments"
)
