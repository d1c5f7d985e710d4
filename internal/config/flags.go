package config

import (
	"flag"
	"os"
	"strings"
)

// listFlag registers a comma-separated list flag writing into dst.
func listFlag(fs *flag.FlagSet, name, usage string, dst *[]string) {
	fs.Func(name, usage, func(v string) error {
		if v == "" {
			*dst = nil
			return nil
		}
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				out = append(out, s)
			}
		}
		*dst = out
		return nil
	})
}

func RegisterDashboardFlags(fs *flag.FlagSet) {
	fs.DurationVar(&DefaultConfig.Dashboard.Window, "dashboard-window", DefaultConfig.Dashboard.Window, "How far back the historical dataset reaches.")
	fs.DurationVar(&DefaultConfig.Dashboard.RetryInterval, "dashboard-retry-interval", DefaultConfig.Dashboard.RetryInterval, "Interval between bootstrap attempts after a failure. Zero waits for an explicit refresh.")
	fs.IntVar(&DefaultConfig.Dashboard.UpdateBuffer, "dashboard-update-buffer", DefaultConfig.Dashboard.UpdateBuffer, "Number of live updates queued ahead of the merge loop.")
	listFlag(fs, "dashboard-selection", "Comma-separated list of metrics selected at startup.", &DefaultConfig.Dashboard.Selection)
}

func RegisterHistoryFlags(fs *flag.FlagSet) {
	fs.StringVar(&DefaultConfig.History.Provider, "history-provider", DefaultConfig.History.Provider, "Source of the historical dataset. Supported values: prometheus, sql.")
	fs.StringVar(&DefaultConfig.History.Prometheus.URL, "prometheus-url", DefaultConfig.History.Prometheus.URL, "The URL of the prometheus API to read history from.")
	fs.StringVar(&DefaultConfig.History.Prometheus.Query, "prometheus-query", DefaultConfig.History.Prometheus.Query, "PromQL template for the history of one metric, {{.Metric}} is replaced with the metric name.")
	fs.DurationVar(&DefaultConfig.History.Prometheus.Step, "prometheus-step", DefaultConfig.History.Prometheus.Step, "Resolution of the history range queries.")
	listFlag(fs, "prometheus-metrics", "Comma-separated list of metrics to display. Empty discovers them from the label values API.", &DefaultConfig.History.Prometheus.Metrics)
	listFlag(fs, "prometheus-matchers", "Comma-separated list of series selectors restricting metric discovery.", &DefaultConfig.History.Prometheus.Matchers)
	fs.UintVar(&DefaultConfig.History.Retry.MaxTries, "history-retry-max-tries", DefaultConfig.History.Retry.MaxTries, "Attempts per history request. 1 disables retries.")
	fs.DurationVar(&DefaultConfig.History.Retry.InitialInterval, "history-retry-initial-interval", DefaultConfig.History.Retry.InitialInterval, "Backoff before the second attempt.")
	fs.DurationVar(&DefaultConfig.History.Retry.MaxInterval, "history-retry-max-interval", DefaultConfig.History.Retry.MaxInterval, "Upper bound of the backoff between attempts.")
	RegisterSQLFlags(fs)
}

func RegisterSQLFlags(fs *flag.FlagSet) {
	fs.StringVar(&DefaultConfig.History.SQL.Provider, "sql-provider", DefaultConfig.History.SQL.Provider, "The SQL database holding measurements. Supported values: postgresql, sqlite.")
	fs.StringVar(&DefaultConfig.History.SQL.SQLite.DatabasePath, "sqlite-database-path", DefaultConfig.History.SQL.SQLite.DatabasePath, "Path to the sqlite database.")
	fs.DurationVar(&DefaultConfig.History.SQL.PostgreSQL.DialTimeout, "postgresql-dial-timeout", DefaultConfig.History.SQL.PostgreSQL.DialTimeout, "Timeout to dial postgresql.")
	fs.StringVar(&DefaultConfig.History.SQL.PostgreSQL.Addr, "postgresql-addr", DefaultConfig.History.SQL.PostgreSQL.Addr, "Address of the postgresql server.")
	fs.IntVar(&DefaultConfig.History.SQL.PostgreSQL.Port, "postgresql-port", DefaultConfig.History.SQL.PostgreSQL.Port, "Port of the postgresql server.")
	fs.StringVar(&DefaultConfig.History.SQL.PostgreSQL.User, "postgresql-user", os.Getenv("POSTGRESQL_USER"), "Username for the postgresql server, can also be set via POSTGRESQL_USER env var.")
	fs.StringVar(&DefaultConfig.History.SQL.PostgreSQL.Password, "postgresql-password", os.Getenv("POSTGRESQL_PASSWORD"), "Password for the postgresql server, can also be set via POSTGRESQL_PASSWORD env var.")
	fs.StringVar(&DefaultConfig.History.SQL.PostgreSQL.Database, "postgresql-database", os.Getenv("POSTGRESQL_DATABASE"), "Database for the postgresql server, can also be set via POSTGRESQL_DATABASE env var.")
	fs.StringVar(&DefaultConfig.History.SQL.PostgreSQL.SSLMode, "postgresql-sslmode", DefaultConfig.History.SQL.PostgreSQL.SSLMode, "SSL mode for the postgresql server.")
}

func RegisterLiveFlags(fs *flag.FlagSet) {
	fs.StringVar(&DefaultConfig.Live.Provider, "live-provider", DefaultConfig.Live.Provider, "Source of live measurements. Supported values: none, otlp, redis, kafka, mqtt.")
	fs.StringVar(&DefaultConfig.Live.OTLP.ListenAddress, "otlp-listen-address", DefaultConfig.Live.OTLP.ListenAddress, "The gRPC address the OTLP metrics receiver listens on.")
	fs.DurationVar(&DefaultConfig.Live.OTLP.GracefulShutdownTimeout, "otlp-graceful-timeout", DefaultConfig.Live.OTLP.GracefulShutdownTimeout, "Max time to wait for in-flight exports on shutdown.")
	listFlag(fs, "redis-addresses", "Comma-separated list of redis addresses.", &DefaultConfig.Live.Redis.Addresses)
	fs.StringVar(&DefaultConfig.Live.Redis.Channel, "redis-channel", DefaultConfig.Live.Redis.Channel, "Redis pub/sub channel carrying measurements.")
	fs.StringVar(&DefaultConfig.Live.Redis.Password, "redis-password", os.Getenv("REDIS_PASSWORD"), "Password for redis, can also be set via REDIS_PASSWORD env var.")
	listFlag(fs, "kafka-brokers", "Comma-separated list of kafka brokers.", &DefaultConfig.Live.Kafka.Brokers)
	fs.StringVar(&DefaultConfig.Live.Kafka.Topic, "kafka-topic", DefaultConfig.Live.Kafka.Topic, "Kafka topic carrying measurements.")
	fs.StringVar(&DefaultConfig.Live.Kafka.GroupID, "kafka-group-id", DefaultConfig.Live.Kafka.GroupID, "Kafka consumer group. Empty reads from the end of every partition without committing.")
	fs.StringVar(&DefaultConfig.Live.MQTT.Broker, "mqtt-broker", DefaultConfig.Live.MQTT.Broker, "MQTT broker URL.")
	fs.StringVar(&DefaultConfig.Live.MQTT.Topic, "mqtt-topic", DefaultConfig.Live.MQTT.Topic, "MQTT topic carrying measurements.")
	fs.IntVar(&DefaultConfig.Live.MQTT.QoS, "mqtt-qos", DefaultConfig.Live.MQTT.QoS, "MQTT subscription QoS (0, 1 or 2).")
}

func RegisterMemoryLimitFlags(fs *flag.FlagSet) {
	fs.BoolVar(&DefaultConfig.MemoryLimit.Enabled, "memory-limit-enabled", DefaultConfig.MemoryLimit.Enabled, "Set GOMEMLIMIT from the cgroup or system memory limit.")
	fs.Float64Var(&DefaultConfig.MemoryLimit.Ratio, "memory-limit-ratio", DefaultConfig.MemoryLimit.Ratio, "Ratio of the memory limit to use as GOMEMLIMIT.")
}

func RegisterRetentionFlags(fs *flag.FlagSet) {
	fs.BoolVar(&DefaultConfig.Retention.Enabled, "retention-enabled", DefaultConfig.Retention.Enabled, "Periodically delete measurements older than the retention max age from the SQL store.")
	fs.DurationVar(&DefaultConfig.Retention.Interval, "retention-interval", DefaultConfig.Retention.Interval, "Interval between retention runs.")
	fs.DurationVar(&DefaultConfig.Retention.RunTimeout, "retention-run-timeout", DefaultConfig.Retention.RunTimeout, "Timeout of a single retention run.")
	fs.DurationVar(&DefaultConfig.Retention.MaxAge, "retention-max-age", DefaultConfig.Retention.MaxAge, "Measurements older than this are deleted.")
}
