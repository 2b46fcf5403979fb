package models

// MConfig Structure
type MConfig struct {
	Name     string `yaml:"name"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	LogLevel string `yaml:"log_level"`

	// Ingestion / persistence
	Collect        bool     `yaml:"collect"`
	Storage        []string `yaml:"storage"` // ordered, first is primary for the API
	BackupInterval int64    `yaml:"backup_interval"` // ms between aligned flushes

	// Broadcast
	Broadcast         bool  `yaml:"broadcast"`
	BroadcastAggr     bool  `yaml:"broadcast_aggr"`
	BroadcastDebounce int64 `yaml:"broadcast_debounce"` // ms, mutually exclusive with aggregation

	// HTTP API
	API                 bool   `yaml:"api"`
	Origin              string `yaml:"origin"` // regex matched against the Origin header
	EnableRateLimit     bool   `yaml:"enable_rate_limit"`
	RateLimitTimeWindow int64  `yaml:"rate_limit_time_window"` // ms
	RateLimitMax        int    `yaml:"rate_limit_max"`
	MaxFetchLength      int64  `yaml:"max_fetch_length"`

	// Feed supervision
	MonitorInterval       int64 `yaml:"monitor_interval"`       // ms
	ReconnectionThreshold int64 `yaml:"reconnection_threshold"` // ms

	Pairs   []string       `yaml:"pairs"` // "EXCHANGE:pair" entries
	DB      MDBConfig      `yaml:"db"`
	Network MNetworkConfig `yaml:"network"`
}

type MDBConfig struct {
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

type MNetworkConfig struct {
	Enabled            bool     `yaml:"enabled"`
	Proxies            []string `yaml:"proxies,omitempty"`
	RequestTimeout     int      `yaml:"timeout"`
	MaxRetries         int      `yaml:"retries"`
	ConcurrentRequests int      `yaml:"concurrent_requests"`
	UserAgent          string   `yaml:"user_agent"`
}
