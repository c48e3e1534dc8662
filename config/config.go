package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/asfadmin/grfn-distribution/cache"
	"github.com/asfadmin/grfn-distribution/types"
)

type Config struct {
	LogConfig      LogConfig      `json:"log_config"`
	DBConfig       DBConfig       `json:"db_config"`
	RestoreConfig  RestoreConfig  `json:"restore_config"`
	NotifierConfig NotifierConfig `json:"notifier_config"`
	ServerConfig   ServerConfig   `json:"server_config"`
	MetricsConfig  MetricsConfig  `json:"metrics_config"`
	CacheConfig    CacheConfig    `json:"cache_config"`
}

func (c *Config) Validate() {
	c.LogConfig.Validate()
	c.DBConfig.Validate()
	c.RestoreConfig.Validate()
	c.NotifierConfig.Validate()
}

type RestoreConfig struct {
	BucketName                    string `json:"bucket_name"`       // BucketName is the cold storage bucket holding the archived products
	AWSRegion                     string `json:"aws_region"`        // AWSRegion hosts the bucket, the queue and the mail sender
	RetentionDays                 int    `json:"retention_days"`    // RetentionDays is how long a restored copy stays readable
	DefaultTier                   string `json:"default_tier"`      // DefaultTier is the retrieval tier used once the expedited cap is spent
	MaxExpeditedRequestsPerBundle int    `json:"max_expedited_requests_per_bundle"`
	RestoreBatchSize              int    `json:"restore_batch_size"` // objects per restore dispatch batch
	PollBatchSize                 int    `json:"poll_batch_size"`    // objects per poll dispatch batch
	UpkeepIntervalInSeconds       int    `json:"upkeep_interval_in_seconds"`
	TimeBudgetInSeconds           int    `json:"time_budget_in_seconds"` // wall-clock budget of one upkeep pass
}

func (cfg *RestoreConfig) Validate() {
	if cfg.BucketName == "" {
		panic("bucket_name should not be empty")
	}
	if cfg.RetentionDays <= 0 {
		panic("retention_days should be larger than 0")
	}
	if cfg.MaxExpeditedRequestsPerBundle < 0 {
		panic("max_expedited_requests_per_bundle should not be negative")
	}
}

func (cfg *RestoreConfig) GetDefaultTier() string {
	if cfg.DefaultTier != "" {
		return cfg.DefaultTier
	}
	return types.TierStandard
}

func (cfg *RestoreConfig) GetRestoreBatchSize() int {
	if cfg.RestoreBatchSize > 0 {
		return cfg.RestoreBatchSize
	}
	return DefaultRestoreBatchSize
}

func (cfg *RestoreConfig) GetPollBatchSize() int {
	if cfg.PollBatchSize > 0 {
		return cfg.PollBatchSize
	}
	return DefaultPollBatchSize
}

type NotifierConfig struct {
	QueueName                    string `json:"queue_name"`
	FromEmailAddress             string `json:"from_email_address"`
	EmailSubject                 string `json:"email_subject"`
	DownloadPath                 string `json:"download_path"`    // URL template, object key substituted for %s
	UnsubscribeURL               string `json:"unsubscribe_url"`  // rendered into the email footer
	AckCooldownInMinutes         int    `json:"ack_cooldown_in_minutes"`
	ReceiveWaitTimeInSeconds     int    `json:"receive_wait_time_in_seconds"`
	TimeBudgetInSeconds          int    `json:"time_budget_in_seconds"` // budget of one queue drain pass
	DispatchIntervalInSeconds    int    `json:"dispatch_interval_in_seconds"`
	StatusRetentionWindowInDays  int    `json:"status_retention_window_in_days"`
}

func (cfg *NotifierConfig) Validate() {
	if cfg.QueueName == "" {
		panic("queue_name should not be empty")
	}
	if cfg.FromEmailAddress == "" {
		panic("from_email_address should not be empty")
	}
	if cfg.AckCooldownInMinutes < 0 {
		panic("ack_cooldown_in_minutes should not be negative")
	}
}

type ServerConfig struct {
	HTTPAddress string `json:"http_address"`
}

type MetricsConfig struct {
	Enable      bool   `json:"enable"`
	HTTPAddress string `json:"http_address"`
}

type CacheConfig struct {
	CacheSize uint64 `json:"cache_size"`
}

func (c *CacheConfig) GetCacheSize() uint64 {
	if c.CacheSize != 0 {
		return c.CacheSize
	}
	return cache.DefaultCacheSize
}

type DBConfig struct {
	Dialect      string `json:"dialect"`
	Username     string `json:"username"`
	Password     string `json:"password"`
	Url          string `json:"url"`
	MaxIdleConns int    `json:"max_idle_conns"`
	MaxOpenConns int    `json:"max_open_conns"`
}

func (cfg *DBConfig) Validate() {
	if cfg.Dialect != DBDialectMysql && cfg.Dialect != DBDialectSqlite3 {
		panic(fmt.Sprintf("only %s and %s supported", DBDialectMysql, DBDialectSqlite3))
	}
	if cfg.Dialect == DBDialectMysql && (cfg.Username == "" || cfg.Url == "") {
		panic("db config is not correct, missing username and/or url")
	}
	if cfg.MaxIdleConns == 0 || cfg.MaxOpenConns == 0 {
		panic("db connections is not correct")
	}
}

type LogConfig struct {
	Level                        string `json:"level"`
	Filename                     string `json:"filename"`
	MaxFileSizeInMB              int    `json:"max_file_size_in_mb"`
	MaxBackupsOfLogFiles         int    `json:"max_backups_of_log_files"`
	MaxAgeToRetainLogFilesInDays int    `json:"max_age_to_retain_log_files_in_days"`
	UseConsoleLogger             bool   `json:"use_console_logger"`
	UseFileLogger                bool   `json:"use_file_logger"`
	Compress                     bool   `json:"compress"`
}

func (cfg *LogConfig) Validate() {
	if cfg.UseFileLogger {
		if cfg.Filename == "" {
			panic("filename should not be empty if use file logger")
		}
		if cfg.MaxFileSizeInMB <= 0 {
			panic("max_file_size_in_mb should be larger than 0 if use file logger")
		}
		if cfg.MaxBackupsOfLogFiles <= 0 {
			panic("max_backups_of_log_files should be larger than 0 if use file logger")
		}
	}
}

func ParseConfigFromJson(content string) *Config {
	var config Config
	if err := json.Unmarshal([]byte(content), &config); err != nil {
		panic(err)
	}
	return &config
}

func ParseConfigFromFile(filePath string) *Config {
	bz, err := os.ReadFile(filePath)
	if err != nil {
		panic(err)
	}

	var config Config
	if err := json.Unmarshal(bz, &config); err != nil {
		panic(err)
	}
	return &config
}
