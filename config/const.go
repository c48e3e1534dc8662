package config

const (
	FlagConfigPath         = "config-path"
	FlagConfigType         = "config-type"
	FlagConfigAwsRegion    = "aws-region"
	FlagConfigAwsSecretKey = "aws-secret-key"
	FlagConfigDbPass       = "db-pass"

	AWSConfig   = "aws"
	LocalConfig = "local"

	DBDialectMysql   = "mysql"
	DBDialectSqlite3 = "sqlite3"

	EnvVarConfigType     = "CONFIG_TYPE"
	EnvVarConfigFilePath = "CONFIG_FILE_PATH"
	EnvVarDBUserPass     = "DB_PASSWORD"

	DefaultRestoreBatchSize = 10
	DefaultPollBatchSize    = 100

	DefaultUpkeepIntervalInSeconds = 60
	DefaultAckCooldownInMinutes    = 60
	DefaultRetentionWindowInDays   = 14
)
