package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/asfadmin/grfn-distribution/cache"
	"github.com/asfadmin/grfn-distribution/config"
	restoredb "github.com/asfadmin/grfn-distribution/db"
	"github.com/asfadmin/grfn-distribution/external"
	"github.com/asfadmin/grfn-distribution/logging"
	"github.com/asfadmin/grfn-distribution/metrics"
	"github.com/asfadmin/grfn-distribution/notifier"
	"github.com/asfadmin/grfn-distribution/restapi"
	"github.com/asfadmin/grfn-distribution/restorer"
	"github.com/asfadmin/grfn-distribution/service"
)

func initFlags() {
	flag.String(config.FlagConfigPath, "", "config file path")
	flag.String(config.FlagConfigType, "", "config type, local or aws")
	flag.String(config.FlagConfigAwsRegion, "", "aws region")
	flag.String(config.FlagConfigAwsSecretKey, "", "aws secret key")
	flag.String(config.FlagConfigDbPass, "", "db password")

	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	pflag.Parse()
	err := viper.BindPFlags(pflag.CommandLine)
	if err != nil {
		panic(err)
	}
}

func printUsage() {
	fmt.Print("usage: ./grfn-distribution --config-type local --config-path configFile\n")
	fmt.Print("usage: ./grfn-distribution --config-type aws --aws-region awsRegion --aws-secret-key awsSecretKey\n")
}

func main() {
	var (
		cfg                        *config.Config
		configType, configFilePath string
	)
	initFlags()
	configType = viper.GetString(config.FlagConfigType)
	if configType == "" {
		configType = os.Getenv(config.EnvVarConfigType)
	}
	if configType != config.AWSConfig && configType != config.LocalConfig {
		printUsage()
		return
	}
	if configType == config.AWSConfig {
		awsSecretKey := viper.GetString(config.FlagConfigAwsSecretKey)
		if awsSecretKey == "" {
			printUsage()
			return
		}
		awsRegion := viper.GetString(config.FlagConfigAwsRegion)
		if awsRegion == "" {
			printUsage()
			return
		}
		configContent, err := config.GetSecret(awsSecretKey, awsRegion)
		if err != nil {
			fmt.Printf("get aws config error, err=%s", err.Error())
			return
		}
		cfg = config.ParseConfigFromJson(configContent)
	} else {
		configFilePath = viper.GetString(config.FlagConfigPath)
		if configFilePath == "" {
			configFilePath = os.Getenv(config.EnvVarConfigFilePath)
			if configFilePath == "" {
				printUsage()
				return
			}
		}
		cfg = config.ParseConfigFromFile(configFilePath)
	}
	if cfg == nil {
		panic("failed to get configuration")
	}
	cfg.Validate()
	logging.InitLogger(&cfg.LogConfig)

	password := viper.GetString(config.FlagConfigDbPass)
	if password == "" {
		password = os.Getenv(config.EnvVarDBUserPass)
	}
	if password != "" {
		cfg.DBConfig.Password = password
	}
	gormDB := config.InitDBWithConfig(&cfg.DBConfig, true)
	dao := restoredb.NewRestoreSvcDB(gormDB)

	storageClient, err := external.NewGlacierClient(cfg.RestoreConfig.AWSRegion, cfg.RestoreConfig.BucketName)
	if err != nil {
		panic(fmt.Sprintf("failed to create storage client, err=%s", err.Error()))
	}
	queueClient, err := external.NewSQSClient(cfg.RestoreConfig.AWSRegion, cfg.NotifierConfig.QueueName, cfg.NotifierConfig.ReceiveWaitTimeInSeconds)
	if err != nil {
		panic(fmt.Sprintf("failed to create queue client, err=%s", err.Error()))
	}
	mailClient, err := external.NewSESClient(cfg.RestoreConfig.AWSRegion, cfg.NotifierConfig.FromEmailAddress)
	if err != nil {
		panic(fmt.Sprintf("failed to create mail client, err=%s", err.Error()))
	}
	cacheService, err := cache.NewLocalCache(cfg.CacheConfig.GetCacheSize())
	if err != nil {
		panic(fmt.Sprintf("failed to create cache, err=%s", err.Error()))
	}

	upkeep := restorer.NewUpkeepScheduler(dao, storageClient, queueClient, &cfg.RestoreConfig)
	go upkeep.StartLoop()

	dispatcher := notifier.NewDispatcher(dao, queueClient, mailClient, notifier.NewTemplateRenderer(), &cfg.NotifierConfig)
	go dispatcher.StartLoop()

	if cfg.MetricsConfig.Enable {
		metricsServer := metrics.NewMetrics(cfg.MetricsConfig.HTTPAddress)
		metricsServer.Start()
	}

	restoreSvc := service.NewRestoreService(dao, storageClient, queueClient, cacheService, cfg)
	restServer := restapi.NewServer(restoreSvc, cfg.ServerConfig.HTTPAddress)
	restServer.Start()

	select {}
}
