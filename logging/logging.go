package logging

import (
	"io"
	"os"

	"github.com/op/go-logging"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/asfadmin/grfn-distribution/config"
)

// Logger is the shared logger used across the service.
var Logger = logging.MustGetLogger("grfn")

const logFormat = "%{time:2006-01-02 15:04:05.000} %{shortfile} [%{level:.4s}] %{message}"

func InitLogger(cfg *config.LogConfig) {
	writers := make([]io.Writer, 0)
	if cfg.UseConsoleLogger {
		writers = append(writers, os.Stdout)
	}
	if cfg.UseFileLogger {
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    cfg.MaxFileSizeInMB,
			MaxBackups: cfg.MaxBackupsOfLogFiles,
			MaxAge:     cfg.MaxAgeToRetainLogFilesInDays,
			Compress:   cfg.Compress,
		})
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	backend := logging.NewLogBackend(io.MultiWriter(writers...), "", 0)
	formatted := logging.NewBackendFormatter(backend, logging.MustStringFormatter(logFormat))
	leveled := logging.AddModuleLevel(formatted)

	level, err := logging.LogLevel(cfg.Level)
	if err != nil {
		level = logging.INFO
	}
	leveled.SetLevel(level, "")
	Logger.SetBackend(leveled)
}
