package logger_test

import (
	"fmt"

	"github.com/guildkit/guildkit/pkg/observability/logger"
)

func ExampleNewZapLogger() {
	log, err := logger.NewZapLogger(logger.Config{
		Level:  logger.InfoLevel,
		Format: logger.JSONFormat,
	})
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	log.Info("coordination core started")

	log.Info("task enqueued",
		"task_id", "purge-inactive-7",
		"priority", 2,
		"queue_length", 14,
	)
}

func ExampleZapLogger_With() {
	log, _ := logger.NewZapLogger(logger.Config{
		Level:  logger.InfoLevel,
		Format: logger.JSONFormat,
	})
	defer log.Sync()

	schedLogger := log.With(
		"component", "schedule",
		"kind", "vote",
	)

	schedLogger.Info("timer armed", "entity_id", "vote-311", "delay_ms", 45000)
	schedLogger.Warn("resolution retried", "entity_id", "vote-311")
}

func ExampleParseLogLevel() {
	level, err := logger.ParseLogLevel("debug")
	if err != nil {
		fmt.Printf("invalid log level: %v\n", err)
		return
	}

	log, _ := logger.NewZapLogger(logger.Config{
		Level:  level,
		Format: logger.JSONFormat,
	})
	defer log.Sync()

	log.Debug("this debug message will be visible")
}
