package logging

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

var logger *logrus.Logger
var agentLogger *logrus.Logger

var agentFieldMap = logrus.FieldMap{
	logrus.FieldKeyTime:  "time",
	logrus.FieldKeyLevel: "level",
	logrus.FieldKeyMsg:   "agent_msg",
}

func init() {
	logger = logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
		DisableColors: false,
	})
	logger.SetLevel(logrus.InfoLevel)

	// The elevator runs in its own console window; its messages carry an
	// "agent_msg" key so they are easy to tell apart in merged logs.
	agentLogger = logrus.New()
	agentLogger.SetOutput(os.Stdout)
	agentLogger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		DisableColors:   false,
		TimestampFormat: "2006-01-02 15:04:05",
		FieldMap:        agentFieldMap,
	})
	agentLogger.SetLevel(logrus.InfoLevel)
}

func GetLogger() *logrus.Logger {
	return logger
}

func GetAgentLogger() *logrus.Logger {
	return agentLogger
}

func SetLogLevel(level string) error {
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	logger.SetLevel(logLevel)
	return nil
}

func SetAgentLogLevel(level string) error {
	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}
	agentLogger.SetLevel(logLevel)
	return nil
}

// SetLogFormat switches both loggers between "text" and "json" output.
func SetLogFormat(format string) error {
	switch format {
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		agentLogger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
			FieldMap:        agentFieldMap,
		})
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{})
		agentLogger.SetFormatter(&logrus.JSONFormatter{FieldMap: agentFieldMap})
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	return nil
}

// SetOutputFile duplicates both loggers into the given file in addition to stdout.
func SetOutputFile(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	logger.AddHook(&fileHook{file: f, formatter: &logrus.TextFormatter{FullTimestamp: true, DisableColors: true}})
	agentLogger.AddHook(&fileHook{file: f, formatter: &logrus.TextFormatter{FullTimestamp: true, DisableColors: true}})
	return f, nil
}

type fileHook struct {
	file      *os.File
	formatter logrus.Formatter
}

func (h *fileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *fileHook) Fire(entry *logrus.Entry) error {
	line, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	_, err = h.file.Write(line)
	return err
}
