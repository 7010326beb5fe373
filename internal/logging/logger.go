package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/scrapn/scrapn/internal/config"
)

// InitLogger 根据全局配置初始化 JSON 结构化日志，文件不可用时降级到 stdout。
func InitLogger(cfg config.GlobalConfig) (*logrus.Logger, error) {
	levelName := strings.TrimSpace(cfg.LogLevel)
	if levelName == "" {
		levelName = "info"
	}
	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		return nil, fmt.Errorf("无法解析日志级别: %w", err)
	}

	output, outErr := buildOutput(cfg)
	if outErr != nil {
		fmt.Fprintf(os.Stderr, "logger_fallback: %v\n", outErr)
	}

	logger := logrus.New()
	logger.SetLevel(level)
	logger.SetOutput(output)
	logger.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyMsg: "message",
		},
	})

	logrus.SetFormatter(logger.Formatter)
	logrus.SetOutput(logger.Out)
	logrus.SetLevel(logger.GetLevel())

	if outErr != nil {
		logger.WithFields(logrus.Fields{
			"action": "logger_fallback",
			"path":   cfg.LogFilePath,
		}).Warn(outErr.Error())
	}

	return logger, nil
}

// Component 返回带 component 字段的日志入口，logger 为空时使用全局 logger。
func Component(logger *logrus.Logger, name string) *logrus.Entry {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return logger.WithField("component", name)
}

func buildOutput(cfg config.GlobalConfig) (io.Writer, error) {
	path := strings.TrimSpace(cfg.LogFilePath)
	switch path {
	case "", "-", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return os.Stdout, fmt.Errorf("创建日志目录失败: %w", err)
	}

	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		Compress:   cfg.LogCompress,
		LocalTime:  true,
	}, nil
}
