package logger

import (
	"fmt"
	"sort"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config 로거 설정
type Config struct {
	// Level 로그 레벨 (debug, info, warn, error, dpanic, panic, fatal). 비어 있으면 info
	Level string
	// Format json 또는 console
	Format string
	// Output stdout, stderr 또는 file
	Output string
	// FilePath Output이 file일 때의 경로. 비어 있으면 stdout
	FilePath string
	// Development 개발 모드: 컬러 레벨, 호출자 정보, DPanic에서 panic
	Development bool
	// Fields 모든 로그에 붙는 고정 필드 (service, environment, version)
	Fields map[string]string
}

// NewZapLogger 설정에 맞는 zap 로거를 생성합니다.
// JSON 키는 ECS 형식(@timestamp, log.level, message)을 따릅니다.
func NewZapLogger(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		parsed, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("잘못된 로그 레벨 %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	sink, _, err := zap.Open(outputPath(cfg))
	if err != nil {
		return nil, fmt.Errorf("로그 출력 열기 실패: %w", err)
	}

	opts := []zap.Option{
		zap.AddStacktrace(zapcore.ErrorLevel),
		zap.ErrorOutput(sink),
	}
	if cfg.Development {
		opts = append(opts, zap.AddCaller(), zap.Development())
	}

	logger := zap.New(zapcore.NewCore(newEncoder(cfg), sink, level), opts...)

	if len(cfg.Fields) > 0 {
		keys := make([]string, 0, len(cfg.Fields))
		for k := range cfg.Fields {
			if cfg.Fields[k] != "" {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		fields := make([]zap.Field, 0, len(keys))
		for _, k := range keys {
			fields = append(fields, zap.String(k, cfg.Fields[k]))
		}
		logger = logger.With(fields...)
	}

	return logger, nil
}

func newEncoder(cfg Config) zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "@timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.LevelKey = "log.level"
	encoderConfig.MessageKey = "message"

	if cfg.Development {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if cfg.Format == "console" {
		return zapcore.NewConsoleEncoder(encoderConfig)
	}
	return zapcore.NewJSONEncoder(encoderConfig)
}

func outputPath(cfg Config) string {
	switch cfg.Output {
	case "stderr":
		return "stderr"
	case "file":
		if cfg.FilePath != "" {
			return cfg.FilePath
		}
	}
	return "stdout"
}
