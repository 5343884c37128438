package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"exchange-sim/monitor/logschema"
)

// Logger 封装 zap，订单、成交、回放事件按 logschema 校验字段后输出
type Logger struct {
	*zap.Logger
	config Config
	files  *fileSet
}

// Config 日志配置
type Config struct {
	Level      string   `yaml:"level" env:"LEVEL"`             // debug, info, warn, error
	Outputs    []string `yaml:"outputs" env:"OUTPUTS"`         // stdout, file
	OutputFile string   `yaml:"output_file" env:"OUTPUT_FILE"` // 日志文件路径
	ErrorFile  string   `yaml:"error_file" env:"ERROR_FILE"`   // 错误日志单独文件
	Format     string   `yaml:"format" env:"FORMAT"`           // json 或 console
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Level:   "info",
		Outputs: []string{"stdout"},
		Format:  "json",
	}
}

// New 按配置组装 zap core：stdout、日志文件，以及只收 error 级别的错误文件
func New(cfg Config) (*Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", cfg.Level, err)
	}
	encCfg := encoderConfig(cfg.Format)
	files := &fileSet{}

	var cores []zapcore.Core
	if slices.Contains(cfg.Outputs, "stdout") {
		enc := zapcore.NewJSONEncoder(encCfg)
		if cfg.Format == "console" {
			enc = zapcore.NewConsoleEncoder(encCfg)
		}
		cores = append(cores, zapcore.NewCore(enc, zapcore.Lock(os.Stdout), level))
	}
	// 文件一律 JSON，供 posttrade 解析
	if slices.Contains(cfg.Outputs, "file") && cfg.OutputFile != "" {
		w, err := files.open(cfg.OutputFile)
		if err != nil {
			files.close()
			return nil, fmt.Errorf("open log file failed: %w", err)
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileEncoderConfig()), w, level))
	}
	if cfg.ErrorFile != "" {
		w, err := files.open(cfg.ErrorFile)
		if err != nil {
			files.close()
			return nil, fmt.Errorf("open error log file failed: %w", err)
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileEncoderConfig()), w, zapcore.ErrorLevel))
	}
	if len(cores) == 0 {
		return nil, fmt.Errorf("no log outputs configured: %v", cfg.Outputs)
	}

	zl := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return &Logger{Logger: zl, config: cfg, files: files}, nil
}

func encoderConfig(format string) zapcore.EncoderConfig {
	if format == "console" {
		c := zap.NewDevelopmentEncoderConfig()
		c.EncodeTime = zapcore.ISO8601TimeEncoder
		c.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return c
	}
	return fileEncoderConfig()
}

func fileEncoderConfig() zapcore.EncoderConfig {
	c := zap.NewProductionEncoderConfig()
	c.TimeKey = "time"
	c.EncodeTime = zapcore.ISO8601TimeEncoder
	return c
}

// fileSet 记录打开的日志文件，Named/WithFields 派生的 Logger 共享同一份
type fileSet struct {
	mu     sync.Mutex
	files  []*os.File
	closed bool
}

func (s *fileSet) open(path string) (zapcore.WriteSyncer, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.files = append(s.files, f)
	s.mu.Unlock()
	return zapcore.Lock(f), nil
}

func (s *fileSet) close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	for _, f := range s.files {
		errs = append(errs, f.Close())
	}
	return errors.Join(errs...)
}

// Nop 返回丢弃所有输出的Logger，用于测试和未配置日志的组件
func Nop() *Logger {
	return &Logger{
		Logger: zap.NewNop(),
		config: DefaultConfig(),
	}
}

// Named 返回带组件名的子logger
func (l *Logger) Named(name string) *Logger {
	return &Logger{
		Logger: l.Logger.Named(name),
		config: l.config,
		files:  l.files,
	}
}

// WithFields 添加字段返回新的logger
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	zapFields := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zapFields = append(zapFields, zap.Any(k, v))
	}
	return &Logger{
		Logger: l.Logger.With(zapFields...),
		config: l.config,
		files:  l.files,
	}
}

// LogOrder 记录订单相关事件
func (l *Logger) LogOrder(event string, orderID string, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["order_id"] = orderID
	l.logEvent("order_event", event, fields)
}

// LogTrade 记录成交相关事件
func (l *Logger) LogTrade(event string, fields map[string]interface{}) {
	l.logEvent("trade_event", event, fields)
}

// LogError 记录错误并附带上下文
func (l *Logger) LogError(err error, context map[string]interface{}) {
	if context == nil {
		context = make(map[string]interface{})
	}
	context["error"] = err.Error()
	context["ts"] = time.Now().UTC().Format(time.RFC3339Nano)

	zapFields := make([]zap.Field, 0, len(context))
	for k, v := range context {
		zapFields = append(zapFields, zap.Any(k, v))
	}
	l.Error("error_event", zapFields...)
}

// LogReplay 记录回放相关事件
func (l *Logger) LogReplay(event string, fields map[string]interface{}) {
	l.logEvent("replay_event", event, fields)
}

// logEvent 按 logschema 校验字段，缺失的 key 记在 schema_error 里，日志照常输出
func (l *Logger) logEvent(msg, event string, fields map[string]interface{}) {
	if fields == nil {
		fields = make(map[string]interface{})
	}
	if err := logschema.Validate(event, fields); err != nil {
		fields["schema_error"] = err.Error()
	}
	fields["event"] = event
	fields["ts"] = time.Now().UTC().Format(time.RFC3339Nano)

	zapFields := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		zapFields = append(zapFields, zap.Any(k, v))
	}
	l.Info(msg, zapFields...)
}

// Close 刷新缓冲并关闭日志文件。stdout 的 Sync 错误忽略。
func (l *Logger) Close() error {
	_ = l.Sync()
	return l.files.close()
}
