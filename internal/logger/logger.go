// internal/logger/logger.go
// Structured logging for the relay built on zerolog, with optional rotation through lumberjack.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig holds configuration for the logger
type LogConfig struct {
	Level      string `json:"level" env:"LOG_LEVEL"` // debug, info, warn, error, fatal
	LogToFile  bool   `json:"log_to_file" env:"LOG_TO_FILE"`
	LogToJSON  bool   `json:"log_to_json" env:"LOG_TO_JSON"`
	FilePath   string `json:"file_path" env:"LOG_FILE_PATH"`
	MaxSize    int    `json:"max_size"`    // megabytes
	MaxBackups int    `json:"max_backups"` // number of backups
	MaxAge     int    `json:"max_age"`     // days
	Compress   bool   `json:"compress"`    // compress old log files
}

func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		LogToFile:  false,
		LogToJSON:  true,
		FilePath:   "relay.log",
		MaxSize:    10,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	}
}

var levelColors = map[string]string{
	"DEBUG": "36",
	"INFO":  "32",
	"WARN":  "33",
	"ERROR": "31",
	"FATAL": "35",
}

func colorize(code, s string) string {
	return "\033[" + code + "m" + s + "\033[0m"
}

func consoleWriter(out io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "15:04:05",
		PartsOrder: []string{
			zerolog.TimestampFieldName,
			zerolog.LevelFieldName,
			"component",
			zerolog.MessageFieldName,
		},
		FieldsExclude: []string{"component"},
		FormatLevel: func(i interface{}) string {
			level := strings.ToUpper(fmt.Sprintf("%s", i))
			code, ok := levelColors[level]
			if !ok {
				code = "37"
			}
			return colorize(code, "[ "+fmt.Sprintf("%-5s", level)+" ]")
		},
		FormatTimestamp:     func(i interface{}) string { return colorize("90", fmt.Sprintf("%s", i)) },
		FormatMessage:       func(i interface{}) string { return colorize("1", fmt.Sprintf("%s", i)) },
		FormatFieldName:     func(i interface{}) string { return colorize("34", fmt.Sprintf("%s", i)) + ": " },
		FormatFieldValue:    func(i interface{}) string { return colorize("37", fmt.Sprintf("%s", i)) },
		FormatErrFieldName:  func(i interface{}) string { return colorize("31", fmt.Sprintf("%s", i)) + ": " },
		FormatErrFieldValue: func(i interface{}) string { return colorize("31", fmt.Sprintf("%s", i)) },
	}
}

// InitLogger configures the global zerolog logger. Every Logger created
// afterwards with NewLogger inherits its writers and level.
func InitLogger(config LogConfig) {
	zerolog.TimeFieldFormat = time.RFC3339
	level, err := zerolog.ParseLevel(config.Level)
	if err != nil || config.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var writers []io.Writer
	if config.LogToJSON {
		writers = append(writers, os.Stdout)
	} else {
		writers = append(writers, consoleWriter(os.Stdout))
	}
	if config.LogToFile && config.FilePath != "" {
		writers = append(writers, &lumberjack.Logger{
			Filename:   config.FilePath,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		})
	}

	var output io.Writer = writers[0]
	if len(writers) > 1 {
		output = zerolog.MultiLevelWriter(writers...)
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// Logger is a component-scoped wrapper around zerolog.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger returns a logger tagged with the given component name.
func NewLogger(component string) *Logger {
	return &Logger{
		logger: log.With().Str("component", component).Logger(),
	}
}

// New builds a logger writing JSON to w. Tests use it to capture output.
func New(w io.Writer, component string) *Logger {
	return &Logger{
		logger: zerolog.New(w).With().Timestamp().Str("component", component).Logger(),
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

func (l *Logger) WithField(key string, value interface{}) *Logger {
	return &Logger{
		logger: l.logger.With().Interface(key, value).Logger(),
	}
}

func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	ctx := l.logger.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{
		logger: ctx.Logger(),
	}
}

func (l *Logger) Debug(msg string)                       { l.logger.Debug().Msg(msg) }
func (l *Logger) Debugf(format string, v ...interface{}) { l.logger.Debug().Msgf(format, v...) }
func (l *Logger) Info(msg string)                        { l.logger.Info().Msg(msg) }
func (l *Logger) Infof(format string, v ...interface{})  { l.logger.Info().Msgf(format, v...) }
func (l *Logger) Warn(msg string)                        { l.logger.Warn().Msg(msg) }
func (l *Logger) Warnf(format string, v ...interface{})  { l.logger.Warn().Msgf(format, v...) }
func (l *Logger) Error(msg string)                       { l.logger.Error().Msg(msg) }
func (l *Logger) Errorf(format string, v ...interface{}) { l.logger.Error().Msgf(format, v...) }
func (l *Logger) Fatal(msg string)                       { l.logger.Fatal().Msg(msg) }
func (l *Logger) Fatalf(format string, v ...interface{}) { l.logger.Fatal().Msgf(format, v...) }

// LogEvent logs a relay event with the user it concerns.
func (l *Logger) LogEvent(level string, event string, userID string, detail string) {
	evt := l.logger.With().Str("event", event)
	if userID != "" {
		evt = evt.Str("user_id", userID)
	}
	if detail != "" {
		evt = evt.Str("detail", detail)
	}
	logger := evt.Logger()

	var message string
	switch event {
	case "user_online":
		message = "user online"
	case "user_offline":
		message = "user offline"
	case "message_relayed":
		message = "message relayed"
	case "recipient_offline":
		message = "recipient offline, message dropped"
	case "read_error":
		logger.Error().Msg("read error")
		return
	default:
		message = strings.ReplaceAll(event, "_", " ")
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	logger.WithLevel(lvl).Msg(message)
}
