package log

import "gopkg.in/natefinch/lumberjack.v2"

// FileAppenderOpt configures the rotating file appender. An empty Path
// disables it.
type FileAppenderOpt struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

func (m *MultiWriter) AddFileAppender(options FileAppenderOpt) *MultiWriter {
	writer := &lumberjack.Logger{
		Filename:   options.Path,
		MaxSize:    options.MaxSizeMB,  // megabytes
		MaxBackups: options.MaxBackups, // number of backups
		MaxAge:     options.MaxAgeDays, // days
		Compress:   options.Compress,
	}
	m.writers = append(m.writers, writer)
	return m
}
