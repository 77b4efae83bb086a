package log

const (
	DefaultPattern = "%time [%level] %caller: %msg %field%n"
	DefaultTime    = "2006-01-02 15:04:05.000"
)

// LoggerConfig is the log section of the configuration file.
type LoggerConfig struct {
	Level   string          `mapstructure:"level"`
	Pattern string          `mapstructure:"pattern"`
	Time    string          `mapstructure:"time"`
	Caller  bool            `mapstructure:"caller"`
	Console bool            `mapstructure:"console"`
	File    FileAppenderOpt `mapstructure:"file"`
}
