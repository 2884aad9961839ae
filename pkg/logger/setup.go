package logger

// SetupLogger initializes the default logger, optionally mirroring entries
// to stream.
func SetupLogger(logLevel string, logJSON, logSource bool, stream *Stream) error {
	level := LogLevel(logLevel)
	switch level {
	case DebugLevel, InfoLevel, WarnLevel, ErrorLevel, DisabledLevel:
	default:
		level = InfoLevel
	}
	return Init(&Config{
		Level:      level,
		JSON:       logJSON,
		AddSource:  logSource,
		TimeFormat: "15:04:05",
		Stream:     stream,
	})
}
