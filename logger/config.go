package logger

import (
	"io"
	"os"
)

// Config holds the configuration for the logger
type Config struct {
	Level      LogLevel
	Format     OutputFormat
	Outputs    []io.Writer
	Subsystem  string
	FileConfig *FileConfig

	// EnableCaller includes the caller file:line on every entry.
	EnableCaller bool
}

// FileConfig holds file rotation configuration
type FileConfig struct {
	Filename   string // File path; empty disables file output
	MaxSize    int    // Maximum size in megabytes
	MaxAge     int    // Maximum age in days
	MaxBackups int    // Maximum number of backup files
	Compress   bool
}

// DefaultConfig returns a console logger at info level writing to stdout
func DefaultConfig() *Config {
	return &Config{
		Level:   InfoLevel,
		Format:  DefaultFormat,
		Outputs: []io.Writer{os.Stdout},
	}
}

// NopConfig returns a configuration that discards everything. Used by tests.
func NopConfig() *Config {
	return &Config{
		Level:   ErrorLevel,
		Format:  JSONFormat,
		Outputs: []io.Writer{io.Discard},
	}
}
