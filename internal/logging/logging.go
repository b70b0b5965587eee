package logging

import (
	"log"
	"os"
)

var (
	disabled = false
	logger   = log.New(os.Stdout, "", log.LstdFlags)
)

// Disable turns off all logging
func Disable() {
	disabled = true
}

// Enable turns logging back on
func Enable() {
	disabled = false
}

// Info logs an info message
func Info(v ...any) {
	if !disabled {
		logger.Println(v...)
	}
}

// Infof logs a formatted info message
func Infof(format string, v ...any) {
	if !disabled {
		logger.Printf(format, v...)
	}
}

// Error logs an error message
func Error(v ...any) {
	if !disabled {
		logger.Println(v...)
	}
}

// Errorf logs a formatted error message
func Errorf(format string, v ...any) {
	if !disabled {
		logger.Printf(format, v...)
	}
}

// Warn logs a warning message
func Warn(v ...any) {
	if !disabled {
		logger.Println(v...)
	}
}

// Warnf logs a formatted warning message
func Warnf(format string, v ...any) {
	if !disabled {
		logger.Printf(format, v...)
	}
}

// Debug logs a debug message (same as Info when not disabled)
func Debug(v ...any) {
	if !disabled {
		logger.Println(v...)
	}
}

// Debugf logs a formatted debug message
func Debugf(format string, v ...any) {
	if !disabled {
		logger.Printf(format, v...)
	}
}

// Scoped is a logger that prefixes every line with a subsystem tag,
// e.g. "[hooks]" or "[compactor]". Safe for concurrent use.
type Scoped struct {
	tag string
}

// Scope returns a Scoped logger for the given subsystem name.
func Scope(name string) Scoped {
	return Scoped{tag: "[" + name + "] "}
}

// Infof logs a formatted info message with the scope tag
func (s Scoped) Infof(format string, v ...any) {
	Infof(s.tag+format, v...)
}

// Warnf logs a formatted warning message with the scope tag
func (s Scoped) Warnf(format string, v ...any) {
	Warnf(s.tag+format, v...)
}

// Errorf logs a formatted error message with the scope tag
func (s Scoped) Errorf(format string, v ...any) {
	Errorf(s.tag+format, v...)
}

// Debugf logs a formatted debug message with the scope tag
func (s Scoped) Debugf(format string, v ...any) {
	Debugf(s.tag+format, v...)
}
