// Package util provides shared logging and traffic statistics.
package util

import (
	"fmt"
	"io"

	"github.com/pterm/pterm"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Logger is a leveled logger bound to one component. Every line carries the
// component name as a structured argument.
type Logger struct {
	component string
}

// NewLogger returns a Logger for the named component (e.g. "peer", "chat").
func NewLogger(component string) Logger {
	return Logger{component: component}
}

func (l Logger) args() []pterm.LoggerArgument {
	if l.component == "" {
		return nil
	}
	return pterm.DefaultLogger.Args("component", l.component)
}

func (l Logger) Debug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...), l.args())
}

func (l Logger) Info(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...), l.args())
}

func (l Logger) Warn(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...), l.args())
}

func (l Logger) Error(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...), l.args())
}

// Package-level shorthands for code that has no component of its own.

func LogDebug(format string, args ...interface{})   { Logger{}.Debug(format, args...) }
func LogInfo(format string, args ...interface{})    { Logger{}.Info(format, args...) }
func LogWarning(format string, args ...interface{}) { Logger{}.Warn(format, args...) }
func LogError(format string, args ...interface{})   { Logger{}.Error(format, args...) }

// LogSuccess prints a highlighted confirmation line.
func LogSuccess(format string, args ...interface{}) {
	pterm.Success.WithWriter(pterm.DefaultLogger.Writer).Println(fmt.Sprintf(format, args...))
}

// EnableDebug configures the logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// SetOutput redirects log output, mainly so tests can silence it.
func SetOutput(w io.Writer) {
	pterm.DefaultLogger.Writer = w
}
