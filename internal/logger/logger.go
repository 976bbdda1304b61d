/**
 * @description
 * Process logger for the sync backend.
 * Info and warnings go to stdout, errors to stderr, so platform log collectors
 * only flag real failures. Scoped loggers prefix every line with run context.
 *
 * @dependencies
 * - standard "log"
 * - standard "fmt"
 */

package logger

import (
	"fmt"
	"io"
	"log"
	"os"
)

var (
	// InfoLogger writes to stdout
	InfoLogger *log.Logger
	// ErrorLogger writes to stderr
	ErrorLogger *log.Logger
)

func init() {
	InfoLogger = log.New(os.Stdout, "", 0)
	ErrorLogger = log.New(os.Stderr, "", 0)
}

// Info logs an info message to stdout
func Info(format string, v ...interface{}) {
	InfoLogger.Println(fmt.Sprintf(format, v...))
}

// Warn logs a warning to stdout
func Warn(format string, v ...interface{}) {
	InfoLogger.Println("⚠️ " + fmt.Sprintf(format, v...))
}

// Error logs an error message to stderr
func Error(format string, v ...interface{}) {
	ErrorLogger.Println(fmt.Sprintf(format, v...))
}

// Fatal logs an error and exits
func Fatal(format string, v ...interface{}) {
	ErrorLogger.Fatalln(fmt.Sprintf(format, v...))
}

// New creates a new logger that writes to the specified writer
func New(w io.Writer) *log.Logger {
	return log.New(w, "", 0)
}

// Scoped prefixes every message with a fixed context such as
// "[sync account=... run=...]".
type Scoped struct {
	prefix string
}

// With returns a scoped logger.
func With(format string, v ...interface{}) *Scoped {
	return &Scoped{prefix: "[" + fmt.Sprintf(format, v...) + "] "}
}

func (s *Scoped) Info(format string, v ...interface{}) {
	Info(s.prefix+format, v...)
}

func (s *Scoped) Warn(format string, v ...interface{}) {
	Warn(s.prefix+format, v...)
}

func (s *Scoped) Error(format string, v ...interface{}) {
	Error(s.prefix+format, v...)
}
