// Package runlog is the process logger for roadscan.
// Messages go to a console stream and optionally to a per-run log file, or to GCP logging.
package runlog

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"cloud.google.com/go/logging"
	"github.com/cyclopcam/logs"
)

type Level int

const (
	LevelDebug    Level = iota // information that only a programmer will understand
	LevelInfo                  // information that a non-programmer might be interested in
	LevelWarn                  // speeds up tracking down issues, once you know about them
	LevelError                 // should not have happened
	LevelCritical              // wake somebody up
)

// FileTimeLayout names the per-run log file inside the log directory
const FileTimeLayout = "2006-01-02_15-04-05"

// Logger implements logs.Log
type Logger struct {
	Output   io.Writer // May be nil
	File     *os.File  // May be nil
	MinLevel Level
	GCP      *logging.Logger
	Client   *logging.Client

	lock sync.Mutex
	now  func() time.Time
}

var _ logs.Log = (*Logger)(nil)

type Options struct {
	// Console output. In 'run' mode this is stderr, because stdout carries the summary document.
	Console io.Writer

	// If not empty, a file named <timestamp>.txt is created inside this directory
	Dir string

	MinLevel Level
}

// NewLog creates a logger. If GCP_PROJECT_ID and GCP_LOGNAME are set, we log to GCP instead of the console.
func NewLog(opt Options) (*Logger, error) {
	l := &Logger{
		Output:   opt.Console,
		MinLevel: opt.MinLevel,
		now:      time.Now,
	}
	gcpProjectID := os.Getenv("GCP_PROJECT_ID")
	gcpLogname := os.Getenv("GCP_LOGNAME")
	if gcpProjectID != "" && gcpLogname != "" {
		client, err := logging.NewClient(context.Background(), gcpProjectID)
		if err != nil {
			return nil, fmt.Errorf("Failed to create GCP logging client: %v", err)
		}
		l.Client = client
		l.GCP = client.Logger(gcpLogname)
		l.Output = nil
	}
	if opt.Dir != "" {
		if err := os.MkdirAll(opt.Dir, 0755); err != nil {
			l.Close()
			return nil, err
		}
		name := filepath.Join(opt.Dir, l.now().Format(FileTimeLayout)+".txt")
		f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			l.Close()
			return nil, err
		}
		l.File = f
	}
	return l, nil
}

// NewWriterLog is a logger that writes only to w
func NewWriterLog(w io.Writer) *Logger {
	return &Logger{
		Output: w,
		now:    time.Now,
	}
}

func levelToGCP(level Level) logging.Severity {
	switch level {
	case LevelDebug:
		return logging.Debug
	case LevelInfo:
		return logging.Info
	case LevelWarn:
		return logging.Warning
	case LevelError:
		return logging.Error
	case LevelCritical:
		return logging.Critical
	}
	panic("Unknown log level")
}

func (lv Level) String() string {
	switch lv {
	case LevelDebug:
		return "Debug"
	case LevelInfo:
		return "Info"
	case LevelWarn:
		return "Warning"
	case LevelError:
		return "Error"
	case LevelCritical:
		return "Critical"
	}
	panic("Unknown log level")
}

// FileName returns the name of the per-run log file, or an empty string
func (l *Logger) FileName() string {
	if l.File == nil {
		return ""
	}
	return l.File.Name()
}

func (l *Logger) write(level Level, format string, a ...interface{}) {
	if level < l.MinLevel {
		return
	}
	msg := fmt.Sprintf(format, a...)
	if l.GCP != nil {
		l.GCP.Log(logging.Entry{
			Severity: levelToGCP(level),
			Payload:  msg,
		})
	}
	if l.Output == nil && l.File == nil {
		return
	}
	line := fmt.Sprintf("%.3f %v %v\n", float64(l.now().UnixNano())/1e9, level, msg)
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.Output != nil {
		io.WriteString(l.Output, line)
	}
	if l.File != nil {
		l.File.WriteString(line)
	}
}

func (l *Logger) Close() {
	if l.GCP != nil {
		l.GCP.Flush()
		l.Client.Close()
		l.GCP = nil
	}
	l.lock.Lock()
	defer l.lock.Unlock()
	if l.File != nil {
		l.File.Close()
		l.File = nil
	}
}

func (l *Logger) Debugf(format string, a ...interface{}) {
	l.write(LevelDebug, format, a...)
}

func (l *Logger) Infof(format string, a ...interface{}) {
	l.write(LevelInfo, format, a...)
}

func (l *Logger) Warnf(format string, a ...interface{}) {
	l.write(LevelWarn, format, a...)
}

func (l *Logger) Errorf(format string, a ...interface{}) {
	l.write(LevelError, format, a...)
}

func (l *Logger) Criticalf(format string, a ...interface{}) {
	l.write(LevelCritical, format, a...)
}
