// Copyright 2015-2023 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package ntlog

import (
	golog "log"
	"io"
	"sync"

	"github.com/fatih/color"
)

var (
	loggers = make(map[string]*sink)
	mu      sync.RWMutex
)

type sink struct {
	*golog.Logger
	level Level
	color bool
}

// AddLogger registers a named output sink that will receive every message
// logged at level or higher. Calling AddLogger again with the same name
// replaces the existing sink.
func AddLogger(name string, w io.Writer, level Level, useColor bool) {
	mu.Lock()
	defer mu.Unlock()

	loggers[name] = &sink{
		Logger: golog.New(w, "", golog.LstdFlags),
		level:  level,
		color:  useColor,
	}
}

// DelLogger removes a previously registered sink.
func DelLogger(name string) {
	mu.Lock()
	defer mu.Unlock()
	delete(loggers, name)
}

// WillLog reports whether any registered sink would emit a message at level.
func WillLog(level Level) bool {
	mu.RLock()
	defer mu.RUnlock()

	for _, s := range loggers {
		if s.level <= level {
			return true
		}
	}
	return false
}

func prefix(level Level, useColor bool) string {
	var (
		tag string
		c   *color.Color
	)

	switch level {
	case DEBUG:
		tag, c = "DEBUG ", color.New(color.FgBlue)
	case INFO:
		tag, c = "INFO ", color.New(color.FgGreen)
	case WARN:
		tag, c = "WARN ", color.New(color.FgYellow)
	case ERROR:
		tag, c = "ERROR ", color.New(color.FgRed)
	default:
		tag, c = "FATAL ", color.New(color.FgRed, color.Bold)
	}

	if !useColor {
		return tag
	}
	return c.Sprint(tag)
}

func logf(level Level, format string, args ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()

	for _, s := range loggers {
		if s.level <= level {
			s.Printf(prefix(level, s.color)+format, args...)
		}
	}
}

func Debug(format string, args ...interface{}) { logf(DEBUG, format, args...) }
func Info(format string, args ...interface{})  { logf(INFO, format, args...) }
func Warn(format string, args ...interface{})  { logf(WARN, format, args...) }
func Error(format string, args ...interface{}) { logf(ERROR, format, args...) }
func Fatal(format string, args ...interface{}) { logf(FATAL, format, args...) }
