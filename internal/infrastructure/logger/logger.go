package logger

import (
	"io"
	"log"
	"os"
	"strings"
)

var (
	Info  *log.Logger
	Error *log.Logger
	Debug *log.Logger
	Warn  *log.Logger
)

// Level tags messages passed through the pipeline log callback.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

func ParseLevel(s string) Level {
	switch Level(strings.ToLower(s)) {
	case LevelDebug:
		return LevelDebug
	case LevelWarn, "warning":
		return LevelWarn
	case LevelError:
		return LevelError
	default:
		return LevelInfo
	}
}

const logFlags = log.Ldate | log.Ltime | log.LUTC | log.Lshortfile

func init() {
	SetOutput(os.Stdout)
}

// SetOutput redirects every level to w.
func SetOutput(w io.Writer) {
	Info = log.New(w, "INFO: ", logFlags)
	Error = log.New(w, "ERROR: ", logFlags)
	Warn = log.New(w, "WARN: ", logFlags)
	Debug = log.New(w, "DEBUG: ", logFlags)
	debugOut = w
	SetDebug(debugEnabled)
}

var (
	debugOut     io.Writer = os.Stdout
	debugEnabled bool
)

// SetDebug turns the Debug logger on or off.
func SetDebug(enabled bool) {
	debugEnabled = enabled
	if enabled {
		Debug.SetOutput(debugOut)
		return
	}
	Debug.SetOutput(io.Discard)
}

// Log writes msg at the given level. It matches the pipeline's log callback
// signature and is the default sink for it.
func Log(msg string, level Level) {
	l := Info
	switch level {
	case LevelDebug:
		l = Debug
	case LevelWarn:
		l = Warn
	case LevelError:
		l = Error
	}
	_ = l.Output(2, msg)
}
