package debuglog

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const envDebug = "SECURECRDT_DEBUG"

var (
	global  = newLogger()
	rlMu    sync.Mutex
	rlLast  = make(map[string]time.Time)
	rlSweep = time.Now()
)

func enabled() bool {
	return os.Getenv(envDebug) == "1"
}

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if enabled() {
		l.SetLevel(logrus.DebugLevel)
	}
	return l
}

// Logger returns the process-wide logger.
func Logger() *logrus.Logger {
	return global
}

func SetOutput(w io.Writer) {
	global.SetOutput(w)
}

func SetLevel(level logrus.Level) {
	global.SetLevel(level)
}

// With returns an entry carrying fields, e.g. With(logrus.Fields{"instance": id}).
func With(fields logrus.Fields) *logrus.Entry {
	return global.WithFields(fields)
}

func Logf(format string, args ...any) {
	global.Infof(format, args...)
}

func Warnf(format string, args ...any) {
	global.Warnf(format, args...)
}

func Debugf(format string, args ...any) {
	global.Debugf(format, args...)
}

func RateLimitedf(key string, interval time.Duration, format string, args ...any) {
	if !global.IsLevelEnabled(logrus.DebugLevel) || key == "" {
		return
	}
	now := time.Now()
	rlMu.Lock()
	last := rlLast[key]
	if now.Sub(last) < interval {
		rlMu.Unlock()
		return
	}
	rlLast[key] = now
	if now.Sub(rlSweep) > 2*interval {
		for k, ts := range rlLast {
			if now.Sub(ts) > 4*interval {
				delete(rlLast, k)
			}
		}
		rlSweep = now
	}
	rlMu.Unlock()
	global.Debugf(format, args...)
}
