package logger

import (
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

// framesToSkip are function-name fragments that never count as a call site.
var framesToSkip = []string{"sirupsen/logrus", "quoteflow/logger."}

// callerHook rewrites entry.Caller to the first frame outside logrus and
// the wrappers in this package.
type callerHook struct{}

func (h *callerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *callerHook) Fire(entry *logrus.Entry) error {
	pcs := make([]uintptr, 20)
	n := runtime.Callers(6, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !skipFrame(frame.Function) {
			entry.Caller = &frame
			return nil
		}
		if !more {
			return nil
		}
	}
}

func skipFrame(fn string) bool {
	for _, s := range framesToSkip {
		if strings.Contains(fn, s) {
			return true
		}
	}
	return false
}
