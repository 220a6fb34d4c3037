package ddp

import (
	"fmt"

	"github.com/golang/glog"
)

// Logging convention:
// Info:
// essential events for abnormal behavior. Silent on normal operation
// except infrequent init data useful for monitoring. Includes
// reconnects, auth failures, dropped frames.
// Debug:
// frame-level tracing: outbound sends, inbound dispatch, subscription
// lifecycle. Gated by isVerbose/GlobalLogLevel, since these fire on
// every message.

const (
	LogLevelUrgent = 0
	LogLevelInfo = 50
	LogLevelDebug = 100
)

// GlobalLogLevel defaults to Info: essential events (reconnects, auth
// failures, dropped frames) are visible out of the box, while
// frame-level Debug tracing stays off until isVerbose raises it.
var GlobalLogLevel = LogLevelInfo

type LogFunction func(string, ...any)

// LogFn returns a LogFunction gated at level, tagged for the component
// that owns it. A Client's sub-components each get one of these so log
// lines are traceable to (say) "auth" vs "sub" vs "socket".
func LogFn(level int, tag string) LogFunction {
	return func(format string, a ...any) {
		if level <= GlobalLogLevel {
			glog.InfoDepth(1, fmt.Sprintf("%s: %s", tag, fmt.Sprintf(format, a...)))
		}
	}
}

func SubLogFn(level int, log LogFunction, tag string) LogFunction {
	return func(format string, a ...any) {
		if level <= GlobalLogLevel {
			log("%s: %s", tag, fmt.Sprintf(format, a...))
		}
	}
}

// redactFields returns a shallow copy of fields with every value
// replaced by nil, keeping field names intact. Used when isPrivate is
// set to keep verbose logs from leaking document contents.
func redactFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	redacted := make(map[string]any, len(fields))
	for k := range fields {
		redacted[k] = nil
	}
	return redacted
}
