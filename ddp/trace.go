package ddp

import (
	"fmt"
	"runtime/debug"

	"github.com/golang/glog"
)

// HandleError runs do and recovers any panic it raises, logging it
// instead of letting it escape. Every application-supplied callback
// (onReady, onError, method result callback, computation function, ...)
// is invoked through this so a bug in user code can never abort protocol
// processing. handlers, if given, receive the recovered value converted
// to an error.
func HandleError(do func(), handlers ...func(error)) {
	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("%v", r)
			}
			glog.Warningf("recovered panic in callback: %s\n%s", err, debug.Stack())
			for _, handler := range handlers {
				handler(err)
			}
		}
	}()
	do()
}
