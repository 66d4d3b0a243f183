// Package debug provides gated, component-tagged debug logging, called
// from the vfs package. Output is off by default: Log writes only when
// Enabled reports true (EnableDebug or the FORGECACHE_DEBUG environment
// variable) and a writer has been set with SetOutput.
package debug

import (
	"fmt"
	"io"
	"os"
	"sync"
)

// EnableDebug can be forced on at build time:
//
//	go build -ldflags "-X github.com/standardbeagle/forgecache/internal/debug.EnableDebug=true"
var EnableDebug = "false"

var (
	mu     sync.Mutex
	output io.Writer
)

// SetOutput sets the writer debug lines are sent to. Pass nil to
// disable output entirely.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
}

// Enabled reports whether debug logging is switched on by EnableDebug
// or by FORGECACHE_DEBUG ("1" or "true"). It does not check whether a
// writer has been set.
func Enabled() bool {
	if EnableDebug == "true" {
		return true
	}
	switch os.Getenv("FORGECACHE_DEBUG") {
	case "1", "true":
		return true
	}
	return false
}

func writer() io.Writer {
	mu.Lock()
	defer mu.Unlock()
	return output
}

// Log writes a component-tagged debug line when debugging is enabled
// and a writer is set. The only component that logs in this module is
// "vfs".
func Log(component, format string, args ...interface{}) {
	if !Enabled() {
		return
	}
	w := writer()
	if w == nil {
		return
	}
	fmt.Fprintf(w, "[%s] "+format+"\n", append([]interface{}{component}, args...)...)
}
