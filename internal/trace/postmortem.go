package trace

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/danmuck/apibus/internal/registry"
	"golang.org/x/sys/unix"
)

var postMortemEnabled atomic.Bool

// EnablePostMortem switches the post-mortem dump on or off. It is off
// until explicitly enabled.
func EnablePostMortem(enable bool) {
	postMortemEnabled.Store(enable)
}

// PostMortemEnabled reports whether DumpPostMortem will write anything.
func PostMortemEnabled() bool {
	return postMortemEnabled.Load()
}

// PostMortemPath is where this process dumps its received trace.
func PostMortemPath() string {
	return fmt.Sprintf("/tmp/api_post_mortem.%d", os.Getpid())
}

// DumpPostMortem saves the received trace to PostMortemPath. It is meant
// for fault and teardown paths: every failure goes straight to fd 2 and
// nothing is returned or raised.
func DumpPostMortem(s *Set, reg *registry.Registry) {
	if !postMortemEnabled.Load() {
		return
	}
	path := PostMortemPath()
	defer func() {
		if r := recover(); r != nil {
			stderr("Post-mortem API trace dump panicked for ", path, "\n")
		}
	}()

	fp, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		stderr("Couldn't create ", path, "\n")
		return
	}
	_, err = s.Save(RX, fp, reg)
	cerr := fp.Close()
	if err != nil || cerr != nil {
		stderr("Failed to save post-mortem API trace to ", path, "\n")
	}
}

// stderr writes directly to fd 2, bypassing buffered writers that may
// be in an unknown state during a fault.
func stderr(parts ...string) {
	for _, p := range parts {
		_, _ = unix.Write(2, []byte(p))
	}
}
