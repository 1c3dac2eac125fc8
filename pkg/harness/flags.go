package harness

import (
	"flag"
	"sync"
)

var registerOnce sync.Once

// registerFlags makes -E and -no-exit known to the test binary's flag set, so that
// "go test ... -args -E" parses.
func registerFlags() {
	registerOnce.Do(func() {
		for _, name := range []string{"no-exit", "E"} {
			if flag.Lookup(name) == nil {
				flag.Bool(name, false, "keep the browser open after a failure and start an interactive prompt")
			}
		}
	})
}

// noExitRequested reports whether args ask to keep the session open.
func noExitRequested(args []string) bool {
	for _, a := range args {
		if a == "--" {
			break
		}
		switch a {
		case "-E", "--E", "-no-exit", "--no-exit", "-E=true", "--no-exit=true", "-no-exit=true":
			return true
		}
	}
	return false
}
