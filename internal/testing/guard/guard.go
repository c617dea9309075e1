// Package guard switches binaries into test mode when imported for side effects
// from a test, so main() returns before dialing Postgres or Redis.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("INKBOARD_TEST_MODE") == "" {
			_ = os.Setenv("INKBOARD_TEST_MODE", "1")
		}
	})
}
