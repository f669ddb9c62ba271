// Package guard switches binaries into test mode when imported by tests so
// that main packages skip connecting to Postgres and Redis.
package guard

import (
	"os"
	"sync"
)

const testModeEnv = "KONZERN_TEST_MODE"

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv(testModeEnv) == "" {
			_ = os.Setenv(testModeEnv, "1")
		}
	})
}
