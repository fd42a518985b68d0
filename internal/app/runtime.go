package app

import (
	"os"
	"sync"
)

// testModeEnv set to "1" makes the binaries exit before opening any
// connection.
const testModeEnv = "ODYSSEY_TEST_MODE"

// InTestMode reports whether the binaries should skip runtime startup. The
// environment is read once.
var InTestMode = sync.OnceValue(func() bool {
	return os.Getenv(testModeEnv) == "1"
})
