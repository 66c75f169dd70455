package app

import (
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

const testModeEnv = "GATEKEEPER_TEST_MODE"

var (
	testModeFlag atomic.Bool
	testModeOnce sync.Once
)

func detectTestMode() {
	v := strings.TrimSpace(os.Getenv(testModeEnv))
	testModeFlag.Store(v == "1" || strings.EqualFold(v, "true"))
}

// InTestMode reports whether the process runs under go test. The logger
// discards output and the CLI refuses to bind listeners in this mode.
func InTestMode() bool {
	testModeOnce.Do(detectTestMode)
	return testModeFlag.Load()
}

// RefreshTestMode updates the cached flag after environment changes.
func RefreshTestMode() {
	testModeOnce.Do(func() {})
	detectTestMode()
}
