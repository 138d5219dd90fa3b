package app

import (
	"os"
	"strconv"
	"sync/atomic"
)

const testModeEnv = "GLOSSBOOK_TEST_MODE"

var testMode atomic.Bool

func init() {
	RefreshTestMode()
}

// InTestMode reports whether the binaries should return before opening
// connections.
func InTestMode() bool {
	return testMode.Load()
}

// RefreshTestMode re-reads GLOSSBOOK_TEST_MODE, for tests that set it after
// package init.
func RefreshTestMode() {
	on, err := strconv.ParseBool(os.Getenv(testModeEnv))
	testMode.Store(err == nil && on)
}
