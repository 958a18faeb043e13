package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("ODYSSEY_TEST_MODE", "1")
		if os.Getenv("OPS_TOKEN") == "" {
			_ = os.Setenv("OPS_TOKEN", "test-ops-token")
		}
		if os.Getenv("TIMEZONE") == "" {
			_ = os.Setenv("TIMEZONE", "UTC")
		}
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
