// Package testing switches the binaries into test mode when blank-imported
// from a test package.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("CATALOG_TEST_MODE", "1")
		if os.Getenv("CATALOG_API_URL") == "" {
			_ = os.Setenv("CATALOG_API_URL", "http://127.0.0.1:0/products")
		}
	})
}

func init() {
	ensureTestMode()
}

// TestMain can be delegated to from packages that define no TestMain of
// their own.
func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
