package registry

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies no goroutines are leaked by any test in this package.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
