package mocks

import (
	"os"

	"github.com/oneconcern/catsync/pkg/dlogger"
	"go.uber.org/zap"
)

// TestLogger returns a nop logger, or a development logger when the
// CATSYNC_TEST_LOG environment variable is set.
func TestLogger() *zap.Logger {
	if os.Getenv("CATSYNC_TEST_LOG") != "" {
		return dlogger.MustNew(dlogger.LogLevelDebug)
	}
	return zap.NewNop()
}
