package state

import (
	"time"

	"go.uber.org/zap"
)

// newLocalEnv creates environment which is safe to use before configuration
// is loaded.
func newLocalEnv() *LocalEnv {
	return &LocalEnv{
		Log:   zap.NewNop(),
		start: time.Now(),
	}
}
