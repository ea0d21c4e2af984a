package state

import (
	"time"

	"resolveurl/rewrite"
)

// newLocalEnv creates a new LocalEnv instance with default values
func newLocalEnv() *LocalEnv {
	return &LocalEnv{
		start:   time.Now(),
		Options: rewrite.DefaultOptions(),
	}
}
