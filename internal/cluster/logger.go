package cluster

import (
	"io"
	"os"

	"github.com/hashicorp/go-hclog"
)

// newHCLogger returns the logger handed to Raft. An empty level discards
// everything; Raft is chatty at info level.
func newHCLogger(level string) hclog.Logger {
	if level == "" {
		return hclog.New(&hclog.LoggerOptions{
			Name:   "raft",
			Level:  hclog.Off,
			Output: io.Discard,
		})
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:   "raft",
		Level:  hclog.LevelFromString(level),
		Output: os.Stderr,
	})
}
