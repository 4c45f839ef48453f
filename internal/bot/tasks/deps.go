// Package tasks implements the scheduled tasks of maxbot.
package tasks

import (
	"log/slog"
	"time"

	"github.com/edgard/webmax/internal/config"
	"github.com/edgard/webmax/internal/database"
)

// TaskDeps contains all dependencies required by scheduled tasks.
type TaskDeps struct {
	Logger *slog.Logger
	Store  database.Store
	Config *config.Config
	// Now defaults to time.Now.
	Now func() time.Time
}

func (d TaskDeps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}
