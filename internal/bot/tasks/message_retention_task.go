package tasks

import (
	"context"
	"fmt"
)

// newMessageRetentionTask deletes stored messages older than
// bot.message_retention. A zero retention keeps everything.
func newMessageRetentionTask(deps TaskDeps) ScheduledTaskFunc {
	log := deps.Logger.With("task", "message_retention")

	return func(ctx context.Context) error {
		retention := deps.Config.Bot.MessageRetention
		if retention <= 0 {
			log.DebugContext(ctx, "Message retention disabled, skipping")
			return nil
		}

		cutoff := deps.now().Add(-retention)
		n, err := deps.Store.DeleteMessagesBefore(ctx, cutoff)
		if err != nil {
			log.ErrorContext(ctx, "Message retention task failed", "error", err)
			return fmt.Errorf("message retention failed: %w", err)
		}

		log.InfoContext(ctx, "Old messages deleted", "count", n, "cutoff", cutoff)
		return nil
	}
}
