package service

import (
	"context"

	"github.com/angwiki/modqueue-backend/internal/domain"
	"github.com/rs/zerolog"
)

// LogNotifier records queued-entry notifications in the structured log. The
// production deployment swaps in a mail-backed implementation; the address it
// would deliver to is carried along so operators can verify routing from the
// log alone.
type LogNotifier struct {
	email string
	log   zerolog.Logger
}

// NewLogNotifier creates a log-backed notifier
func NewLogNotifier(email string, log zerolog.Logger) *LogNotifier {
	return &LogNotifier{email: email, log: log}
}

// NotifyQueued logs that an entry entered the queue
func (n *LogNotifier) NotifyQueued(ctx context.Context, entry *domain.ModEntry) {
	n.log.Info().
		Int64("entry_id", entry.ID).
		Str("type", entry.Type).
		Str("author", entry.AuthorName).
		Int("namespace", entry.Namespace).
		Str("title", entry.Title).
		Bool("new_page", entry.NewPage).
		Str("notify_email", n.email).
		Msg("entry queued for moderation")
}
