// Package contentsave defines the boundary to the wiki's content-versioning
// engine. The moderation core treats the engine as an opaque capability that
// accepts content+metadata and returns a revision id; the Observer callbacks
// are the seam the attribution reconciliation hook listens on.
package contentsave

import (
	"context"
	"time"

	"github.com/angwiki/modqueue-backend/internal/domain"
)

// Actor identifies the user a save is attributed to
type Actor struct {
	ID   int64
	Name string
}

// SaveRequest carries one content-modifying action into the engine
type SaveRequest struct {
	Kind      domain.EntryKind
	Page      domain.PageRef
	MoveTo    domain.PageRef // moves only
	Text      string
	Summary   string
	Author    Actor
	Minor     bool
	Bot       bool
	BaseRevID int64  // revision the edit was based on, 0 for new pages
	StashKey  string // uploads only
	// Request metadata the engine's audit subsystem records for the save.
	// During an approval replay this is still the moderator's connection;
	// reconciliation overwrites it afterwards.
	IP        string
	XFF       string
	UserAgent string
}

// SaveResult is returned on success
type SaveResult struct {
	RevisionID int64
	Timestamp  time.Time
}

// Observer receives the engine's side-effect notifications synchronously
// during Save. Implementations must tolerate being called for saves they did
// not initiate; every hook receives the row just written.
type Observer interface {
	RevisionWritten(rev *Revision)
	RecentChangeWritten(rc *RecentChange)
	ChangeAuditWritten(ca *ChangeAudit)
	LogWritten(le *LogEntry)
}

// NopObserver ignores all notifications
type NopObserver struct{}

func (NopObserver) RevisionWritten(*Revision)         {}
func (NopObserver) RecentChangeWritten(*RecentChange) {}
func (NopObserver) ChangeAuditWritten(*ChangeAudit)   {}
func (NopObserver) LogWritten(*LogEntry)              {}

// Engine is the content-save capability. Save is synchronous and bounded; on
// a stale base revision it returns common.ErrSaveConflict without writing.
// LatestRevisionID returns the current head of a page, 0 if the page does not
// exist yet; moderator-driven conflict merges save against it.
type Engine interface {
	Save(ctx context.Context, req SaveRequest, obs Observer) (*SaveResult, error)
	LatestRevisionID(ctx context.Context, page domain.PageRef) (int64, error)
}
