package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/angwiki/modqueue-backend/internal/contentsave"
	"github.com/angwiki/modqueue-backend/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func testPage(title string) domain.PageRef {
	return domain.PageRef{Namespace: 0, Title: title}
}

func testTask(ts time.Time) TaskData {
	return TaskData{
		IP:        "203.0.113.9",
		XFF:       "203.0.113.1",
		UserAgent: "TestAgent",
		Tags:      []string{"mobile"},
		Timestamp: ts,
	}
}

func TestApproveModeFollowsUseCount(t *testing.T) {
	w := NewWave(setupTestDB(t), zerolog.Nop())
	assert.False(t, w.InApproveMode())

	w.RegisterTask(testPage("One"), "alice", domain.KindEdit, testTask(time.Now()))
	w.RegisterTask(testPage("Two"), "bob", domain.KindEdit, testTask(time.Now()))
	assert.True(t, w.InApproveMode())

	// Two approvals scheduled, so the first deferred call is a no-op
	assert.NoError(t, w.RunDeferred(context.Background()))
	assert.True(t, w.InApproveMode())

	assert.NoError(t, w.RunDeferred(context.Background()))
	assert.False(t, w.InApproveMode())
}

func TestResetClearsScheduledWork(t *testing.T) {
	w := NewWave(setupTestDB(t), zerolog.Nop())
	w.RegisterTask(testPage("One"), "alice", domain.KindEdit, testTask(time.Now()))
	assert.True(t, w.InApproveMode())

	w.Reset()
	assert.False(t, w.InApproveMode())
	// A reset wave owes nothing; an extra deferred call must not underflow
	assert.NoError(t, w.RunDeferred(context.Background()))
}

func TestHooksIgnoreUnregisteredSaves(t *testing.T) {
	db := setupTestDB(t)
	w := NewWave(db, zerolog.Nop())

	now := time.Now().Truncate(time.Second)
	rev := &contentsave.Revision{Title: "One", UserText: "carol", Timestamp: now}
	assert.NoError(t, db.Create(rev).Error)
	rc := &contentsave.RecentChange{Title: "One", UserText: "carol", IP: "10.1.2.3", Timestamp: now}
	assert.NoError(t, db.Create(rc).Error)

	w.RegisterTask(testPage("One"), "alice", domain.KindEdit, testTask(now.Add(-time.Hour)))
	w.RevisionWritten(rev)
	w.RecentChangeWritten(rc)
	assert.NoError(t, w.RunDeferred(context.Background()))

	var gotRC contentsave.RecentChange
	assert.NoError(t, db.First(&gotRC, rc.ID).Error)
	assert.Equal(t, "10.1.2.3", gotRC.IP)
	var gotRev contentsave.Revision
	assert.NoError(t, db.First(&gotRev, rev.ID).Error)
	assert.WithinDuration(t, now, gotRev.Timestamp, time.Second)
}

func TestRecentChangeOverride(t *testing.T) {
	db := setupTestDB(t)
	w := NewWave(db, zerolog.Nop())

	original := time.Now().Add(-2 * time.Hour).Truncate(time.Second)
	rc := &contentsave.RecentChange{Title: "One", UserText: "alice", IP: "10.9.9.9", Timestamp: time.Now()}
	assert.NoError(t, db.Create(rc).Error)

	w.RegisterTask(testPage("One"), "alice", domain.KindEdit, testTask(original))
	w.RecentChangeWritten(rc)
	assert.NoError(t, w.RunDeferred(context.Background()))

	var got contentsave.RecentChange
	assert.NoError(t, db.First(&got, rc.ID).Error)
	assert.Equal(t, "203.0.113.9", got.IP)
	assert.Equal(t, "mobile", got.Tags)
	assert.WithinDuration(t, original, got.Timestamp, time.Second)
}

func TestRevisionCorrectionAppliesAfterPredecessor(t *testing.T) {
	db := setupTestDB(t)
	w := NewWave(db, zerolog.Nop())

	predTS := time.Now().Add(-3 * time.Hour).Truncate(time.Second)
	pred := &contentsave.Revision{Title: "One", UserText: "someone", Timestamp: predTS}
	assert.NoError(t, db.Create(pred).Error)

	original := time.Now().Add(-time.Hour).Truncate(time.Second)
	rev := &contentsave.Revision{Title: "One", UserText: "alice", ParentID: pred.ID, Timestamp: time.Now()}
	assert.NoError(t, db.Create(rev).Error)

	w.RegisterTask(testPage("One"), "alice", domain.KindEdit, testTask(original))
	w.RevisionWritten(rev)
	assert.NoError(t, w.RunDeferred(context.Background()))

	var got contentsave.Revision
	assert.NoError(t, db.First(&got, rev.ID).Error)
	assert.WithinDuration(t, original, got.Timestamp, time.Second)
}

func TestRevisionCorrectionSkippedWhenItWouldInvertHistory(t *testing.T) {
	db := setupTestDB(t)
	w := NewWave(db, zerolog.Nop())

	// The page head was written after the queued submission; moving the
	// replayed revision behind its parent would reorder history.
	predTS := time.Now().Add(-30 * time.Minute).Truncate(time.Second)
	pred := &contentsave.Revision{Title: "One", UserText: "someone", Timestamp: predTS}
	assert.NoError(t, db.Create(pred).Error)

	engineTS := time.Now().Truncate(time.Second)
	rev := &contentsave.Revision{Title: "One", UserText: "alice", ParentID: pred.ID, Timestamp: engineTS}
	assert.NoError(t, db.Create(rev).Error)

	original := time.Now().Add(-time.Hour).Truncate(time.Second)
	w.RegisterTask(testPage("One"), "alice", domain.KindEdit, testTask(original))
	w.RevisionWritten(rev)
	assert.NoError(t, w.RunDeferred(context.Background()))

	var got contentsave.Revision
	assert.NoError(t, db.First(&got, rev.ID).Error)
	assert.WithinDuration(t, engineTS, got.Timestamp, time.Second, "timestamp must keep history order")
}

func TestRevisionCorrectionSeesPredecessorCorrectedInSameWave(t *testing.T) {
	db := setupTestDB(t)
	w := NewWave(db, zerolog.Nop())

	// Both revisions were just replayed, so both carry engine timestamps of
	// "now". Judged against the stored parent row the child correction would
	// be vetoed; judged against the parent's own pending correction it is safe.
	engineTS := time.Now().Truncate(time.Second)
	parent := &contentsave.Revision{Title: "One", UserText: "alice", Timestamp: engineTS}
	assert.NoError(t, db.Create(parent).Error)
	child := &contentsave.Revision{Title: "One", UserText: "bob", ParentID: parent.ID, Timestamp: engineTS}
	assert.NoError(t, db.Create(child).Error)

	parentOriginal := time.Now().Add(-2 * time.Hour).Truncate(time.Second)
	childOriginal := time.Now().Add(-time.Hour).Truncate(time.Second)
	w.RegisterTask(testPage("One"), "alice", domain.KindEdit, testTask(parentOriginal))
	w.RegisterTask(testPage("One"), "bob", domain.KindEdit, testTask(childOriginal))
	w.RevisionWritten(parent)
	w.RevisionWritten(child)

	assert.NoError(t, w.RunDeferred(context.Background()))
	assert.NoError(t, w.RunDeferred(context.Background()))

	var gotParent, gotChild contentsave.Revision
	assert.NoError(t, db.First(&gotParent, parent.ID).Error)
	assert.NoError(t, db.First(&gotChild, child.ID).Error)
	assert.WithinDuration(t, parentOriginal, gotParent.Timestamp, time.Second)
	assert.WithinDuration(t, childOriginal, gotChild.Timestamp, time.Second)
}

func TestLogEntryGetsRevisionIDAndTimestamp(t *testing.T) {
	db := setupTestDB(t)
	w := NewWave(db, zerolog.Nop())

	original := time.Now().Add(-time.Hour).Truncate(time.Second)
	rev := &contentsave.Revision{Title: "File:Photo.png", UserText: "alice", Timestamp: time.Now()}
	assert.NoError(t, db.Create(rev).Error)
	le := &contentsave.LogEntry{Type: "upload", Title: "File:Photo.png", UserText: "alice", Timestamp: time.Now()}
	assert.NoError(t, db.Create(le).Error)

	w.RegisterTask(testPage("File:Photo.png"), "alice", domain.KindUpload, testTask(original))
	w.LogWritten(le)
	w.RevisionWritten(rev)
	assert.NoError(t, w.RunDeferred(context.Background()))

	var got contentsave.LogEntry
	assert.NoError(t, db.First(&got, le.ID).Error)
	assert.Equal(t, rev.ID, got.RevisionID)
	assert.WithinDuration(t, original, got.Timestamp, time.Second)
}

func TestAuditOverrideAppliesToWaveRows(t *testing.T) {
	db := setupTestDB(t)
	w := NewWave(db, zerolog.Nop())

	mine := &contentsave.ChangeAudit{Title: "One", UserText: "alice", Action: "edit",
		IP: "10.0.0.1", XFF: "", UserAgent: "ApproverAgent", Timestamp: time.Now()}
	other := &contentsave.ChangeAudit{Title: "One", UserText: "dave", Action: "edit",
		IP: "10.0.0.2", Timestamp: time.Now()}
	assert.NoError(t, db.Create(mine).Error)
	assert.NoError(t, db.Create(other).Error)

	original := time.Now().Add(-time.Hour).Truncate(time.Second)
	w.RegisterTask(testPage("One"), "alice", domain.KindEdit, testTask(original))
	w.ChangeAuditWritten(mine)
	w.ChangeAuditWritten(other)
	assert.NoError(t, w.RunDeferred(context.Background()))

	var got contentsave.ChangeAudit
	assert.NoError(t, db.First(&got, mine.ID).Error)
	assert.Equal(t, "203.0.113.9", got.IP)
	assert.Equal(t, "203.0.113.1", got.XFF)
	assert.Equal(t, "TestAgent", got.UserAgent)
	assert.WithinDuration(t, original, got.Timestamp, time.Second)

	var gotOther contentsave.ChangeAudit
	assert.NoError(t, db.First(&gotOther, other.ID).Error)
	assert.Equal(t, "10.0.0.2", gotOther.IP)
}

func TestAuditOverrideSparesHistoricalRows(t *testing.T) {
	db := setupTestDB(t)
	w := NewWave(db, zerolog.Nop())

	// An audit row from an earlier unmoderated save by the same author, page
	// and action records a real connection. It was not written by this wave's
	// replay, so it never fires the hook and must survive untouched.
	historic := &contentsave.ChangeAudit{Title: "One", UserText: "alice", Action: "edit",
		IP: "198.51.100.50", UserAgent: "OldRealAgent", Timestamp: time.Now().Add(-48 * time.Hour)}
	assert.NoError(t, db.Create(historic).Error)

	replayed := &contentsave.ChangeAudit{Title: "One", UserText: "alice", Action: "edit",
		IP: "10.0.0.1", UserAgent: "ApproverAgent", Timestamp: time.Now()}
	assert.NoError(t, db.Create(replayed).Error)

	original := time.Now().Add(-time.Hour).Truncate(time.Second)
	w.RegisterTask(testPage("One"), "alice", domain.KindEdit, testTask(original))
	w.ChangeAuditWritten(replayed)
	assert.NoError(t, w.RunDeferred(context.Background()))

	var gotHistoric contentsave.ChangeAudit
	assert.NoError(t, db.First(&gotHistoric, historic.ID).Error)
	assert.Equal(t, "198.51.100.50", gotHistoric.IP)
	assert.Equal(t, "OldRealAgent", gotHistoric.UserAgent)

	var gotReplayed contentsave.ChangeAudit
	assert.NoError(t, db.First(&gotReplayed, replayed.ID).Error)
	assert.Equal(t, "203.0.113.9", gotReplayed.IP)
}
