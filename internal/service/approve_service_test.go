package service

import (
	"context"
	"testing"
	"time"

	"github.com/angwiki/modqueue-backend/internal/common"
	"github.com/angwiki/modqueue-backend/internal/contentsave"
	"github.com/angwiki/modqueue-backend/internal/domain"
	"github.com/angwiki/modqueue-backend/internal/reconcile"
	"github.com/angwiki/modqueue-backend/internal/repository"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupApproveTest(t *testing.T) (*ApproveService, *repository.EntryRepository, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	err = db.AutoMigrate(
		&domain.ModEntry{},
		&contentsave.Revision{},
		&contentsave.RecentChange{},
		&contentsave.LogEntry{},
		&contentsave.ChangeAudit{},
	)
	if err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	repo := repository.NewEntryRepository(db)
	wave := reconcile.NewWave(db, zerolog.Nop())
	engine := contentsave.NewGormEngine(db)
	svc := NewApproveService(repo, engine, wave, enabledConfig(), zerolog.Nop())
	return svc, repo, db
}

func seedPendingEdit(t *testing.T, repo *repository.EntryRepository, title string, age time.Duration) *domain.ModEntry {
	t.Helper()
	entry := &domain.ModEntry{
		Type:        domain.EntryTypeEdit,
		Timestamp:   time.Now().Add(-age).Truncate(time.Second),
		AuthorName:  "203.0.113.9",
		Namespace:   0,
		Title:       title,
		Comment:     "queued edit",
		NewPage:     true,
		Text:        "queued content",
		NewLen:      len("queued content"),
		IP:          "203.0.113.9",
		XFF:         "198.51.100.7",
		UserAgent:   "QueuedAgent/2.0",
		Tags:        "mobile",
		PreloadID:   "[tok",
		Preloadable: true,
	}
	if err := repo.Insert(entry); err != nil {
		t.Fatalf("failed to seed entry: %v", err)
	}
	return entry
}

func TestApproveReplaysWithOriginalAttribution(t *testing.T) {
	svc, repo, db := setupApproveTest(t)
	entry := seedPendingEdit(t, repo, "Sandbox", time.Hour)
	moderator := domain.Moderator{ID: 42, Name: "modqueen"}

	revID, err := svc.Approve(context.Background(), entry.ID, moderator)
	assert.NoError(t, err)
	assert.NotZero(t, revID)

	stored, err := repo.GetByID(entry.ID)
	assert.NoError(t, err)
	assert.Equal(t, "merged", stored.Status())
	assert.Equal(t, revID, stored.MergedRevID)
	assert.False(t, stored.Preloadable)

	// The revision carries the author, never the moderator
	var rev contentsave.Revision
	assert.NoError(t, db.First(&rev, revID).Error)
	assert.Equal(t, entry.AuthorName, rev.UserText)
	assert.Equal(t, "queued content", rev.Text)

	// Reconciliation rewrites the engine's "now" back to submission time
	assert.WithinDuration(t, entry.Timestamp, rev.Timestamp, time.Second)

	// Feed and audit rows carry the original origin metadata
	var rc contentsave.RecentChange
	assert.NoError(t, db.Where("rc_this_oldid = ?", revID).First(&rc).Error)
	assert.Equal(t, entry.IP, rc.IP)
	assert.Equal(t, "mobile", rc.Tags)
	assert.WithinDuration(t, entry.Timestamp, rc.Timestamp, time.Second)

	var audit contentsave.ChangeAudit
	assert.NoError(t, db.Where("ca_title = ?", "Sandbox").First(&audit).Error)
	assert.Equal(t, entry.IP, audit.IP)
	assert.Equal(t, entry.XFF, audit.XFF)
	assert.Equal(t, entry.UserAgent, audit.UserAgent)
}

func TestApproveTwiceReportsAlreadyMerged(t *testing.T) {
	svc, repo, _ := setupApproveTest(t)
	entry := seedPendingEdit(t, repo, "Sandbox", time.Hour)
	moderator := domain.Moderator{ID: 42, Name: "modqueen"}

	_, err := svc.Approve(context.Background(), entry.ID, moderator)
	assert.NoError(t, err)

	_, err = svc.Approve(context.Background(), entry.ID, moderator)
	assert.ErrorIs(t, err, common.ErrAlreadyMerged)
}

func TestApproveExactlyOneSave(t *testing.T) {
	svc, repo, db := setupApproveTest(t)
	entry := seedPendingEdit(t, repo, "Sandbox", time.Hour)
	moderator := domain.Moderator{ID: 42, Name: "modqueen"}

	_, err := svc.Approve(context.Background(), entry.ID, moderator)
	assert.NoError(t, err)
	_, err = svc.Approve(context.Background(), entry.ID, moderator)
	assert.ErrorIs(t, err, common.ErrAlreadyMerged)

	var count int64
	db.Model(&contentsave.Revision{}).Count(&count)
	assert.Equal(t, int64(1), count, "a double approval must not write a second revision")
}

func TestApproveRejectedWithinHorizon(t *testing.T) {
	svc, repo, _ := setupApproveTest(t)
	entry := seedPendingEdit(t, repo, "Sandbox", 24*time.Hour)
	moderator := domain.Moderator{ID: 42, Name: "modqueen"}

	assert.NoError(t, svc.Reject(context.Background(), entry.ID, moderator))

	// A day old: still re-approvable
	revID, err := svc.Approve(context.Background(), entry.ID, moderator)
	assert.NoError(t, err)
	assert.NotZero(t, revID)
}

func TestApproveRejectedBeyondHorizon(t *testing.T) {
	svc, repo, _ := setupApproveTest(t)
	entry := seedPendingEdit(t, repo, "Sandbox", 15*24*time.Hour)
	moderator := domain.Moderator{ID: 42, Name: "modqueen"}

	assert.NoError(t, svc.Reject(context.Background(), entry.ID, moderator))

	_, err := svc.Approve(context.Background(), entry.ID, moderator)
	assert.ErrorIs(t, err, common.ErrRejectedTooLongAgo)
}

func TestApprovePendingEntryAgeDoesNotMatter(t *testing.T) {
	// The horizon applies only to rejected entries; an old pending entry is
	// still approvable.
	svc, repo, _ := setupApproveTest(t)
	entry := seedPendingEdit(t, repo, "Sandbox", 30*24*time.Hour)
	moderator := domain.Moderator{ID: 42, Name: "modqueen"}

	revID, err := svc.Approve(context.Background(), entry.ID, moderator)
	assert.NoError(t, err)
	assert.NotZero(t, revID)
}

func TestRejectMergedEntryFails(t *testing.T) {
	svc, repo, _ := setupApproveTest(t)
	entry := seedPendingEdit(t, repo, "Sandbox", time.Hour)
	moderator := domain.Moderator{ID: 42, Name: "modqueen"}

	_, err := svc.Approve(context.Background(), entry.ID, moderator)
	assert.NoError(t, err)

	err = svc.Reject(context.Background(), entry.ID, moderator)
	assert.ErrorIs(t, err, common.ErrAlreadyMerged)
}

func TestRejectTwiceReportsAlreadyRejected(t *testing.T) {
	svc, repo, _ := setupApproveTest(t)
	entry := seedPendingEdit(t, repo, "Sandbox", time.Hour)
	moderator := domain.Moderator{ID: 42, Name: "modqueen"}

	assert.NoError(t, svc.Reject(context.Background(), entry.ID, moderator))

	err := svc.Reject(context.Background(), entry.ID, moderator)
	assert.ErrorIs(t, err, common.ErrAlreadyRejected)
}

func TestApproveStaleBaseFlagsConflict(t *testing.T) {
	svc, repo, db := setupApproveTest(t)

	// Page already has a head revision the queued edit never saw
	head := &contentsave.Revision{
		Namespace: 0, Title: "Contested", UserText: "other",
		Timestamp: time.Now().Add(-10 * time.Minute), Text: "head",
	}
	assert.NoError(t, db.Create(head).Error)

	entry := seedPendingEdit(t, repo, "Contested", time.Hour)
	// BaseRevID stays 0: the author edited the page before it existed here
	moderator := domain.Moderator{ID: 42, Name: "modqueen"}

	_, err := svc.Approve(context.Background(), entry.ID, moderator)
	assert.ErrorIs(t, err, common.ErrSaveConflict)

	stored, gerr := repo.GetByID(entry.ID)
	assert.NoError(t, gerr)
	assert.True(t, stored.Conflict)
	assert.Equal(t, "pending", stored.Status())
}

func TestMergeResolvesConflict(t *testing.T) {
	svc, repo, db := setupApproveTest(t)

	head := &contentsave.Revision{
		Namespace: 0, Title: "Contested", UserText: "other",
		Timestamp: time.Now().Add(-10 * time.Minute), Text: "head",
	}
	assert.NoError(t, db.Create(head).Error)

	entry := seedPendingEdit(t, repo, "Contested", time.Hour)
	moderator := domain.Moderator{ID: 42, Name: "modqueen"}

	_, err := svc.Approve(context.Background(), entry.ID, moderator)
	assert.ErrorIs(t, err, common.ErrSaveConflict)

	revID, err := svc.Merge(context.Background(), entry.ID, "manually merged content", moderator)
	assert.NoError(t, err)
	assert.NotZero(t, revID)

	var rev contentsave.Revision
	assert.NoError(t, db.First(&rev, revID).Error)
	assert.Equal(t, entry.AuthorName, rev.UserText, "merged revision keeps the author's attribution")
	assert.Equal(t, "manually merged content", rev.Text)
	assert.Equal(t, head.ID, rev.ParentID)

	stored, gerr := repo.GetByID(entry.ID)
	assert.NoError(t, gerr)
	assert.Equal(t, "merged", stored.Status())
	assert.False(t, stored.Conflict)
}

func TestApproveBatchContinuesPastFailures(t *testing.T) {
	svc, repo, db := setupApproveTest(t)
	good1 := seedPendingEdit(t, repo, "PageOne", time.Hour)
	good2 := seedPendingEdit(t, repo, "PageTwo", time.Hour)
	moderator := domain.Moderator{ID: 42, Name: "modqueen"}

	result := svc.ApproveBatch(context.Background(), []int64{good1.ID, 99999, good2.ID}, moderator)

	assert.Equal(t, []int64{good1.ID, good2.ID}, result.Approved)
	assert.Len(t, result.Failures, 1)
	assert.Equal(t, int64(99999), result.Failures[0].EntryID)

	var count int64
	db.Model(&contentsave.Revision{}).Count(&count)
	assert.Equal(t, int64(2), count)
}

func TestApproveBatchReconcilesAllEntries(t *testing.T) {
	svc, repo, db := setupApproveTest(t)
	e1 := seedPendingEdit(t, repo, "PageOne", 2*time.Hour)
	e2 := seedPendingEdit(t, repo, "PageTwo", time.Hour)
	moderator := domain.Moderator{ID: 42, Name: "modqueen"}

	result := svc.ApproveBatch(context.Background(), []int64{e1.ID, e2.ID}, moderator)
	assert.Len(t, result.Approved, 2)

	// Both feed rows were rewritten in the single deferred pass
	var rcs []contentsave.RecentChange
	assert.NoError(t, db.Find(&rcs).Error)
	assert.Len(t, rcs, 2)
	for _, rc := range rcs {
		assert.Equal(t, "203.0.113.9", rc.IP)
	}
}

func TestRejectBatchSkipsMerged(t *testing.T) {
	svc, repo, _ := setupApproveTest(t)
	merged := seedPendingEdit(t, repo, "PageOne", time.Hour)
	p1 := seedPendingEdit(t, repo, "PageTwo", time.Hour)
	p2 := seedPendingEdit(t, repo, "PageThree", time.Hour)
	moderator := domain.Moderator{ID: 42, Name: "modqueen"}

	_, err := svc.Approve(context.Background(), merged.ID, moderator)
	assert.NoError(t, err)

	affected, err := svc.RejectBatch(context.Background(), []int64{merged.ID, p1.ID, p2.ID}, moderator)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), affected, "merged entries are skipped, not failed")

	stored, _ := repo.GetByID(merged.ID)
	assert.Equal(t, "merged", stored.Status())

	stored, _ = repo.GetByID(p1.ID)
	assert.Equal(t, "rejected", stored.Status())
	assert.True(t, stored.RejectedBatch)
	assert.Equal(t, "modqueen", stored.RejectedBy)
}

func TestApproveAllRepaysOldestFirst(t *testing.T) {
	svc, repo, db := setupApproveTest(t)
	moderator := domain.Moderator{ID: 42, Name: "modqueen"}

	// Two pending entries by one author on different pages
	older := seedPendingEdit(t, repo, "Stack", 3*time.Hour)
	// Same author, same page is normally coalesced; simulate a detached slot
	newer := seedPendingEdit(t, repo, "Stack", time.Hour)
	newer.Text = "second version"
	assert.NoError(t, db.Model(&domain.ModEntry{}).Where("id = ?", newer.ID).
		Updates(map[string]interface{}{"mod_text": "second version", "mod_preloadable": false}).Error)

	result, err := svc.ApproveAll(context.Background(), older.AuthorName, domain.PageRef{Namespace: 0, Title: "Stack"}, moderator)
	assert.NoError(t, err)

	// The older entry replays first and creates the page; the newer one has a
	// stale base and surfaces as a conflict rather than silently overwriting.
	assert.Equal(t, []int64{older.ID}, result.Approved)
	assert.Len(t, result.Failures, 1)
	assert.Equal(t, newer.ID, result.Failures[0].EntryID)
}
