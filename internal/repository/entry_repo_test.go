package repository

import (
	"testing"
	"time"

	"github.com/angwiki/modqueue-backend/internal/common"
	"github.com/angwiki/modqueue-backend/internal/domain"
	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.AutoMigrate(&domain.ModEntry{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newEntry(title, preloadID string, age time.Duration) *domain.ModEntry {
	return &domain.ModEntry{
		Type:        domain.EntryTypeEdit,
		Timestamp:   time.Now().Add(-age).Truncate(time.Second),
		AuthorName:  "author",
		Namespace:   0,
		Title:       title,
		Text:        "text",
		PreloadID:   preloadID,
		Preloadable: true,
	}
}

func TestMarkMergedFirstWins(t *testing.T) {
	repo := NewEntryRepository(setupTestDB(t))
	entry := newEntry("Sandbox", "[tok", time.Hour)
	assert.NoError(t, repo.Insert(entry))

	ok, err := repo.MarkMerged(entry.ID, 101)
	assert.NoError(t, err)
	assert.True(t, ok)

	// Racing second moderator loses
	ok, err = repo.MarkMerged(entry.ID, 202)
	assert.NoError(t, err)
	assert.False(t, ok)

	stored, err := repo.GetByID(entry.ID)
	assert.NoError(t, err)
	assert.Equal(t, int64(101), stored.MergedRevID)
	assert.False(t, stored.Preloadable)
}

func TestMarkRejectedSkipsMergedRows(t *testing.T) {
	repo := NewEntryRepository(setupTestDB(t))
	merged := newEntry("PageOne", "[a", time.Hour)
	p1 := newEntry("PageTwo", "[b", time.Hour)
	p2 := newEntry("PageThree", "[c", time.Hour)
	for _, e := range []*domain.ModEntry{merged, p1, p2} {
		assert.NoError(t, repo.Insert(e))
	}
	_, err := repo.MarkMerged(merged.ID, 7)
	assert.NoError(t, err)

	affected, err := repo.MarkRejected([]int64{merged.ID, p1.ID, p2.ID}, 42, "modqueen", true)
	assert.NoError(t, err)
	assert.Equal(t, int64(2), affected)

	stored, _ := repo.GetByID(merged.ID)
	assert.Equal(t, "merged", stored.Status())
	assert.False(t, stored.Rejected)

	stored, _ = repo.GetByID(p1.ID)
	assert.True(t, stored.Rejected)
	assert.True(t, stored.RejectedBatch)
	assert.Equal(t, "modqueen", stored.RejectedBy)
	assert.False(t, stored.Preloadable)
	// Content survives rejection for audit and undo
	assert.Equal(t, "text", stored.Text)
}

func TestMarkRejectedAutoKeepsPreloadable(t *testing.T) {
	repo := NewEntryRepository(setupTestDB(t))
	entry := newEntry("Sandbox", "[blocked", time.Hour)
	assert.NoError(t, repo.Insert(entry))

	assert.NoError(t, repo.MarkRejectedAuto(entry.ID, "moderation-blocker"))

	stored, _ := repo.GetByID(entry.ID)
	assert.True(t, stored.Rejected)
	assert.True(t, stored.RejectedAuto)
	assert.True(t, stored.Preloadable)
	assert.Equal(t, "moderation-blocker", stored.RejectedBy)
}

func TestFindPreloadableNewestWins(t *testing.T) {
	repo := NewEntryRepository(setupTestDB(t))
	page := domain.PageRef{Namespace: 0, Title: "Sandbox"}

	// A race left two matching rows; the newest must win
	stale := newEntry("Sandbox", "[tok", 2*time.Hour)
	fresh := newEntry("Sandbox", "[tok", time.Hour)
	assert.NoError(t, repo.Insert(stale))
	assert.NoError(t, repo.Insert(fresh))

	found, err := repo.FindPreloadable("[tok", page)
	assert.NoError(t, err)
	assert.Equal(t, fresh.ID, found.ID)
}

func TestFindPreloadableIgnoresDetachedAndMerged(t *testing.T) {
	repo := NewEntryRepository(setupTestDB(t))
	page := domain.PageRef{Namespace: 0, Title: "Sandbox"}

	detached := newEntry("Sandbox", "[tok", time.Hour)
	assert.NoError(t, repo.Insert(detached))
	assert.NoError(t, repo.ClearPreloadable(detached.ID))

	found, err := repo.FindPreloadable("[tok", page)
	assert.NoError(t, err)
	assert.Nil(t, found)

	merged := newEntry("Sandbox", "[tok", time.Hour)
	assert.NoError(t, repo.Insert(merged))
	_, err = repo.MarkMerged(merged.ID, 5)
	assert.NoError(t, err)

	found, err = repo.FindPreloadable("[tok", page)
	assert.NoError(t, err)
	assert.Nil(t, found)
}

func TestUpdatePreloadedRequiresLiveSlot(t *testing.T) {
	repo := NewEntryRepository(setupTestDB(t))
	entry := newEntry("Sandbox", "[tok", time.Hour)
	assert.NoError(t, repo.Insert(entry))

	entry.Text = "updated text"
	entry.Comment = "updated summary"
	assert.NoError(t, repo.UpdatePreloaded(entry.ID, entry))

	stored, _ := repo.GetByID(entry.ID)
	assert.Equal(t, "updated text", stored.Text)
	assert.Equal(t, "updated summary", stored.Comment)

	// Once the slot is detached the in-place update must fail
	assert.NoError(t, repo.ClearPreloadable(entry.ID))
	err := repo.UpdatePreloaded(entry.ID, entry)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestListStatusFilters(t *testing.T) {
	repo := NewEntryRepository(setupTestDB(t))
	pending := newEntry("PageOne", "[a", time.Hour)
	rejected := newEntry("PageTwo", "[b", time.Hour)
	merged := newEntry("PageThree", "[c", time.Hour)
	for _, e := range []*domain.ModEntry{pending, rejected, merged} {
		assert.NoError(t, repo.Insert(e))
	}
	_, err := repo.MarkRejected([]int64{rejected.ID}, 1, "mod", false)
	assert.NoError(t, err)
	_, err = repo.MarkMerged(merged.ID, 9)
	assert.NoError(t, err)

	entries, total, err := repo.List(EntryStatusPending, 1, 10)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Equal(t, pending.ID, entries[0].ID)

	_, total, err = repo.List(EntryStatusRejected, 1, 10)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), total)

	_, total, err = repo.List(EntryStatusMerged, 1, 10)
	assert.NoError(t, err)
	assert.Equal(t, int64(1), total)

	_, total, err = repo.List("", 1, 10)
	assert.NoError(t, err)
	assert.Equal(t, int64(3), total)

	count, err := repo.CountPending()
	assert.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestListPendingByAuthorAndPageOldestFirst(t *testing.T) {
	repo := NewEntryRepository(setupTestDB(t))
	page := domain.PageRef{Namespace: 0, Title: "Stack"}

	newer := newEntry("Stack", "[a", time.Hour)
	older := newEntry("Stack", "[a", 3*time.Hour)
	other := newEntry("Elsewhere", "[a", 2*time.Hour)
	for _, e := range []*domain.ModEntry{newer, older, other} {
		assert.NoError(t, repo.Insert(e))
	}

	entries, err := repo.ListPendingByAuthorAndPage("author", page)
	assert.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, older.ID, entries[0].ID, "replay order is submission order")
	assert.Equal(t, newer.ID, entries[1].ID)
}

func TestGetByIDNotFound(t *testing.T) {
	repo := NewEntryRepository(setupTestDB(t))
	_, err := repo.GetByID(12345)
	assert.ErrorIs(t, err, common.ErrNotFound)
}
