package repository

import (
	"errors"

	"github.com/angwiki/modqueue-backend/internal/common"
	"github.com/angwiki/modqueue-backend/internal/domain"
	"gorm.io/gorm"
)

// Entry status filter values for list queries
const (
	EntryStatusPending  = "pending"
	EntryStatusRejected = "rejected"
	EntryStatusMerged   = "merged"
)

// EntryRepository handles moderation entry data operations
type EntryRepository struct {
	db *gorm.DB
}

// NewEntryRepository creates a new EntryRepository
func NewEntryRepository(db *gorm.DB) *EntryRepository {
	return &EntryRepository{db: db}
}

// DB exposes the underlying handle for transaction composition
func (r *EntryRepository) DB() *gorm.DB {
	return r.db
}

// Insert persists a new entry and fills in its id
func (r *EntryRepository) Insert(entry *domain.ModEntry) error {
	return r.db.Create(entry).Error
}

// GetByID retrieves a single entry
func (r *EntryRepository) GetByID(id int64) (*domain.ModEntry, error) {
	var entry domain.ModEntry
	if err := r.db.Where("id = ?", id).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.ErrNotFound
		}
		return nil, err
	}
	return &entry, nil
}

// FindPreloadable returns the still-editable pending entry for one
// (fingerprint, page) pair. A race can leave two matching rows; the newest
// wins and older ones are treated as stale.
func (r *EntryRepository) FindPreloadable(preloadID string, page domain.PageRef) (*domain.ModEntry, error) {
	var entry domain.ModEntry
	err := r.db.
		Where("mod_preload_id = ? AND mod_namespace = ? AND mod_title = ? AND mod_preloadable = ? AND mod_merged_revid = 0",
			preloadID, page.Namespace, page.Title, true).
		Order("mod_timestamp DESC, id DESC").
		First(&entry).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// UpdatePreloaded overwrites a preloadable row in place, coalescing a repeat
// edit by the same actor into the existing queue entry. The caller passes the
// already-merged entry; derived fields (new length, tags) must be recomputed
// before the call.
func (r *EntryRepository) UpdatePreloaded(id int64, entry *domain.ModEntry) error {
	result := r.db.Model(&domain.ModEntry{}).
		Where("id = ? AND mod_preloadable = ? AND mod_merged_revid = 0", id, true).
		Updates(map[string]interface{}{
			"mod_timestamp":  entry.Timestamp,
			"mod_text":       entry.Text,
			"mod_comment":    entry.Comment,
			"mod_minor":      entry.Minor,
			"mod_bot":        entry.Bot,
			"mod_new_len":    entry.NewLen,
			"mod_last_oldid": entry.BaseRevID,
			"mod_ip":         entry.IP,
			"mod_header_xff": entry.XFF,
			"mod_header_ua":  entry.UserAgent,
			"mod_tags":       entry.Tags,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return common.ErrNotFound
	}
	return nil
}

// MarkMerged records the approved revision id. First-merge-wins: the update
// is conditioned on mod_merged_revid = 0, so a second moderator racing on the
// same entry observes false and must report "already approved".
func (r *EntryRepository) MarkMerged(id int64, revID int64) (bool, error) {
	result := r.db.Model(&domain.ModEntry{}).
		Where("id = ? AND mod_merged_revid = 0", id).
		Updates(map[string]interface{}{
			"mod_merged_revid": revID,
			"mod_preloadable":  false,
			"mod_conflict":     false,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// MarkRejected rejects the given ids, recording the moderator. Already-merged
// rows are left untouched (merged takes precedence over reject attempts), so
// the affected count can be lower than len(ids). Content stays for audit/undo.
func (r *EntryRepository) MarkRejected(ids []int64, moderatorID int64, moderatorName string, batch bool) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.Model(&domain.ModEntry{}).
		Where("id IN ? AND mod_rejected = ? AND mod_merged_revid = 0", ids, false).
		Updates(map[string]interface{}{
			"mod_rejected":              true,
			"mod_rejected_by_user":      moderatorID,
			"mod_rejected_by_user_text": moderatorName,
			"mod_rejected_batch":        batch,
			"mod_preloadable":           false,
		})
	return result.RowsAffected, result.Error
}

// MarkRejectedAuto flags a freshly inserted entry of a blocked actor as
// auto-rejected while keeping it preloadable, so the actor's editing
// experience stays unchanged.
func (r *EntryRepository) MarkRejectedAuto(id int64, systemName string) error {
	return r.db.Model(&domain.ModEntry{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"mod_rejected":              true,
			"mod_rejected_by_user":      0,
			"mod_rejected_by_user_text": systemName,
			"mod_rejected_auto":         true,
			"mod_preloadable":           true,
		}).Error
}

// ClearPreloadable detaches the entry from its preload slot (moderator opened
// it for merge/edit, or the slot is superseded)
func (r *EntryRepository) ClearPreloadable(id int64) error {
	return r.db.Model(&domain.ModEntry{}).
		Where("id = ?", id).
		Update("mod_preloadable", false).Error
}

// MarkConflict flags the entry as needing a manual merge
func (r *EntryRepository) MarkConflict(id int64, conflict bool) error {
	return r.db.Model(&domain.ModEntry{}).
		Where("id = ?", id).
		Update("mod_conflict", conflict).Error
}

// List retrieves paginated entries with optional status filter
func (r *EntryRepository) List(status string, page, limit int) ([]domain.ModEntry, int64, error) {
	var entries []domain.ModEntry
	var total int64

	query := r.db.Model(&domain.ModEntry{})
	query = applyStatusFilter(query, status)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := query.Order("mod_timestamp DESC, id DESC").
		Offset(offset).
		Limit(limit).
		Find(&entries).Error; err != nil {
		return nil, 0, err
	}

	return entries, total, nil
}

// ListPendingByAuthorAndPage returns every pending entry by one author for
// one page, oldest first (ApproveAll replays them in submission order)
func (r *EntryRepository) ListPendingByAuthorAndPage(authorName string, page domain.PageRef) ([]domain.ModEntry, error) {
	var entries []domain.ModEntry
	err := r.db.
		Where("mod_user_text = ? AND mod_namespace = ? AND mod_title = ? AND mod_rejected = ? AND mod_merged_revid = 0",
			authorName, page.Namespace, page.Title, false).
		Order("mod_timestamp ASC, id ASC").
		Find(&entries).Error
	return entries, err
}

// CountPending counts entries awaiting review
func (r *EntryRepository) CountPending() (int64, error) {
	var count int64
	err := r.db.Model(&domain.ModEntry{}).
		Where("mod_rejected = ? AND mod_merged_revid = 0", false).
		Count(&count).Error
	return count, err
}

func applyStatusFilter(query *gorm.DB, status string) *gorm.DB {
	switch status {
	case EntryStatusPending:
		return query.Where("mod_rejected = ? AND mod_merged_revid = 0", false)
	case EntryStatusRejected:
		return query.Where("mod_rejected = ? AND mod_merged_revid = 0", true)
	case EntryStatusMerged:
		return query.Where("mod_merged_revid <> 0")
	default:
		return query
	}
}
