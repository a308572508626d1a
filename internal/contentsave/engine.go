package contentsave

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angwiki/modqueue-backend/internal/common"
	"github.com/angwiki/modqueue-backend/internal/domain"
	"gorm.io/gorm"
)

// GormEngine is a content-save engine over the wiki's own history tables.
// The production deployment points the moderation core at the real wiki; this
// implementation backs the standalone server and the test suite, and fires
// the same observer hooks in the same order.
type GormEngine struct {
	db *gorm.DB
}

// NewGormEngine creates a gorm-backed content-save engine
func NewGormEngine(db *gorm.DB) *GormEngine {
	return &GormEngine{db: db}
}

// Save commits one action: revision + recent-change + audit row, plus a log
// entry for uploads and moves. The committer identity is req.Author and the
// timestamp is now; that is exactly the assumption the attribution
// reconciliation hook compensates for after approvals.
func (e *GormEngine) Save(ctx context.Context, req SaveRequest, obs Observer) (*SaveResult, error) {
	if obs == nil {
		obs = NopObserver{}
	}
	now := time.Now()

	var result *SaveResult
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		latest, err := latestRevision(tx, req.Page)
		if err != nil {
			return err
		}

		// Stale base revision: somebody saved in between. Never silently
		// overwrite; the caller must merge and retry. Uploads and moves carry
		// no base revision and cannot conflict this way.
		if req.Kind == domain.KindEdit {
			if latest != nil && req.BaseRevID != latest.ID {
				return common.ErrSaveConflict
			}
			if latest == nil && req.BaseRevID != 0 {
				return common.ErrSaveConflict
			}
		}

		var parentID int64
		if latest != nil {
			parentID = latest.ID
		}

		rev := &Revision{
			Namespace: req.Page.Namespace,
			Title:     req.Page.Title,
			ParentID:  parentID,
			UserID:    req.Author.ID,
			UserText:  req.Author.Name,
			Timestamp: now,
			Comment:   req.Summary,
			Minor:     req.Minor,
			Len:       len(req.Text),
			Text:      req.Text,
		}
		if req.Kind == domain.KindMove {
			rev.Comment = req.Summary
			rev.Len = 0
			rev.Text = ""
		}
		if err := tx.Create(rev).Error; err != nil {
			return err
		}
		obs.RevisionWritten(rev)

		rc := &RecentChange{
			Namespace:  req.Page.Namespace,
			Title:      req.Page.Title,
			UserID:     req.Author.ID,
			UserText:   req.Author.Name,
			Timestamp:  now,
			RevisionID: rev.ID,
			IP:         req.IP,
		}
		if req.Kind != domain.KindEdit {
			rc.LogAction = req.Kind.String()
		}
		if err := tx.Create(rc).Error; err != nil {
			return err
		}
		obs.RecentChangeWritten(rc)

		audit := &ChangeAudit{
			Namespace: req.Page.Namespace,
			Title:     req.Page.Title,
			UserText:  req.Author.Name,
			Action:    req.Kind.String(),
			Timestamp: now,
			IP:        req.IP,
			XFF:       req.XFF,
			UserAgent: req.UserAgent,
		}
		if err := tx.Create(audit).Error; err != nil {
			return err
		}
		obs.ChangeAuditWritten(audit)

		// Uploads and moves additionally hit the audit log. The revision id
		// is deliberately left 0 here: the engine attaches it in a deferred
		// post-commit step, which is why reconciliation patches it in.
		if req.Kind == domain.KindUpload || req.Kind == domain.KindMove {
			le := &LogEntry{
				Type:      req.Kind.String(),
				Action:    req.Kind.String(),
				Namespace: req.Page.Namespace,
				Title:     req.Page.Title,
				UserID:    req.Author.ID,
				UserText:  req.Author.Name,
				Timestamp: now,
				Comment:   req.Summary,
			}
			if err := tx.Create(le).Error; err != nil {
				return err
			}
			obs.LogWritten(le)
		}

		result = &SaveResult{RevisionID: rev.ID, Timestamp: now}
		return nil
	})
	if err != nil {
		if errors.Is(err, common.ErrSaveConflict) {
			return nil, common.ErrSaveConflict
		}
		return nil, fmt.Errorf("content save failed: %w", err)
	}
	return result, nil
}

// LatestRevisionID returns the current head revision of a page, 0 for a page
// with no history.
func (e *GormEngine) LatestRevisionID(ctx context.Context, page domain.PageRef) (int64, error) {
	rev, err := latestRevision(e.db.WithContext(ctx), page)
	if err != nil {
		return 0, err
	}
	if rev == nil {
		return 0, nil
	}
	return rev.ID, nil
}

func latestRevision(tx *gorm.DB, page domain.PageRef) (*Revision, error) {
	var rev Revision
	err := tx.Where("rev_namespace = ? AND rev_title = ?", page.Namespace, page.Title).
		Order("id DESC").
		First(&rev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rev, nil
}
