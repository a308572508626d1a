package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/angwiki/modqueue-backend/internal/common"
	"github.com/angwiki/modqueue-backend/internal/config"
	"github.com/angwiki/modqueue-backend/internal/contentsave"
	"github.com/angwiki/modqueue-backend/internal/domain"
	"github.com/angwiki/modqueue-backend/internal/reconcile"
	"github.com/angwiki/modqueue-backend/internal/repository"
	"github.com/rs/zerolog"
)

// BatchFailure records one failed item of a batch operation
type BatchFailure struct {
	EntryID int64  `json:"entry_id"`
	Reason  string `json:"reason"`
}

// BatchResult reports a batch operation: clean successes plus per-id
// failures. One bad entry never aborts its siblings.
type BatchResult struct {
	Approved []int64        `json:"approved,omitempty"`
	Rejected int64          `json:"rejected,omitempty"`
	Failures []BatchFailure `json:"failures,omitempty"`
}

// ApproveService orchestrates approval and rejection of queued entries.
//
// Approvals are serialized on one mutex: the reconciliation wave assumes a
// single logical thread of execution per replay, and serializing here is the
// approval-processing-worker boundary that assumption requires. Cross-process
// safety still rests on the entry store's conditional MarkMerged.
type ApproveService struct {
	mu sync.Mutex

	repo   *repository.EntryRepository
	engine contentsave.Engine
	wave   *reconcile.Wave
	cfg    config.ModerationConfig
	log    zerolog.Logger
}

// NewApproveService creates the approval engine. The wave is the per-worker
// reconciliation scope; the same instance must back the skip policy's
// approve-mode check.
func NewApproveService(
	repo *repository.EntryRepository,
	engine contentsave.Engine,
	wave *reconcile.Wave,
	cfg config.ModerationConfig,
	log zerolog.Logger,
) *ApproveService {
	return &ApproveService{
		repo:   repo,
		engine: engine,
		wave:   wave,
		cfg:    cfg,
		log:    log,
	}
}

// Wave exposes the reconciliation scope for wiring the skip policy
func (s *ApproveService) Wave() *reconcile.Wave {
	return s.wave
}

// checkApprovable applies the approval pre-checks: already-merged takes
// precedence, then the re-approvability horizon for rejected entries.
func (s *ApproveService) checkApprovable(entry *domain.ModEntry) error {
	if entry.MergedRevID != 0 {
		return common.ErrAlreadyMerged
	}
	if entry.Rejected && time.Since(entry.Timestamp) > s.cfg.RejectedHorizon {
		return common.ErrRejectedTooLongAgo
	}
	return nil
}

// Approve replays one entry through the content engine and records the
// resulting revision id. On a stale base revision it flags the conflict and
// returns common.ErrSaveConflict; the caller must merge and retry via Merge.
func (s *ApproveService) Approve(ctx context.Context, id int64, moderator domain.Moderator) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.wave.Reset()

	revID, scheduled, err := s.approveOne(ctx, id, moderator)
	if scheduled {
		if derr := s.wave.RunDeferred(ctx); derr != nil {
			s.log.Error().Err(derr).Int64("entry_id", id).Msg("reconciliation after approval failed")
		}
	}
	return revID, err
}

// ApproveBatch approves each id in turn, continuing past individual
// failures. All reconciliation work of the wave is batched into one deferred
// pass that runs after the last approval's side effects have fired.
func (s *ApproveService) ApproveBatch(ctx context.Context, ids []int64, moderator domain.Moderator) *BatchResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.wave.Reset()

	result := &BatchResult{}
	scheduledCount := 0

	for _, id := range ids {
		_, scheduled, err := s.approveOne(ctx, id, moderator)
		if scheduled {
			scheduledCount++
		}
		if err != nil {
			result.Failures = append(result.Failures, BatchFailure{EntryID: id, Reason: err.Error()})
			continue
		}
		result.Approved = append(result.Approved, id)
	}

	// One RunDeferred per scheduled replay; only the last outstanding call
	// performs the pass.
	for i := 0; i < scheduledCount; i++ {
		if err := s.wave.RunDeferred(ctx); err != nil {
			s.log.Error().Err(err).Msg("reconciliation after batch approval failed")
			break
		}
	}
	return result
}

// ApproveAll approves every pending entry by one author on one page, oldest
// first, so replayed revisions stack in submission order.
func (s *ApproveService) ApproveAll(ctx context.Context, authorName string, page domain.PageRef, moderator domain.Moderator) (*BatchResult, error) {
	entries, err := s.repo.ListPendingByAuthorAndPage(authorName, page)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	return s.ApproveBatch(ctx, ids, moderator), nil
}

// approveOne runs the approve sequence for a single entry. scheduled
// reports whether a reconciliation task was registered (the caller owes one
// RunDeferred for it even on failure).
func (s *ApproveService) approveOne(ctx context.Context, id int64, moderator domain.Moderator) (revID int64, scheduled bool, err error) {
	entry, err := s.repo.GetByID(id)
	if err != nil {
		return 0, false, err
	}
	if err := s.checkApprovable(entry); err != nil {
		return 0, false, err
	}

	change, err := domain.DecodeChange(entry)
	if err != nil {
		return 0, false, err
	}

	// Register the attribution-correction task before invoking the engine;
	// the engine's side-effect hooks consult it synchronously during Save.
	// Registration also raises approve mode so the replay is not requeued.
	s.wave.RegisterTask(entry.Page(), entry.AuthorName, change.Kind, reconcile.TaskData{
		IP:        entry.IP,
		XFF:       entry.XFF,
		UserAgent: entry.UserAgent,
		Tags:      entry.TagList(),
		Timestamp: entry.Timestamp,
	})

	result, err := s.engine.Save(ctx, saveRequest(entry, change), s.wave)
	if err != nil {
		if errors.Is(err, common.ErrSaveConflict) {
			if cerr := s.repo.MarkConflict(entry.ID, true); cerr != nil {
				s.log.Error().Err(cerr).Int64("entry_id", entry.ID).Msg("conflict flag update failed")
			}
			return 0, true, common.ErrSaveConflict
		}
		return 0, true, err
	}

	merged, err := s.repo.MarkMerged(entry.ID, result.RevisionID)
	if err != nil {
		return 0, true, err
	}
	if !merged {
		// Another process approved concurrently; its revision stands.
		return 0, true, common.ErrAlreadyMerged
	}

	s.log.Info().
		Int64("entry_id", entry.ID).
		Int64("rev_id", result.RevisionID).
		Str("moderator", moderator.Name).
		Str("author", entry.AuthorName).
		Msg("entry approved")
	return result.RevisionID, true, nil
}

// Merge resolves a conflicted entry: the moderator supplies manually merged
// content, which is saved against the current head with the original
// author's attribution.
func (s *ApproveService) Merge(ctx context.Context, id int64, mergedText string, moderator domain.Moderator) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.wave.Reset()

	entry, err := s.repo.GetByID(id)
	if err != nil {
		return 0, err
	}
	if err := s.checkApprovable(entry); err != nil {
		return 0, err
	}

	headID, err := s.engine.LatestRevisionID(ctx, entry.Page())
	if err != nil {
		return 0, err
	}

	s.wave.RegisterTask(entry.Page(), entry.AuthorName, domain.KindEdit, reconcile.TaskData{
		IP:        entry.IP,
		XFF:       entry.XFF,
		UserAgent: entry.UserAgent,
		Tags:      entry.TagList(),
		Timestamp: entry.Timestamp,
	})
	defer func() {
		if derr := s.wave.RunDeferred(ctx); derr != nil {
			s.log.Error().Err(derr).Int64("entry_id", id).Msg("reconciliation after merge failed")
		}
	}()

	result, err := s.engine.Save(ctx, contentsave.SaveRequest{
		Kind:      domain.KindEdit,
		Page:      entry.Page(),
		Text:      mergedText,
		Summary:   entry.Comment,
		Author:    contentsave.Actor{ID: entry.AuthorID, Name: entry.AuthorName},
		Minor:     entry.Minor,
		Bot:       entry.Bot,
		BaseRevID: headID,
	}, s.wave)
	if err != nil {
		return 0, err
	}

	merged, err := s.repo.MarkMerged(entry.ID, result.RevisionID)
	if err != nil {
		return 0, err
	}
	if !merged {
		return 0, common.ErrAlreadyMerged
	}
	return result.RevisionID, nil
}

// Reject rejects a single pending entry. Already-merged entries cannot be
// rejected.
func (s *ApproveService) Reject(ctx context.Context, id int64, moderator domain.Moderator) error {
	entry, err := s.repo.GetByID(id)
	if err != nil {
		return err
	}
	if entry.MergedRevID != 0 {
		return common.ErrAlreadyMerged
	}
	if entry.Rejected {
		return common.ErrAlreadyRejected
	}

	affected, err := s.repo.MarkRejected([]int64{id}, moderator.ID, moderator.Name, false)
	if err != nil {
		return err
	}
	if affected == 0 {
		// Lost a race with a concurrent approval or rejection
		fresh, ferr := s.repo.GetByID(id)
		if ferr == nil && fresh.MergedRevID != 0 {
			return common.ErrAlreadyMerged
		}
		return common.ErrAlreadyRejected
	}

	s.log.Info().
		Int64("entry_id", id).
		Str("moderator", moderator.Name).
		Msg("entry rejected")
	return nil
}

// RejectBatch rejects the given ids, flagged with batch provenance. Merged
// entries among them are skipped; the returned count covers only rows
// actually rejected.
func (s *ApproveService) RejectBatch(ctx context.Context, ids []int64, moderator domain.Moderator) (int64, error) {
	affected, err := s.repo.MarkRejected(ids, moderator.ID, moderator.Name, true)
	if err != nil {
		return 0, err
	}
	s.log.Info().
		Int64("affected", affected).
		Int("requested", len(ids)).
		Str("moderator", moderator.Name).
		Msg("batch reject")
	return affected, nil
}

func saveRequest(entry *domain.ModEntry, change domain.Change) contentsave.SaveRequest {
	req := contentsave.SaveRequest{
		Kind:    change.Kind,
		Page:    entry.Page(),
		Author:  contentsave.Actor{ID: entry.AuthorID, Name: entry.AuthorName},
		Summary: entry.Comment,
	}
	switch change.Kind {
	case domain.KindEdit:
		req.Text = change.Edit.Text
		req.Minor = change.Edit.Minor
		req.Bot = change.Edit.Bot
		req.BaseRevID = change.Edit.BaseRevID
	case domain.KindUpload:
		req.Text = change.Upload.Text
		req.StashKey = change.Upload.StashKey
	case domain.KindMove:
		req.MoveTo = change.Move.To
		req.Summary = change.Move.Reason
	}
	return req
}
