// Package reconcile rewrites the stamps the content engine puts on replayed
// saves. The engine records committer = approving request and timestamp =
// now; after a wave of approvals this package overwrites those with the
// original author's identity, origin metadata and submission time, without
// ever reordering the version history.
package reconcile

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/angwiki/modqueue-backend/internal/contentsave"
	"github.com/angwiki/modqueue-backend/internal/domain"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// TaskData is the correction payload registered before each approval replay
type TaskData struct {
	IP        string
	XFF       string
	UserAgent string
	Tags      []string
	Timestamp time.Time
}

// taskKey identifies the save a correction applies to
type taskKey struct {
	page   domain.PageRef
	author string
	kind   domain.EntryKind
}

// revKey identifies a save independent of kind
type revKey struct {
	page   domain.PageRef
	author string
}

// revCandidate is one scheduled revision-timestamp correction, held back
// until the pass can run the predecessor-ordering check
type revCandidate struct {
	revID    int64
	parentID int64
	newTS    time.Time
}

// Wave is one reconciliation scope: task registry, accumulated column
// updates and use-count. It is explicitly constructed per approval-processing
// worker and discarded when the wave completes; nothing here is a process
// global. It implements contentsave.Observer so the engine's side-effect
// hooks feed it directly.
type Wave struct {
	mu sync.Mutex

	db  *gorm.DB
	log zerolog.Logger

	tasks    map[taskKey]*TaskData
	updates  *PendingUpdates
	useCount int

	revCandidates []revCandidate
	// log rows waiting for their revision id, keyed by (page, author)
	pendingLogIDs map[revKey][]int64
	lastRevID     map[revKey]int64

	approveMode bool
}

// NewWave creates an empty reconciliation wave
func NewWave(db *gorm.DB, log zerolog.Logger) *Wave {
	w := &Wave{db: db, log: log}
	w.resetLocked()
	return w
}

func (w *Wave) resetLocked() {
	w.tasks = make(map[taskKey]*TaskData)
	w.updates = NewPendingUpdates()
	w.revCandidates = nil
	w.pendingLogIDs = make(map[revKey][]int64)
	w.lastRevID = make(map[revKey]int64)
	w.useCount = 0
	w.approveMode = false
}

// Reset clears the whole registry. Callers must reset between independent
// approval runs so stale tasks cannot contaminate the next wave.
func (w *Wave) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.resetLocked()
}

// InApproveMode reports whether an approval replay is in flight. The skip
// policy consults this to let the replayed save through unintercepted.
func (w *Wave) InApproveMode() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.approveMode
}

// RegisterTask records the correction data for one upcoming replay and
// schedules its deferred pass (use-count++). Approve mode stays on until the
// last scheduled pass has run.
func (w *Wave) RegisterTask(page domain.PageRef, authorName string, kind domain.EntryKind, data TaskData) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tasks[taskKey{page: page, author: authorName, kind: kind}] = &data
	w.useCount++
	w.approveMode = true
}

// task looks up the registered correction for a save. A task is matched by
// every hook that fires for its approval; repeat matches are expected and all
// apply the same corrected values.
func (w *Wave) task(page domain.PageRef, authorName string, kind domain.EntryKind) *TaskData {
	return w.tasks[taskKey{page: page, author: authorName, kind: kind}]
}

// anyKindTask matches ignoring kind; revision hooks don't know whether the
// save was an edit, upload or move.
func (w *Wave) anyKindTask(page domain.PageRef, authorName string) (*TaskData, domain.EntryKind) {
	for _, kind := range []domain.EntryKind{domain.KindEdit, domain.KindUpload, domain.KindMove} {
		if t := w.task(page, authorName, kind); t != nil {
			return t, kind
		}
	}
	return nil, domain.KindEdit
}

// RevisionWritten schedules the history-timestamp correction for the row the
// engine just wrote. The actual update waits for the pass, where the
// predecessor-ordering check runs with all of the wave's pending values.
func (w *Wave) RevisionWritten(rev *contentsave.Revision) {
	w.mu.Lock()
	defer w.mu.Unlock()

	page := domain.PageRef{Namespace: rev.Namespace, Title: rev.Title}
	t, _ := w.anyKindTask(page, rev.UserText)
	if t == nil {
		return
	}

	w.revCandidates = append(w.revCandidates, revCandidate{
		revID:    rev.ID,
		parentID: rev.ParentID,
		newTS:    t.Timestamp,
	})
	w.lastRevID[revKey{page: page, author: rev.UserText}] = rev.ID
}

// RecentChangeWritten overrides the feed row's origin metadata with the
// original author's values.
func (w *Wave) RecentChangeWritten(rc *contentsave.RecentChange) {
	w.mu.Lock()
	defer w.mu.Unlock()

	page := domain.PageRef{Namespace: rc.Namespace, Title: rc.Title}
	t, _ := w.anyKindTask(page, rc.UserText)
	if t == nil {
		return
	}

	w.updates.Add("recent_changes", "rc_ip", rc.ID, t.IP)
	w.updates.Add("recent_changes", "rc_timestamp", rc.ID, t.Timestamp)
	if len(t.Tags) > 0 {
		w.updates.Add("recent_changes", "rc_tags", rc.ID, joinTags(t.Tags))
	}
}

// ChangeAuditWritten overrides the audit row the engine just wrote with the
// original author's origin metadata. Only rows produced by this wave's
// replays are touched; an earlier audit row by the same author on the same
// page records a real connection and must stay as written.
func (w *Wave) ChangeAuditWritten(ca *contentsave.ChangeAudit) {
	w.mu.Lock()
	defer w.mu.Unlock()

	page := domain.PageRef{Namespace: ca.Namespace, Title: ca.Title}
	t := w.task(page, ca.UserText, kindFromLogType(ca.Action))
	if t == nil {
		return
	}

	w.updates.Add("change_audit", "ca_ip", ca.ID, t.IP)
	w.updates.Add("change_audit", "ca_xff", ca.ID, t.XFF)
	w.updates.Add("change_audit", "ca_agent", ca.ID, t.UserAgent)
	w.updates.Add("change_audit", "ca_timestamp", ca.ID, t.Timestamp)
}

// LogWritten remembers audit-log rows written without a revision id; the
// pass patches the id in once the revision hook has supplied it.
func (w *Wave) LogWritten(le *contentsave.LogEntry) {
	w.mu.Lock()
	defer w.mu.Unlock()

	page := domain.PageRef{Namespace: le.Namespace, Title: le.Title}
	kind := kindFromLogType(le.Type)
	t := w.task(page, le.UserText, kind)
	if t == nil {
		return
	}

	w.updates.Add("log_entries", "log_timestamp", le.ID, t.Timestamp)
	if le.RevisionID == 0 {
		key := revKey{page: page, author: le.UserText}
		w.pendingLogIDs[key] = append(w.pendingLogIDs[key], le.ID)
	}
}

// RunDeferred is the deferred reconciliation pass. Every scheduled approval
// triggers one call; only the last outstanding call actually flushes, which
// batches a whole wave of approvals into a single pass after all side effects
// fired. The pass runs in one transaction; per-column failures are logged and
// skipped rather than aborting an already-committed content save.
func (w *Wave) RunDeferred(ctx context.Context) error {
	w.mu.Lock()
	if w.useCount > 0 {
		w.useCount--
	}
	if w.useCount > 0 {
		w.mu.Unlock()
		return nil
	}

	w.applyRevCandidatesLocked()
	w.applyLogRevIDsLocked()

	updates := w.updates
	w.updates = NewPendingUpdates()
	w.revCandidates = nil
	w.pendingLogIDs = make(map[revKey][]int64)
	w.approveMode = false
	w.mu.Unlock()

	if updates.Empty() {
		return nil
	}

	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates.Flush(tx, w.log)
		return nil
	})
	if err != nil {
		w.log.Error().Err(err).Msg("reconciliation pass failed")
		return err
	}
	return nil
}

// applyRevCandidatesLocked runs the history-ordering-safety check and turns
// surviving candidates into rev_timestamp updates. Candidates apply
// oldest-first so a predecessor corrected in the same wave is accounted for.
func (w *Wave) applyRevCandidatesLocked() {
	cands := make([]revCandidate, len(w.revCandidates))
	copy(cands, w.revCandidates)
	sort.Slice(cands, func(i, j int) bool { return cands[i].newTS.Before(cands[j].newTS) })

	for _, c := range cands {
		if c.parentID != 0 {
			predTS, err := w.effectivePredecessorTS(c.parentID)
			if err != nil {
				w.log.Warn().Err(err).Int64("rev_id", c.revID).
					Msg("predecessor lookup failed, skipping timestamp correction")
				continue
			}
			if predTS.After(c.newTS) {
				// Correcting this timestamp would invert history order
				w.log.Info().Int64("rev_id", c.revID).
					Time("candidate", c.newTS).
					Time("predecessor", predTS).
					Msg("timestamp correction skipped to preserve history order")
				continue
			}
		}
		w.updates.Add("revisions", "rev_timestamp", c.revID, c.newTS)
	}
}

// effectivePredecessorTS returns the predecessor's timestamp after pending
// updates in this wave, falling back to the stored row.
func (w *Wave) effectivePredecessorTS(parentID int64) (time.Time, error) {
	if v, ok := w.updates.Get("revisions", "rev_timestamp", parentID); ok {
		if ts, ok := v.(time.Time); ok {
			return ts, nil
		}
	}
	var rev contentsave.Revision
	err := w.db.Select("rev_timestamp").Where("id = ?", parentID).First(&rev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, errors.New("predecessor revision missing")
	}
	if err != nil {
		return time.Time{}, err
	}
	return rev.Timestamp, nil
}

// applyLogRevIDsLocked patches audit-log rows whose revision id only became
// known after the deferred post-commit step.
func (w *Wave) applyLogRevIDsLocked() {
	for key, logIDs := range w.pendingLogIDs {
		revID, ok := w.lastRevID[key]
		if !ok || revID == 0 {
			continue
		}
		for _, logID := range logIDs {
			w.updates.Add("log_entries", "log_rev_id", logID, revID)
		}
	}
}

func joinTags(tags []string) string {
	return strings.Join(tags, "\n")
}

func kindFromLogType(logType string) domain.EntryKind {
	switch logType {
	case domain.EntryTypeUpload:
		return domain.KindUpload
	case domain.EntryTypeMove:
		return domain.KindMove
	default:
		return domain.KindEdit
	}
}

