package service

import (
	"context"
	"time"

	"github.com/angwiki/modqueue-backend/internal/common"
	"github.com/angwiki/modqueue-backend/internal/config"
	"github.com/angwiki/modqueue-backend/internal/domain"
	"github.com/angwiki/modqueue-backend/internal/repository"
	"github.com/angwiki/modqueue-backend/pkg/cache"
	"github.com/rs/zerolog"
)

// ContentModelWikitext is the only content model the pipeline can faithfully
// stage; other models bypass moderation entirely (known limitation).
const ContentModelWikitext = "wikitext"

// rejectedBySystem is recorded as the rejecting moderator on auto-rejections
const rejectedBySystem = "moderation-blocker"

// VetoHook lets an external policy pass an action through moderation
// untouched. Returning true vetoes interception.
type VetoHook func(actor domain.Actor, page domain.PageRef) bool

// Watchlist is the wiki's watch/unwatch capability; effects are external and
// independent of moderation outcome.
type Watchlist interface {
	Watch(ctx context.Context, actor domain.Actor, page domain.PageRef) error
	Unwatch(ctx context.Context, actor domain.Actor, page domain.PageRef) error
}

// WatchIntent is the actor's watchlist choice carried with the action
type WatchIntent int

const (
	WatchNoChange WatchIntent = iota
	WatchAdd
	WatchRemove
)

// Notifier delivers moderator notifications; delivery is external, the core
// only decides when to fire.
type Notifier interface {
	NotifyQueued(ctx context.Context, entry *domain.ModEntry)
}

// EditRequest is an intercepted edit attempt
type EditRequest struct {
	Actor        domain.Actor
	Page         domain.PageRef
	Text         string // full page text after the edit
	Section      string // edit-form section id, "" for whole-page edits
	SectionText  string // replacement text for that section
	Summary      string
	Minor        bool
	Bot          bool
	BaseRevID    int64
	OldLen       int
	NewPage      bool
	ContentModel string
	Tags         []string
	Watch        WatchIntent
}

// UploadRequest is an intercepted file upload attempt
type UploadRequest struct {
	Actor    domain.Actor
	Page     domain.PageRef
	StashKey string
	Text     string // description page text
	Summary  string
	Tags     []string
	Watch    WatchIntent
}

// MoveRequest is an intercepted page move attempt
type MoveRequest struct {
	Actor  domain.Actor
	From   domain.PageRef
	To     domain.PageRef
	Reason string
	Tags   []string
}

// InterceptService is the hook point in front of the content engine: every
// content-modifying action either proceeds untouched (nil return) or is
// diverted into the entry store and aborted with common.QueuedError.
type InterceptService struct {
	repo      *repository.EntryRepository
	policy    *SkipPolicy
	cache     cache.Service
	notifier  Notifier
	watchlist Watchlist
	cfg       config.ModerationConfig
	vetoes    []VetoHook
	log       zerolog.Logger
}

// NewInterceptService creates the interception pipeline
func NewInterceptService(
	repo *repository.EntryRepository,
	policy *SkipPolicy,
	cacheSvc cache.Service,
	cfg config.ModerationConfig,
	log zerolog.Logger,
) *InterceptService {
	return &InterceptService{
		repo:   repo,
		policy: policy,
		cache:  cacheSvc,
		cfg:    cfg,
		log:    log,
	}
}

// SetNotifier sets the moderator notifier (optional dependency)
func (s *InterceptService) SetNotifier(n Notifier) {
	s.notifier = n
}

// SetWatchlist sets the watchlist capability (optional dependency)
func (s *InterceptService) SetWatchlist(w Watchlist) {
	s.watchlist = w
}

// RegisterVeto adds a pass-through escape hatch consulted before queueing
func (s *InterceptService) RegisterVeto(hook VetoHook) {
	s.vetoes = append(s.vetoes, hook)
}

// InterceptEdit diverts an edit into the moderation queue. A nil return
// means the edit may proceed through the content engine unmodified.
func (s *InterceptService) InterceptEdit(ctx context.Context, req EditRequest) error {
	if s.policy.CanSkip(req.Actor, req.Page.Namespace, -1) {
		return nil
	}
	if s.vetoed(req.Actor, req.Page) {
		return nil
	}
	if req.ContentModel != "" && req.ContentModel != ContentModelWikitext {
		// Cannot faithfully stage non-text content; such edits bypass
		// moderation entirely.
		s.log.Debug().Str("model", req.ContentModel).Str("title", req.Page.Title).
			Msg("non-text content model, not intercepting")
		return nil
	}

	preloadID := req.Actor.PreloadID()
	now := time.Now()

	// Actors without a stable fingerprint never get a slot; coalescing on
	// the bare bracket prefix would cross-contaminate anonymous users.
	var existing *domain.ModEntry
	if req.Actor.CanPreload() {
		var err error
		existing, err = s.repo.FindPreloadable(preloadID, req.Page)
		if err != nil {
			return err
		}
	}

	if existing != nil {
		// Coalesce the repeat edit into the existing queue entry. A section
		// edit is applied on top of the *stored* pending text, not the live
		// page, so an earlier edit to another section is not lost.
		text := req.Text
		if req.Section != "" {
			text = replaceSection(existing.Text, req.Section, req.SectionText)
		}
		existing.Timestamp = now
		existing.Text = text
		existing.Comment = req.Summary
		existing.Minor = req.Minor
		existing.Bot = req.Bot
		existing.NewLen = len(text)
		existing.BaseRevID = req.BaseRevID
		existing.IP = req.Actor.IP
		existing.XFF = req.Actor.XFF
		existing.UserAgent = req.Actor.UserAgent
		existing.MergeTags(req.Tags)

		if err := s.repo.UpdatePreloaded(existing.ID, existing); err != nil {
			return err
		}

		// An actor blocked since their first submission gets the same
		// invisible auto-rejection on the coalesced entry.
		if req.Actor.Blocked && !existing.Rejected {
			if err := s.repo.MarkRejectedAuto(existing.ID, rejectedBySystem); err != nil {
				s.log.Error().Err(err).Int64("entry_id", existing.ID).Msg("auto-reject of blocked actor failed")
			}
		}

		s.afterQueued(ctx, existing, req.Watch, req.Actor)
		return &common.QueuedError{EntryID: existing.ID}
	}

	entry := &domain.ModEntry{
		Type:        domain.EntryTypeEdit,
		Timestamp:   now,
		AuthorID:    req.Actor.ID,
		AuthorName:  req.Actor.Name,
		Namespace:   req.Page.Namespace,
		Title:       req.Page.Title,
		Comment:     req.Summary,
		Minor:       req.Minor,
		Bot:         req.Bot,
		NewPage:     req.NewPage,
		BaseRevID:   req.BaseRevID,
		OldLen:      req.OldLen,
		NewLen:      len(req.Text),
		Text:        req.Text,
		IP:          req.Actor.IP,
		XFF:         req.Actor.XFF,
		UserAgent:   req.Actor.UserAgent,
		PreloadID:   preloadID,
		Preloadable: req.Actor.CanPreload(),
	}
	entry.SetTagList(req.Tags)

	return s.queue(ctx, entry, req.Watch, req.Actor)
}

// InterceptUpload diverts a file upload into the moderation queue
func (s *InterceptService) InterceptUpload(ctx context.Context, req UploadRequest) error {
	if s.policy.CanSkip(req.Actor, req.Page.Namespace, -1) {
		return nil
	}
	if s.vetoed(req.Actor, req.Page) {
		return nil
	}

	entry := &domain.ModEntry{
		Type:        domain.EntryTypeUpload,
		Timestamp:   time.Now(),
		AuthorID:    req.Actor.ID,
		AuthorName:  req.Actor.Name,
		Namespace:   req.Page.Namespace,
		Title:       req.Page.Title,
		Comment:     req.Summary,
		NewPage:     true,
		Text:        req.Text,
		NewLen:      len(req.Text),
		StashKey:    req.StashKey,
		IP:          req.Actor.IP,
		XFF:         req.Actor.XFF,
		UserAgent:   req.Actor.UserAgent,
		PreloadID:   req.Actor.PreloadID(),
		Preloadable: req.Actor.CanPreload(),
	}
	entry.SetTagList(req.Tags)

	return s.queue(ctx, entry, req.Watch, req.Actor)
}

// InterceptMove diverts a page move into the moderation queue. Both ends are
// checked: moving between a moderated and an exempt namespace is moderated.
func (s *InterceptService) InterceptMove(ctx context.Context, req MoveRequest) error {
	if s.policy.CanSkip(req.Actor, req.From.Namespace, req.To.Namespace) {
		return nil
	}
	if s.vetoed(req.Actor, req.From) {
		return nil
	}

	entry := &domain.ModEntry{
		Type:        domain.EntryTypeMove,
		Timestamp:   time.Now(),
		AuthorID:    req.Actor.ID,
		AuthorName:  req.Actor.Name,
		Namespace:   req.From.Namespace,
		Title:       req.From.Title,
		Namespace2:  req.To.Namespace,
		Title2:      req.To.Title,
		Comment:     req.Reason,
		IP:          req.Actor.IP,
		XFF:         req.Actor.XFF,
		UserAgent:   req.Actor.UserAgent,
		PreloadID:   req.Actor.PreloadID(),
		Preloadable: false, // moves do not coalesce
	}
	entry.SetTagList(req.Tags)

	return s.queue(ctx, entry, WatchNoChange, req.Actor)
}

func (s *InterceptService) vetoed(actor domain.Actor, page domain.PageRef) bool {
	for _, hook := range s.vetoes {
		if hook(actor, page) {
			return true
		}
	}
	return false
}

// queue persists the entry and aborts the original action with the
// distinguishable queued signal.
func (s *InterceptService) queue(ctx context.Context, entry *domain.ModEntry, watch WatchIntent, actor domain.Actor) error {
	if err := s.repo.Insert(entry); err != nil {
		return err
	}

	// A blocked actor's entry is auto-rejected but stays preloadable: the
	// actor keeps the normal editing experience and does not learn about
	// the block from the queue's behavior.
	if actor.Blocked {
		if err := s.repo.MarkRejectedAuto(entry.ID, rejectedBySystem); err != nil {
			s.log.Error().Err(err).Int64("entry_id", entry.ID).Msg("auto-reject of blocked actor failed")
		}
	}

	s.afterQueued(ctx, entry, watch, actor)
	return &common.QueuedError{EntryID: entry.ID}
}

// afterQueued fires the best-effort side effects; none may fail the queue
// operation itself.
func (s *InterceptService) afterQueued(ctx context.Context, entry *domain.ModEntry, watch WatchIntent, actor domain.Actor) {
	if s.watchlist != nil {
		var err error
		switch watch {
		case WatchAdd:
			err = s.watchlist.Watch(ctx, actor, entry.Page())
		case WatchRemove:
			err = s.watchlist.Unwatch(ctx, actor, entry.Page())
		}
		if err != nil {
			s.log.Warn().Err(err).Str("title", entry.Title).Msg("watchlist update failed")
		}
	}

	if s.cache != nil {
		if err := s.cache.BumpNewest(ctx, entry.Timestamp); err != nil {
			s.log.Warn().Err(err).Msg("pending-entry timestamp bump failed")
		}
		_ = s.cache.InvalidatePendingCount(ctx)
	}

	if s.notifier != nil {
		if !s.cfg.NotifyNewOnly || entry.NewPage {
			s.notifier.NotifyQueued(ctx, entry)
		}
	}
}
