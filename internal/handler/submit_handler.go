package handler

import (
	"bytes"
	"errors"
	"io"
	"net/http"

	"github.com/angwiki/modqueue-backend/internal/common"
	"github.com/angwiki/modqueue-backend/internal/contentsave"
	"github.com/angwiki/modqueue-backend/internal/domain"
	"github.com/angwiki/modqueue-backend/internal/middleware"
	"github.com/angwiki/modqueue-backend/internal/service"
	"github.com/angwiki/modqueue-backend/pkg/stash"
	"github.com/gin-gonic/gin"
)

// SubmitHandler receives content-modifying actions. Each action runs through
// the interception pipeline first; an intercepted action answers 202 with the
// queue entry id, a passed-through action is saved immediately and answers
// with the new revision id.
type SubmitHandler struct {
	intercept *service.InterceptService
	engine    contentsave.Engine
	stash     stash.Store
}

// NewSubmitHandler creates a new SubmitHandler
func NewSubmitHandler(intercept *service.InterceptService, engine contentsave.Engine, stashStore stash.Store) *SubmitHandler {
	return &SubmitHandler{intercept: intercept, engine: engine, stash: stashStore}
}

type editBody struct {
	Namespace    int      `json:"namespace"`
	Title        string   `json:"title" binding:"required"`
	Text         string   `json:"text"`
	Section      string   `json:"section"`
	SectionText  string   `json:"section_text"`
	Summary      string   `json:"summary"`
	Minor        bool     `json:"minor"`
	Bot          bool     `json:"bot"`
	BaseRevID    int64    `json:"base_rev_id"`
	OldLen       int      `json:"old_len"`
	NewPage      bool     `json:"new_page"`
	ContentModel string   `json:"content_model"`
	Tags         []string `json:"tags"`
	Watchlist    string   `json:"watchlist"` // "watch", "unwatch" or empty
}

// Edit handles POST /api/v1/submit/edit
func (h *SubmitHandler) Edit(c *gin.Context) {
	var body editBody
	if err := c.ShouldBindJSON(&body); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	actor := middleware.GetActor(c)
	page := domain.PageRef{Namespace: body.Namespace, Title: body.Title}

	err := h.intercept.InterceptEdit(c.Request.Context(), service.EditRequest{
		Actor:        actor,
		Page:         page,
		Text:         body.Text,
		Section:      body.Section,
		SectionText:  body.SectionText,
		Summary:      body.Summary,
		Minor:        body.Minor,
		Bot:          body.Bot,
		BaseRevID:    body.BaseRevID,
		OldLen:       body.OldLen,
		NewPage:      body.NewPage,
		ContentModel: body.ContentModel,
		Tags:         body.Tags,
		Watch:        watchIntent(body.Watchlist),
	})
	if h.answered(c, domain.EntryTypeEdit, err) {
		return
	}

	result, err := h.engine.Save(c.Request.Context(), contentsave.SaveRequest{
		Kind:      domain.KindEdit,
		Page:      page,
		Text:      body.Text,
		Summary:   body.Summary,
		Author:    contentsave.Actor{ID: actor.ID, Name: actor.Name},
		Minor:     body.Minor,
		Bot:       body.Bot,
		BaseRevID: body.BaseRevID,
		IP:        actor.IP,
		XFF:       actor.XFF,
		UserAgent: actor.UserAgent,
	}, contentsave.NopObserver{})
	h.saved(c, result, err)
}

type uploadBody struct {
	Namespace int      `json:"namespace"`
	Title     string   `json:"title" binding:"required"`
	StashKey  string   `json:"stash_key" binding:"required"`
	Text      string   `json:"text"`
	Summary   string   `json:"summary"`
	Tags      []string `json:"tags"`
	Watchlist string   `json:"watchlist"`
}

// Upload handles POST /api/v1/submit/upload. The file payload must already be
// staged via Stage; only the stash key travels with the submission.
func (h *SubmitHandler) Upload(c *gin.Context) {
	var body uploadBody
	if err := c.ShouldBindJSON(&body); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	actor := middleware.GetActor(c)
	page := domain.PageRef{Namespace: body.Namespace, Title: body.Title}

	err := h.intercept.InterceptUpload(c.Request.Context(), service.UploadRequest{
		Actor:    actor,
		Page:     page,
		StashKey: body.StashKey,
		Text:     body.Text,
		Summary:  body.Summary,
		Tags:     body.Tags,
		Watch:    watchIntent(body.Watchlist),
	})
	if h.answered(c, domain.EntryTypeUpload, err) {
		return
	}

	result, err := h.engine.Save(c.Request.Context(), contentsave.SaveRequest{
		Kind:      domain.KindUpload,
		Page:      page,
		Text:      body.Text,
		Summary:   body.Summary,
		Author:    contentsave.Actor{ID: actor.ID, Name: actor.Name},
		StashKey:  body.StashKey,
		IP:        actor.IP,
		XFF:       actor.XFF,
		UserAgent: actor.UserAgent,
	}, contentsave.NopObserver{})
	h.saved(c, result, err)
}

type moveBody struct {
	FromNamespace int      `json:"from_namespace"`
	FromTitle     string   `json:"from_title" binding:"required"`
	ToNamespace   int      `json:"to_namespace"`
	ToTitle       string   `json:"to_title" binding:"required"`
	Reason        string   `json:"reason"`
	Tags          []string `json:"tags"`
}

// Move handles POST /api/v1/submit/move
func (h *SubmitHandler) Move(c *gin.Context) {
	var body moveBody
	if err := c.ShouldBindJSON(&body); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	actor := middleware.GetActor(c)
	from := domain.PageRef{Namespace: body.FromNamespace, Title: body.FromTitle}
	to := domain.PageRef{Namespace: body.ToNamespace, Title: body.ToTitle}

	err := h.intercept.InterceptMove(c.Request.Context(), service.MoveRequest{
		Actor:  actor,
		From:   from,
		To:     to,
		Reason: body.Reason,
		Tags:   body.Tags,
	})
	if h.answered(c, domain.EntryTypeMove, err) {
		return
	}

	result, err := h.engine.Save(c.Request.Context(), contentsave.SaveRequest{
		Kind:      domain.KindMove,
		Page:      from,
		MoveTo:    to,
		Summary:   body.Reason,
		Author:    contentsave.Actor{ID: actor.ID, Name: actor.Name},
		IP:        actor.IP,
		XFF:       actor.XFF,
		UserAgent: actor.UserAgent,
	}, contentsave.NopObserver{})
	h.saved(c, result, err)
}

// Stage handles POST /api/v1/submit/stash: stores the raw upload payload and
// returns the stash key a later upload submission references.
func (h *SubmitHandler) Stage(c *gin.Context) {
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, 64<<20))
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "Failed to read upload payload", err)
		return
	}
	if len(data) == 0 {
		common.ErrorResponse(c, http.StatusBadRequest, "Empty upload payload", nil)
		return
	}

	key, err := h.stash.Put(c.Request.Context(), bytes.NewReader(data), c.ContentType(), int64(len(data)))
	if err != nil {
		common.ErrorResponse(c, http.StatusInternalServerError, "Failed to stage upload", err)
		return
	}

	common.SuccessResponse(c, gin.H{"stash_key": key}, nil)
}

// watchIntent decodes the submission's watchlist parameter; unknown values
// leave the watchlist untouched.
func watchIntent(v string) service.WatchIntent {
	switch v {
	case "watch":
		return service.WatchAdd
	case "unwatch":
		return service.WatchRemove
	default:
		return service.WatchNoChange
	}
}

// answered writes the queued/error response for an interception outcome.
// It reports true when the request is finished; a false return with nil error
// means the action passed through and the caller must perform the save.
func (h *SubmitHandler) answered(c *gin.Context, entryType string, err error) bool {
	if err == nil {
		return false
	}
	var queued *common.QueuedError
	if errors.As(err, &queued) {
		middleware.CountQueued(entryType)
		c.JSON(http.StatusAccepted, common.APIResponse{
			Data: gin.H{
				"queued":   true,
				"entry_id": queued.EntryID,
			},
		})
		return true
	}
	common.ErrorResponse(c, http.StatusInternalServerError, "Failed to process submission", err)
	return true
}

func (h *SubmitHandler) saved(c *gin.Context, result *contentsave.SaveResult, err error) {
	if err != nil {
		if errors.Is(err, common.ErrSaveConflict) {
			common.ErrorResponse(c, http.StatusConflict, "Edit conflict", err)
			return
		}
		common.ErrorResponse(c, http.StatusInternalServerError, "Failed to save", err)
		return
	}
	common.SuccessResponse(c, gin.H{
		"queued":      false,
		"revision_id": result.RevisionID,
		"timestamp":   result.Timestamp,
	}, nil)
}
