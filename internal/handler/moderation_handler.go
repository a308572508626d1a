package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/angwiki/modqueue-backend/internal/common"
	"github.com/angwiki/modqueue-backend/internal/domain"
	"github.com/angwiki/modqueue-backend/internal/middleware"
	"github.com/angwiki/modqueue-backend/internal/repository"
	"github.com/angwiki/modqueue-backend/internal/service"
	"github.com/angwiki/modqueue-backend/pkg/cache"
	"github.com/gin-gonic/gin"
)

// ModerationHandler serves the moderator review API
type ModerationHandler struct {
	repo     *repository.EntryRepository
	approval *service.ApproveService
	cache    cache.Service
}

// NewModerationHandler creates a new ModerationHandler
func NewModerationHandler(repo *repository.EntryRepository, approval *service.ApproveService, cacheSvc cache.Service) *ModerationHandler {
	return &ModerationHandler{repo: repo, approval: approval, cache: cacheSvc}
}

// List handles GET /api/v1/moderation/entries
func (h *ModerationHandler) List(c *gin.Context) {
	status := c.Query("status")
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	entries, total, err := h.repo.List(status, page, limit)
	if err != nil {
		common.ErrorResponse(c, http.StatusInternalServerError, "Failed to list entries", err)
		return
	}

	if moderator := middleware.GetModerator(c); moderator.ID != 0 {
		_ = h.cache.MarkSeen(c.Request.Context(), strconv.FormatInt(moderator.ID, 10), time.Now())
	}

	common.SuccessResponse(c, entries, &common.Meta{
		Page:  page,
		Limit: limit,
		Total: total,
	})
}

// Get handles GET /api/v1/moderation/entries/:id
func (h *ModerationHandler) Get(c *gin.Context) {
	id, err := entryID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "Invalid entry ID", err)
		return
	}

	entry, err := h.repo.GetByID(id)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			common.ErrorResponse(c, http.StatusNotFound, "Entry not found", err)
			return
		}
		common.ErrorResponse(c, http.StatusInternalServerError, "Failed to get entry", err)
		return
	}

	common.SuccessResponse(c, entry, nil)
}

// PendingCount handles GET /api/v1/moderation/pending-count
func (h *ModerationHandler) PendingCount(c *gin.Context) {
	if count, ok, err := h.cache.PendingCount(c.Request.Context()); err == nil && ok {
		common.SuccessResponse(c, gin.H{"count": count}, nil)
		return
	}

	count, err := h.repo.CountPending()
	if err != nil {
		common.ErrorResponse(c, http.StatusInternalServerError, "Failed to count pending entries", err)
		return
	}
	_ = h.cache.SetPendingCount(c.Request.Context(), count)
	middleware.SetPendingEntries(float64(count))

	common.SuccessResponse(c, gin.H{"count": count}, nil)
}

// Badge handles GET /api/v1/moderation/badge: whether entries were queued
// since the moderator last opened the queue. Served from cache only; with no
// cache the badge simply stays off.
func (h *ModerationHandler) Badge(c *gin.Context) {
	moderator := middleware.GetModerator(c)

	newest, err := h.cache.Newest(c.Request.Context())
	if err != nil || newest.IsZero() {
		common.SuccessResponse(c, gin.H{"has_new": false}, nil)
		return
	}

	lastSeen, err := h.cache.LastSeen(c.Request.Context(), strconv.FormatInt(moderator.ID, 10))
	if err != nil {
		common.SuccessResponse(c, gin.H{"has_new": false}, nil)
		return
	}

	common.SuccessResponse(c, gin.H{"has_new": newest.After(lastSeen)}, nil)
}

// Approve handles POST /api/v1/moderation/entries/:id/approve
func (h *ModerationHandler) Approve(c *gin.Context) {
	id, err := entryID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "Invalid entry ID", err)
		return
	}

	moderator := middleware.GetModerator(c)
	revID, err := h.approval.Approve(c.Request.Context(), id, moderator)
	if err != nil {
		h.approvalError(c, err)
		return
	}

	h.cache.InvalidatePendingCount(c.Request.Context())
	middleware.CountResolved("approved")
	common.SuccessResponse(c, gin.H{"entry_id": id, "revision_id": revID}, nil)
}

type batchBody struct {
	IDs []int64 `json:"ids" binding:"required,min=1"`
}

// ApproveBatch handles POST /api/v1/moderation/approve-batch
func (h *ModerationHandler) ApproveBatch(c *gin.Context) {
	var body batchBody
	if err := c.ShouldBindJSON(&body); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	moderator := middleware.GetModerator(c)
	result := h.approval.ApproveBatch(c.Request.Context(), body.IDs, moderator)

	h.cache.InvalidatePendingCount(c.Request.Context())
	for range result.Approved {
		middleware.CountResolved("approved")
	}
	common.SuccessResponse(c, result, nil)
}

type approveAllBody struct {
	Author    string `json:"author" binding:"required"`
	Namespace int    `json:"namespace"`
	Title     string `json:"title" binding:"required"`
}

// ApproveAll handles POST /api/v1/moderation/approve-all: every pending entry
// by one author on one page, oldest first.
func (h *ModerationHandler) ApproveAll(c *gin.Context) {
	var body approveAllBody
	if err := c.ShouldBindJSON(&body); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	moderator := middleware.GetModerator(c)
	page := domain.PageRef{Namespace: body.Namespace, Title: body.Title}
	result, err := h.approval.ApproveAll(c.Request.Context(), body.Author, page, moderator)
	if err != nil {
		common.ErrorResponse(c, http.StatusInternalServerError, "Failed to approve entries", err)
		return
	}

	h.cache.InvalidatePendingCount(c.Request.Context())
	for range result.Approved {
		middleware.CountResolved("approved")
	}
	common.SuccessResponse(c, result, nil)
}

// Reject handles POST /api/v1/moderation/entries/:id/reject
func (h *ModerationHandler) Reject(c *gin.Context) {
	id, err := entryID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "Invalid entry ID", err)
		return
	}

	moderator := middleware.GetModerator(c)
	if err := h.approval.Reject(c.Request.Context(), id, moderator); err != nil {
		h.approvalError(c, err)
		return
	}

	h.cache.InvalidatePendingCount(c.Request.Context())
	middleware.CountResolved("rejected")
	common.SuccessResponse(c, gin.H{"entry_id": id, "rejected": true}, nil)
}

// RejectBatch handles POST /api/v1/moderation/reject-batch
func (h *ModerationHandler) RejectBatch(c *gin.Context) {
	var body batchBody
	if err := c.ShouldBindJSON(&body); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	moderator := middleware.GetModerator(c)
	affected, err := h.approval.RejectBatch(c.Request.Context(), body.IDs, moderator)
	if err != nil {
		common.ErrorResponse(c, http.StatusInternalServerError, "Failed to reject entries", err)
		return
	}

	h.cache.InvalidatePendingCount(c.Request.Context())
	for i := int64(0); i < affected; i++ {
		middleware.CountResolved("rejected")
	}
	common.SuccessResponse(c, gin.H{"rejected": affected, "requested": len(body.IDs)}, nil)
}

type mergeBody struct {
	Text string `json:"text" binding:"required"`
}

// Merge handles POST /api/v1/moderation/entries/:id/merge: a moderator
// resolves a conflicted entry by supplying manually merged content.
func (h *ModerationHandler) Merge(c *gin.Context) {
	id, err := entryID(c)
	if err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "Invalid entry ID", err)
		return
	}

	var body mergeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	moderator := middleware.GetModerator(c)
	revID, err := h.approval.Merge(c.Request.Context(), id, body.Text, moderator)
	if err != nil {
		h.approvalError(c, err)
		return
	}

	h.cache.InvalidatePendingCount(c.Request.Context())
	middleware.CountResolved("approved")
	common.SuccessResponse(c, gin.H{"entry_id": id, "revision_id": revID}, nil)
}

func (h *ModerationHandler) approvalError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, common.ErrNotFound):
		common.ErrorResponse(c, http.StatusNotFound, "Entry not found", err)
	case errors.Is(err, common.ErrAlreadyMerged):
		common.ErrorResponse(c, http.StatusConflict, "Entry already approved", err)
	case errors.Is(err, common.ErrAlreadyRejected):
		common.ErrorResponse(c, http.StatusConflict, "Entry already rejected", err)
	case errors.Is(err, common.ErrRejectedTooLongAgo):
		common.ErrorResponse(c, http.StatusConflict, "Entry was rejected too long ago to approve", err)
	case errors.Is(err, common.ErrSaveConflict):
		common.ErrorResponse(c, http.StatusConflict, "Entry conflicts with the current page content", err)
	default:
		common.ErrorResponse(c, http.StatusInternalServerError, "Failed to process entry", err)
	}
}

func entryID(c *gin.Context) (int64, error) {
	return strconv.ParseInt(c.Param("id"), 10, 64)
}
