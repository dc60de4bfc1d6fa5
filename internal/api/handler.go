// Package api is the HTTP surface for scaffolding targets, starting rounds,
// requesting cancellation, and reading round state. Every write is
// fire-and-observe: the response acknowledges acceptance and clients poll
// GET /api/targets/:id for progress.
package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ahrav/go-canvas/internal/domain"
	"github.com/ahrav/go-canvas/internal/store"
)

// Store is the persistence the handlers read and write.
type Store interface {
	CreateTarget(ctx context.Context, t domain.Target, evals []domain.EvalItem) error
	GetTarget(ctx context.Context, id string) (domain.Target, error)
	ListEvals(ctx context.Context, targetID string) ([]domain.EvalItem, error)
	SubmitPrompt(ctx context.Context, id, prompt, model string) error
	RequestCancellation(ctx context.Context, id string) (bool, error)
}

// WorkflowStarter starts the two entry workflows.
type WorkflowStarter interface {
	StartSubmitPrompt(ctx context.Context, workflowID string, in domain.SubmitPromptInput) (runID string, err error)
	StartRunEvals(ctx context.Context, workflowID string, in domain.RunEvalsInput) (runID string, err error)
}

// Handler serves the target endpoints.
type Handler struct {
	store       Store
	starter     WorkflowStarter
	maxParallel int
	newID       func() string
}

// NewHandler returns a Handler. maxParallel is passed to every round as the
// judge fan-out bound.
func NewHandler(s Store, starter WorkflowStarter, maxParallel int) *Handler {
	return &Handler{
		store:       s,
		starter:     starter,
		maxParallel: maxParallel,
		newID:       uuid.NewString,
	}
}

// CreateTarget scaffolds a target and its rubric.
func (h *Handler) CreateTarget(c *gin.Context) {
	var req CreateTargetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	if req.ID != "" {
		if _, err := h.store.GetTarget(ctx, req.ID); err == nil {
			c.JSON(http.StatusConflict, ErrorResponse{Error: "target already exists"})
			return
		}
	}

	t, evals := req.toDomain(h.newID)
	if err := h.store.CreateTarget(ctx, t, evals); err != nil {
		fail(c, err)
		return
	}
	h.respondTarget(c, http.StatusCreated, t.ID)
}

// GetTarget returns the target with its rubric items.
func (h *Handler) GetTarget(c *gin.Context) {
	h.respondTarget(c, http.StatusOK, c.Param("id"))
}

// SubmitPrompt stores the prompt and starts a generate-then-evaluate round.
func (h *Handler) SubmitPrompt(c *gin.Context) {
	id := c.Param("id")
	var req SubmitPromptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	if err := h.store.SubmitPrompt(ctx, id, req.Prompt, req.Model); err != nil {
		fail(c, err)
		return
	}

	wfID := "submit-" + id + "-" + h.newID()
	runID, err := h.starter.StartSubmitPrompt(ctx, wfID, domain.SubmitPromptInput{
		TargetID:          id,
		SkipEvals:         req.SkipEvals,
		MaxParallelJudges: h.maxParallel,
	})
	if err != nil {
		startFailed(c, err)
		return
	}
	c.JSON(http.StatusAccepted, RoundAccepted{TargetID: id, WorkflowID: wfID, RunID: runID})
}

// RunEvals starts an evaluation-only round over the current response.
func (h *Handler) RunEvals(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	t, err := h.store.GetTarget(ctx, id)
	if err != nil {
		fail(c, err)
		return
	}
	if t.ResponseStatus != domain.ResponseComplete {
		fail(c, domain.ErrResponseNotReady)
		return
	}
	if t.WorkflowID != "" {
		fail(c, domain.ErrTargetBusy)
		return
	}

	wfID := "evals-" + id + "-" + h.newID()
	runID, err := h.starter.StartRunEvals(ctx, wfID, domain.RunEvalsInput{
		TargetID:          id,
		MaxParallelJudges: h.maxParallel,
	})
	if err != nil {
		startFailed(c, err)
		return
	}
	c.JSON(http.StatusAccepted, RoundAccepted{TargetID: id, WorkflowID: wfID, RunID: runID})
}

// Cancel writes the cancellation marker for a generating response. Requests
// for a response that is not generating are accepted but have no effect.
func (h *Handler) Cancel(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()

	if _, err := h.store.GetTarget(ctx, id); err != nil {
		fail(c, err)
		return
	}
	written, err := h.store.RequestCancellation(ctx, id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, CancelResponse{TargetID: id, Requested: written})
}

func (h *Handler) respondTarget(c *gin.Context, status int, id string) {
	ctx := c.Request.Context()
	t, err := h.store.GetTarget(ctx, id)
	if err != nil {
		fail(c, err)
		return
	}
	evals, err := h.store.ListEvals(ctx, id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(status, TargetView{Target: t, Evals: evals})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg})
}

func startFailed(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(http.StatusBadGateway, ErrorResponse{Error: "could not start workflow"})
}

// fail maps store and lifecycle errors onto status codes.
func fail(c *gin.Context, err error) {
	_ = c.Error(err)
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "target not found"})
	case errors.Is(err, domain.ErrTargetBusy):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "target is owned by a running workflow"})
	case errors.Is(err, domain.ErrResponseNotReady):
		c.JSON(http.StatusConflict, ErrorResponse{Error: "response is not complete"})
	default:
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
	}
}
