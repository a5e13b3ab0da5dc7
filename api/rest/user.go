package rest

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/engagebot/engine"
	"github.com/kasuganosora/engagebot/game/mission"
	"go.uber.org/zap"
)

// UserHandler serves the per-user engagement endpoints.
type UserHandler struct {
	eng    *engine.Engine
	logger *zap.Logger
}

// NewUserHandler creates a UserHandler.
func NewUserHandler(eng *engine.Engine, logger *zap.Logger) *UserHandler {
	return &UserHandler{eng: eng, logger: logger}
}

// ClaimGift claims the daily gift.
// POST /api/v1/users/:id/gift
func (h *UserHandler) ClaimGift(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	res, err := h.eng.ClaimGift(c.Request.Context(), uid)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// GiftStatus reports whether the daily gift is available.
// GET /api/v1/users/:id/gift
func (h *UserHandler) GiftStatus(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	st, err := h.eng.GiftStatus(c.Request.Context(), uid)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// EvaluateUnlocks re-checks a user's hints against every combination.
// POST /api/v1/users/:id/hints/evaluate
func (h *UserHandler) EvaluateUnlocks(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	unlocked, err := h.eng.EvaluateUnlocks(c.Request.Context(), uid)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if unlocked == nil {
		unlocked = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"unlocked": unlocked})
}

// SubmitHint records a hint and reports what it unlocked.
// POST /api/v1/users/:id/hints
func (h *UserHandler) SubmitHint(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	var req struct {
		Hint string `json:"hint" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "hint is required"})
		return
	}
	unlocked, err := h.eng.SubmitHint(c.Request.Context(), uid, req.Hint)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	if unlocked == nil {
		unlocked = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"unlocked": unlocked})
}

// ListHints returns the hints a user has collected.
// GET /api/v1/users/:id/hints
func (h *UserHandler) ListHints(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	hints, err := h.eng.Vault.Hints(c.Request.Context(), uid)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"hints": hints})
}

// Track adds to one of the user's activity counters.
// POST /api/v1/users/:id/counters
func (h *UserHandler) Track(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	var req struct {
		Counter string `json:"counter" binding:"required"`
		Delta   int64  `json:"delta"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "counter is required"})
		return
	}
	if req.Delta == 0 {
		req.Delta = 1
	}
	v, err := h.eng.Track(c.Request.Context(), uid, req.Counter, req.Delta)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"counter": req.Counter, "value": v})
}

type missionView struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	RewardPoints int64  `json:"reward_points"`
}

func missionViews(ms []mission.Mission) []missionView {
	out := make([]missionView, 0, len(ms))
	for _, m := range ms {
		out = append(out, missionView{ID: m.ID, Name: m.Name, RewardPoints: m.RewardPoints})
	}
	return out
}

// CheckMissions evaluates every mission and returns the ones just completed.
// POST /api/v1/users/:id/missions/check
func (h *UserHandler) CheckMissions(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	done, err := h.eng.CheckMissions(c.Request.Context(), uid)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"completed": missionViews(done)})
}

// ListMissions returns the missions the user has not completed.
// GET /api/v1/users/:id/missions
func (h *UserHandler) ListMissions(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	active, err := h.eng.ListMissions(c.Request.Context(), uid)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"missions": missionViews(active)})
}

// StartFlow opens a flow. An empty body or kind starts quiz creation.
// POST /api/v1/users/:id/flows
func (h *UserHandler) StartFlow(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	var req struct {
		Kind string `json:"kind"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	step, err := h.eng.StartFlow(c.Request.Context(), uid, req.Kind)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, step)
}

// CurrentFlow returns the user's open session.
// GET /api/v1/users/:id/flows
func (h *UserHandler) CurrentFlow(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	s, err := h.eng.CurrentFlow(c.Request.Context(), uid)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// SubmitFlowInput feeds one input to the user's session. Rejected input is
// still a 200; the step carries the reason.
// POST /api/v1/users/:id/flows/input
func (h *UserHandler) SubmitFlowInput(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	var req struct {
		Input string `json:"input"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad request"})
		return
	}
	step, err := h.eng.SubmitFlowInput(c.Request.Context(), uid, req.Input)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, step)
}

// CancelFlow abandons the user's session.
// DELETE /api/v1/users/:id/flows
func (h *UserHandler) CancelFlow(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	if err := h.eng.CancelFlow(c.Request.Context(), uid); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
