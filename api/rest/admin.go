package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/engagebot/engine"
	"github.com/kasuganosora/engagebot/scheduler"
	"go.uber.org/zap"
)

// AdminHandler serves operator endpoints: combinations, quizzes and
// runtime metrics.
type AdminHandler struct {
	eng    *engine.Engine
	sched  *scheduler.Scheduler
	logger *zap.Logger
}

// NewAdminHandler creates an AdminHandler. sched may be nil.
func NewAdminHandler(eng *engine.Engine, sched *scheduler.Scheduler, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{eng: eng, sched: sched, logger: logger}
}

// Metrics returns runtime counters.
// GET /api/v1/admin/metrics
func (h *AdminHandler) Metrics(c *gin.Context) {
	tasks := []string{}
	if h.sched != nil {
		tasks = h.sched.ListTickers()
	}
	c.JSON(http.StatusOK, gin.H{
		"active_flows":    h.eng.Flows.Active(),
		"scheduler_tasks": tasks,
	})
}

// AddCombination adds a vault entry.
// POST /api/v1/admin/combinations
func (h *AdminHandler) AddCombination(c *gin.Context) {
	var req struct {
		Code          string   `json:"code"`
		RequiredHints []string `json:"required_hints"`
		RewardCode    string   `json:"reward_code"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad request"})
		return
	}
	e, err := h.eng.AddCombination(c.Request.Context(), req.Code, req.RequiredHints, req.RewardCode)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	h.logger.Info("admin added combination", zap.String("code", e.Code))
	c.JSON(http.StatusCreated, e)
}

// ListCombinations returns every vault entry in insertion order.
// GET /api/v1/admin/combinations
func (h *AdminHandler) ListCombinations(c *gin.Context) {
	entries, err := h.eng.Vault.Entries(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"combinations": entries})
}

// ListQuizzes returns every stored quiz.
// GET /api/v1/admin/quizzes
func (h *AdminHandler) ListQuizzes(c *gin.Context) {
	qs, err := h.eng.Quizzes.List(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quizzes": qs})
}

// GetQuiz returns one quiz by slug.
// GET /api/v1/admin/quizzes/:slug
func (h *AdminHandler) GetQuiz(c *gin.Context) {
	q, err := h.eng.Quizzes.Get(c.Request.Context(), c.Param("slug"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

// ListSchedulerTasks returns names of all registered ticker tasks.
// GET /api/v1/admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	tasks := []string{}
	if h.sched != nil {
		tasks = h.sched.ListTickers()
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}
