package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/engagebot/engine"
	"github.com/kasuganosora/engagebot/scheduler"
	"go.uber.org/zap"
)

// Register mounts every engine route under /api/v1 on r.
func Register(r gin.IRouter, eng *engine.Engine, sched *scheduler.Scheduler, logger *zap.Logger) {
	userH := NewUserHandler(eng, logger)
	deliveryH := NewDeliveryHandler(eng, logger)
	adminH := NewAdminHandler(eng, sched, logger)

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	{
		users := v1.Group("/users/:id")
		users.POST("/gift", userH.ClaimGift)
		users.GET("/gift", userH.GiftStatus)
		users.POST("/hints", userH.SubmitHint)
		users.GET("/hints", userH.ListHints)
		users.POST("/hints/evaluate", userH.EvaluateUnlocks)
		users.POST("/counters", userH.Track)
		users.POST("/missions/check", userH.CheckMissions)
		users.GET("/missions", userH.ListMissions)
		users.POST("/flows", userH.StartFlow)
		users.GET("/flows", userH.CurrentFlow)
		users.POST("/flows/input", userH.SubmitFlowInput)
		users.DELETE("/flows", userH.CancelFlow)

		v1.POST("/deliveries", deliveryH.Record)
		v1.GET("/deliveries/:channel/:message", deliveryH.Lookup)

		admin := v1.Group("/admin")
		admin.GET("/metrics", adminH.Metrics)
		admin.GET("/scheduler", adminH.ListSchedulerTasks)
		admin.GET("/combinations", adminH.ListCombinations)
		admin.POST("/combinations", adminH.AddCombination)
		admin.GET("/quizzes", adminH.ListQuizzes)
		admin.GET("/quizzes/:slug", adminH.GetQuiz)
	}
}
