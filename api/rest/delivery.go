package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/engagebot/engine"
	"go.uber.org/zap"
)

// DeliveryHandler records and looks up messages the bot sent.
type DeliveryHandler struct {
	eng    *engine.Engine
	logger *zap.Logger
}

// NewDeliveryHandler creates a DeliveryHandler.
func NewDeliveryHandler(eng *engine.Engine, logger *zap.Logger) *DeliveryHandler {
	return &DeliveryHandler{eng: eng, logger: logger}
}

// Record remembers an outbound message.
// POST /api/v1/deliveries
func (h *DeliveryHandler) Record(c *gin.Context) {
	var req struct {
		ChannelID string `json:"channel_id"`
		MessageID string `json:"message_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad request"})
		return
	}
	if err := h.eng.RecordOutboundMessage(c.Request.Context(), req.ChannelID, req.MessageID); err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"ok": true})
}

// Lookup reports whether the bot sent a message.
// GET /api/v1/deliveries/:channel/:message
func (h *DeliveryHandler) Lookup(c *gin.Context) {
	known, err := h.eng.IsOutboundMessage(c.Request.Context(), c.Param("channel"), c.Param("message"))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"known": known})
}
