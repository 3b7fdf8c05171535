package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"lotpool/internal/core/id"
	"lotpool/internal/domain/lot"
	"lotpool/internal/domain/settlement"
	"lotpool/internal/infrastructure/http/v1/dto"
)

// LotReader is the read side of the lot repository.
type LotReader interface {
	Progress(ctx context.Context, key lot.Key) (*lot.Progress, error)
	GetByID(ctx context.Context, lotID id.ID) (*lot.Lot, error)
}

// OrderMaterializer turns a closed lot into its factory order.
type OrderMaterializer interface {
	MaterializeByID(ctx context.Context, lotID id.ID) (*settlement.Order, error)
}

// LotHandler serves lot progress and settlement endpoints.
type LotHandler struct {
	*BaseHandler
	lots         LotReader
	materializer OrderMaterializer
}

// NewLotHandler creates a new lot handler.
func NewLotHandler(base *BaseHandler, lots LotReader, materializer OrderMaterializer) *LotHandler {
	return &LotHandler{BaseHandler: base, lots: lots, materializer: materializer}
}

// Progress returns accumulation progress of the current lot.
// GET /lots/progress?productId=&factoryId=&lotType=
func (h *LotHandler) Progress(c *gin.Context) {
	var q dto.ProgressQuery
	if !h.BindQuery(c, &q) {
		return
	}
	p, err := h.lots.Progress(c.Request.Context(), q.Key())
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromProgress(p))
}

// Get returns a lot with its contributions.
// GET /lots/:id
func (h *LotHandler) Get(c *gin.Context) {
	lotID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	l, err := h.lots.GetByID(c.Request.Context(), lotID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromLot(l))
}

// Materialize (re)runs settlement for a closed lot. Safe to repeat.
// POST /lots/:id/materialize
func (h *LotHandler) Materialize(c *gin.Context) {
	lotID, ok := h.ParseID(c, "id")
	if !ok {
		return
	}
	order, err := h.materializer.MaterializeByID(c.Request.Context(), lotID)
	if err != nil {
		h.Error(c, err)
		return
	}
	h.OK(c, dto.FromOrder(order))
}
