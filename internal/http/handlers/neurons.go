package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/axone/ax-server/internal/cache"
	"github.com/axone/ax-server/internal/config"
	"github.com/axone/ax-server/internal/domain/neuron"
	"github.com/axone/ax-server/internal/http/middlewares"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type NeuronStore interface {
	List(ctx context.Context, userID string, filter neuron.ListFilter) ([]neuron.View, error)
	Count(ctx context.Context, userID string, axone *string) (int, error)
	Upsert(ctx context.Context, userID, cellID string, axoneID *string, dendrites []string, setDendrites bool) (neuron.Neuron, bool, error)
	GetByID(ctx context.Context, id, userID string) (neuron.View, error)
	Update(ctx context.Context, id, userID string, req neuron.UpdateRequest) (neuron.Neuron, error)
	Delete(ctx context.Context, id, userID string) error
}

type NeuronsHandler struct {
	repo    NeuronStore
	catalog cache.Store
}

func NewNeuronsHandler(repo NeuronStore, catalog cache.Store) *NeuronsHandler {
	return &NeuronsHandler{repo: repo, catalog: catalog}
}

// List handles GET /neurons. The axone filter fires when the key is present
// at all: an empty value selects root neurons (no axone).
func (h *NeuronsHandler) List(ctx *gin.Context) {
	userID, ok := middlewares.UserIDFromContext(ctx)
	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Missing authentication")
		return
	}

	var filter neuron.ListFilter

	if v, present := ctx.GetQuery("axone"); present {
		filter.Axone = &v
	}
	if v := ctx.Query("cell"); v != "" {
		filter.Cell = &v
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	views, err := h.repo.List(cctx, userID, filter)

	if err != nil {
		slog.Default().ErrorContext(ctx.Request.Context(), "neurons_list_failed", "err", err)
		RespondStorageError(ctx)
		return
	}

	ctx.JSON(http.StatusOK, views)
}

func (h *NeuronsHandler) Count(ctx *gin.Context) {
	userID, ok := middlewares.UserIDFromContext(ctx)
	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Missing authentication")
		return
	}

	var axone *string
	if v, present := ctx.GetQuery("axone"); present {
		axone = &v
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	count, err := h.repo.Count(cctx, userID, axone)

	if err != nil {
		slog.Default().ErrorContext(ctx.Request.Context(), "neurons_count_failed", "err", err)
		RespondStorageError(ctx)
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"count": count})
}

// Create handles POST /neurons: an upsert keyed by (axone, user, cell).
func (h *NeuronsHandler) Create(ctx *gin.Context) {
	userID, ok := middlewares.UserIDFromContext(ctx)
	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Missing authentication")
		return
	}

	var req neuron.CreateRequest

	if !BindJSON(ctx, &req) {
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	n, inserted, err := h.repo.Upsert(cctx, userID, req.CellID, req.AxoneID, req.Dendrites, req.Dendrites != nil)

	if err != nil {
		slog.Default().ErrorContext(ctx.Request.Context(), "neuron_upsert_failed", "err", err)
		RespondStorageError(ctx)
		return
	}

	h.invalidateCatalog(cctx, userID)

	status := http.StatusOK
	if inserted {
		status = http.StatusCreated
	}
	ctx.JSON(status, n)
}

func (h *NeuronsHandler) Get(ctx *gin.Context) {
	userID, ok := middlewares.UserIDFromContext(ctx)
	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Missing authentication")
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	v, err := h.repo.GetByID(cctx, ctx.Param("id"), userID)

	if err != nil {
		if errors.Is(err, neuron.ErrNotFound) {
			RespondNotFound(ctx, "Neuron not found")
			return
		}
		slog.Default().ErrorContext(ctx.Request.Context(), "neuron_get_failed", "err", err)
		RespondStorageError(ctx)
		return
	}

	ctx.JSON(http.StatusOK, v)
}

func (h *NeuronsHandler) Update(ctx *gin.Context) {
	userID, ok := middlewares.UserIDFromContext(ctx)
	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Missing authentication")
		return
	}

	var req neuron.UpdateRequest

	if !BindJSON(ctx, &req) {
		return
	}

	// OptionalID escapes the binding tags, so check the id shape here
	if req.AxoneID.Set && req.AxoneID.Value != nil {
		if uuid.Validate(*req.AxoneID.Value) != nil {
			RespondBadRequest(ctx, "Invalid request body", gin.H{
				"fields": []FieldError{{Field: "axone", Rule: "uuid", Message: "must be a valid id"}},
			})
			return
		}
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	n, err := h.repo.Update(cctx, ctx.Param("id"), userID, req)

	if err != nil {
		if errors.Is(err, neuron.ErrNotFound) {
			RespondNotFound(ctx, "Neuron not found")
			return
		}
		slog.Default().ErrorContext(ctx.Request.Context(), "neuron_update_failed", "err", err)
		RespondStorageError(ctx)
		return
	}

	h.invalidateCatalog(cctx, userID)

	ctx.JSON(http.StatusOK, n)
}

func (h *NeuronsHandler) Delete(ctx *gin.Context) {
	userID, ok := middlewares.UserIDFromContext(ctx)
	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Missing authentication")
		return
	}

	cctx, cancel := config.WithTimeout(2 * time.Second)
	defer cancel()

	err := h.repo.Delete(cctx, ctx.Param("id"), userID)

	if err != nil {
		if errors.Is(err, neuron.ErrNotFound) {
			RespondNotFound(ctx, "Neuron not found")
			return
		}
		slog.Default().ErrorContext(ctx.Request.Context(), "neuron_delete_failed", "err", err)
		RespondStorageError(ctx)
		return
	}

	h.invalidateCatalog(cctx, userID)

	ctx.JSON(http.StatusOK, gin.H{"success": "success"})
}

func (h *NeuronsHandler) invalidateCatalog(ctx context.Context, userID string) {
	if h.catalog != nil {
		h.catalog.Delete(ctx, CatalogKeys(userID)...)
	}
}
