package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/axone/ax-server/internal/cache"
	"github.com/axone/ax-server/internal/config"
	"github.com/axone/ax-server/internal/dendrites"
	"github.com/axone/ax-server/internal/domain/cell"
	"github.com/axone/ax-server/internal/domain/neuron"
	"github.com/axone/ax-server/internal/http/middlewares"
	"github.com/gin-gonic/gin"
)

type CellStore interface {
	Update(ctx context.Context, id, userID string, req cell.UpsertRequest) (cell.Cell, error)
	UpsertByName(ctx context.Context, userID string, req cell.UpsertRequest) (cell.Cell, bool, error)
	ListUnused(ctx context.Context, userID string) ([]cell.NameID, error)
}

type ItemsNeuronStore interface {
	Upsert(ctx context.Context, userID, cellID string, axoneID *string, dendrites []string, setDendrites bool) (neuron.Neuron, bool, error)
	ListItems(ctx context.Context, userID string, axone *string, limit, offset int) ([]neuron.Item, error)
	ListNameIDs(ctx context.Context, userID string) ([]cell.NameID, error)
}

type DendriteResolver interface {
	Resolve(ctx context.Context, userID string, refs []neuron.DendriteRef) ([]cell.NameID, error)
}

type ItemsHandler struct {
	cells    CellStore
	neurons  ItemsNeuronStore
	resolver DendriteResolver
	catalog  cache.Store
}

func NewItemsHandler(cells CellStore, neurons ItemsNeuronStore, resolver DendriteResolver, catalog cache.Store) *ItemsHandler {
	return &ItemsHandler{
		cells:    cells,
		neurons:  neurons,
		resolver: resolver,
		catalog:  catalog,
	}
}

// CreateItemRequest is the combined payload: a cell to create or update, and
// optionally a neuron to attach it with.
type CreateItemRequest struct {
	Cell   *cell.UpsertRequest   `json:"cell"`
	Neuron *neuron.AttachRequest `json:"neuron"`
}

// Create handles POST /items: upsert the cell, then, when a neuron payload
// is present, resolve its dendrites and upsert the neuron keyed by
// (cell, user, axone). 201 when either row was freshly inserted.
func (h *ItemsHandler) Create(ctx *gin.Context) {
	userID, ok := middlewares.UserIDFromContext(ctx)
	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Missing authentication")
		return
	}

	var req CreateItemRequest

	if !BindJSON(ctx, &req) {
		return
	}

	if req.Cell == nil {
		RespondBadRequest(ctx, "cell field missing", nil)
		return
	}

	cctx, cancel := config.WithTimeout(5 * time.Second)
	defer cancel()

	var (
		c            cell.Cell
		insertedCell bool
		err          error
	)

	if req.Cell.ID != "" {
		c, err = h.cells.Update(cctx, req.Cell.ID, userID, *req.Cell)
	} else {
		c, insertedCell, err = h.cells.UpsertByName(cctx, userID, *req.Cell)
	}

	if err != nil {
		if errors.Is(err, cell.ErrNotFound) {
			RespondNotFound(ctx, "Cell not found")
			return
		}
		slog.Default().ErrorContext(ctx.Request.Context(), "item_cell_upsert_failed", "err", err)
		RespondStorageError(ctx)
		return
	}

	if req.Neuron == nil {
		h.invalidateCatalog(cctx, userID)

		status := http.StatusOK
		if insertedCell {
			status = http.StatusCreated
		}
		ctx.JSON(status, gin.H{"cell": c})
		return
	}

	resolved, err := h.resolver.Resolve(cctx, userID, req.Neuron.Dendrites)

	if err != nil {
		slog.Default().ErrorContext(ctx.Request.Context(), "dendrite_resolution_failed", "err", err)
		RespondStorageError(ctx)
		return
	}

	resolved = dendrites.UniqueByID(resolved)

	n, insertedNeuron, err := h.neurons.Upsert(cctx, userID, c.ID, req.Neuron.AxoneID, dendrites.IDs(resolved), true)

	if err != nil {
		slog.Default().ErrorContext(ctx.Request.Context(), "item_neuron_upsert_failed", "err", err)
		RespondStorageError(ctx)
		return
	}

	h.invalidateCatalog(cctx, userID)

	status := http.StatusOK
	if insertedCell || insertedNeuron {
		status = http.StatusCreated
	}

	ctx.JSON(status, gin.H{
		"cell":      c,
		"neuronId":  n.ID,
		"axone":     n.AxoneID,
		"dendrites": resolved,
	})
}

// List handles GET /items: the flattened cell-first listing with optional
// axone narrowing and 1-indexed page/limit pagination.
func (h *ItemsHandler) List(ctx *gin.Context) {
	userID, ok := middlewares.UserIDFromContext(ctx)
	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Missing authentication")
		return
	}

	var axone *string
	if v := ctx.Query("axone"); v != "" {
		axone = &v
	}

	limit, page, ok := parsePageLimit(ctx)
	if !ok {
		return
	}

	offset := 0
	if limit > 0 && page > 0 {
		offset = limit * (page - 1)
	} else {
		// pagination applies only when both knobs are present
		limit = 0
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	items, err := h.neurons.ListItems(cctx, userID, axone, limit, offset)

	if err != nil {
		slog.Default().ErrorContext(ctx.Request.Context(), "items_list_failed", "err", err)
		RespondStorageError(ctx)
		return
	}

	ctx.JSON(http.StatusOK, items)
}

// Catalog handles GET /items/list?cat=neurons|ucells, serving through the
// per-user cache.
func (h *ItemsHandler) Catalog(ctx *gin.Context) {
	userID, ok := middlewares.UserIDFromContext(ctx)
	if !ok {
		RespondUnAuthorized(ctx, "unauthorized", "Missing authentication")
		return
	}

	cat := ctx.Query("cat")

	switch cat {
	case "neurons", "ucells":
	default:
		RespondBadRequest(ctx, "cat error", nil)
		return
	}

	cctx, cancel := config.WithTimeout(3 * time.Second)
	defer cancel()

	key := catalogKey(cat, userID)

	if h.catalog != nil {
		if raw, hit := h.catalog.Get(cctx, key); hit {
			ctx.Data(http.StatusOK, "application/json; charset=utf-8", raw)
			return
		}
	}

	var (
		out []cell.NameID
		err error
	)

	if cat == "neurons" {
		out, err = h.neurons.ListNameIDs(cctx, userID)
	} else {
		out, err = h.cells.ListUnused(cctx, userID)
	}

	if err != nil {
		slog.Default().ErrorContext(ctx.Request.Context(), "items_catalog_failed", "cat", cat, "err", err)
		RespondStorageError(ctx)
		return
	}

	raw, err := json.Marshal(out)
	if err != nil {
		RespondInternal(ctx, "Could not encode response")
		return
	}

	if h.catalog != nil {
		h.catalog.Set(cctx, key, raw)
	}

	ctx.Data(http.StatusOK, "application/json; charset=utf-8", raw)
}

func (h *ItemsHandler) invalidateCatalog(ctx context.Context, userID string) {
	if h.catalog != nil {
		h.catalog.Delete(ctx, CatalogKeys(userID)...)
	}
}

func catalogKey(cat, userID string) string {
	return "items:list:" + cat + ":" + userID
}

// CatalogKeys lists every cache key a mutation for the user must drop.
func CatalogKeys(userID string) []string {
	return []string{
		catalogKey("neurons", userID),
		catalogKey("ucells", userID),
	}
}

// parsePageLimit reads optional pagination query params; a malformed or
// negative value answers the request with a 400.
func parsePageLimit(ctx *gin.Context) (limit, page int, ok bool) {
	var err error

	if v := ctx.Query("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 0 {
			RespondBadRequest(ctx, "limit must be a non-negative integer", nil)
			return 0, 0, false
		}
	}

	if v := ctx.Query("page"); v != "" {
		page, err = strconv.Atoi(v)
		if err != nil || page < 1 {
			RespondBadRequest(ctx, "page must be a positive integer", nil)
			return 0, 0, false
		}
	}

	return limit, page, true
}
