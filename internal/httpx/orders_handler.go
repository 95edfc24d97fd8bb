package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const HeaderIdempotencyKey = "Idempotency-Key"

type IdempotencyStore interface {
	Begin(ctx context.Context, userID int64, key string) (orderID int64, started bool, err error)
	Complete(ctx context.Context, userID int64, key string, orderID int64) error
	Abort(ctx context.Context, userID int64, key string) error
}

type StatusCache interface {
	Get(ctx context.Context, orderID int64) (redisx.StatusEntry, bool, error)
	Set(ctx context.Context, e redisx.StatusEntry) error
}

type OrdersHandler struct {
	Orders  *orders.Service
	Idem    IdempotencyStore // optional
	Cache   StatusCache      // optional
	Timeout time.Duration
	Log     *slog.Logger
}

type CreateOrderReq struct {
	Items []orders.ItemInput `json:"items"`
}

type UpdateStatusReq struct {
	Status string `json:"status"`
}

type SetQuantityReq struct {
	Quantity int `json:"quantity"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Use(RequireActor)
		r.Post("/", h.createOrder)
		r.Get("/", h.listOrders)
		r.Get("/{id}", h.getOrder)
		r.Get("/{id}/status", h.getStatus)
		r.Patch("/{id}/status", h.updateStatus)
		r.Post("/{id}/items", h.addItem)
		r.Patch("/{id}/items/{productID}", h.setItemQuantity)
		r.Delete("/{id}/items/{productID}", h.removeItem)
	})
}

func (h *OrdersHandler) ctx(r *http.Request) (context.Context, context.CancelFunc) {
	d := h.Timeout
	if d <= 0 {
		d = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(r.Context(), d)
	return orders.WithTraceID(ctx, middleware.GetReqID(r.Context())), cancel
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "invalid json"})
		return
	}
	actor := actorFrom(r.Context())
	ctx, cancel := h.ctx(r)
	defer cancel()

	key := strings.TrimSpace(r.Header.Get(HeaderIdempotencyKey))
	claimed := false
	if key != "" && h.Idem != nil {
		existing, started, err := h.Idem.Begin(ctx, actor.UserID, key)
		switch {
		case errors.Is(err, redisx.ErrInFlight):
			writeJSON(w, http.StatusConflict, errorResp{Error: err.Error()})
			return
		case err != nil:
			// Redis is an optimisation here; the order itself is still correct without it.
			h.Log.Warn("idempotency unavailable", "user_id", actor.UserID, "error", err)
		case !started:
			o, err := h.Orders.GetOrder(ctx, actor, existing)
			if err != nil {
				writeError(w, h.Log, err)
				return
			}
			w.Header().Set("Idempotent-Replay", "true")
			writeJSON(w, http.StatusOK, o)
			return
		default:
			claimed = true
		}
	}

	o, err := h.Orders.PlaceOrder(ctx, actor.UserID, req.Items)
	if err != nil {
		if claimed {
			if err := h.Idem.Abort(context.WithoutCancel(ctx), actor.UserID, key); err != nil {
				h.Log.Warn("idempotency abort", "user_id", actor.UserID, "error", err)
			}
		}
		writeError(w, h.Log, err)
		return
	}
	if claimed {
		if err := h.Idem.Complete(ctx, actor.UserID, key, o.ID); err != nil {
			h.Log.Warn("idempotency complete", "order_id", o.ID, "error", err)
		}
	}
	h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusCreated, o)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	ctx, cancel := h.ctx(r)
	defer cancel()

	list, err := h.Orders.ListOrders(ctx, actorFrom(r.Context()), limit, offset)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	o, err := h.Orders.GetOrder(ctx, actorFrom(r.Context()), id)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) getStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	actor := actorFrom(r.Context())
	ctx, cancel := h.ctx(r)
	defer cancel()

	// 1) cache
	if h.Cache != nil {
		if e, hit, err := h.Cache.Get(ctx, id); err == nil && hit && (actor.Admin || e.UserID == actor.UserID) {
			writeJSON(w, http.StatusOK, e)
			return
		}
	}
	// 2) store
	o, err := h.Orders.GetOrder(ctx, actor, id)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	e := h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusOK, e)
}

func (h *OrdersHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req UpdateStatusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "invalid json"})
		return
	}
	status, err := orders.ParseStatus(req.Status)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	o, err := h.Orders.UpdateOrderStatus(ctx, actorFrom(r.Context()), id, status)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) addItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req orders.ItemInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "invalid json"})
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	o, err := h.Orders.AddItem(ctx, actorFrom(r.Context()), id, req)
	h.respondItems(ctx, w, o, err)
}

func (h *OrdersHandler) setItemQuantity(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	productID, ok := pathID(w, r, "productID")
	if !ok {
		return
	}
	var req SetQuantityReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "invalid json"})
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	o, err := h.Orders.SetItemQuantity(ctx, actorFrom(r.Context()), id, productID, req.Quantity)
	h.respondItems(ctx, w, o, err)
}

func (h *OrdersHandler) removeItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	productID, ok := pathID(w, r, "productID")
	if !ok {
		return
	}
	ctx, cancel := h.ctx(r)
	defer cancel()

	o, err := h.Orders.RemoveItem(ctx, actorFrom(r.Context()), id, productID)
	h.respondItems(ctx, w, o, err)
}

func (h *OrdersHandler) respondItems(ctx context.Context, w http.ResponseWriter, o orders.Order, err error) {
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	h.cacheStatus(ctx, o)
	writeJSON(w, http.StatusOK, o)
}

// cacheStatus writes through so GET /orders/{id}/status is fresh even when
// the projector is not running.
func (h *OrdersHandler) cacheStatus(ctx context.Context, o orders.Order) redisx.StatusEntry {
	e := redisx.StatusEntry{
		OrderID:    o.ID,
		UserID:     o.UserID,
		Status:     string(o.Status),
		TotalPrice: o.TotalPrice.String(),
		UpdatedAt:  o.UpdatedAt,
	}
	if h.Cache != nil {
		if err := h.Cache.Set(ctx, e); err != nil {
			h.Log.Warn("status cache set", "order_id", o.ID, "error", err)
		}
	}
	return e
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id < 1 {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "invalid " + name})
		return 0, false
	}
	return id, true
}
