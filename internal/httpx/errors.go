package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"github.com/ariefcatur/go-storefront-orders/internal/catalog"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"log/slog"
	"net/http"
)

type errorResp struct {
	Error      string                 `json:"error"`
	Kind       orders.Kind            `json:"kind,omitempty"`
	MissingIDs []int64                `json:"missing_ids,omitempty"`
	Details    []orders.StockShortage `json:"details,omitempty"`
	From       orders.Status          `json:"from,omitempty"`
	To         orders.Status          `json:"to,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps engine errors onto HTTP. Validation failures are the
// client's fault, transient ones are worth a retry.
func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	var ve *orders.ValidationError
	switch {
	case errors.As(err, &ve):
		code := http.StatusBadRequest
		switch ve.Kind {
		case orders.KindInsufficientStock, orders.KindOrderLocked, orders.KindInvalidTransition:
			code = http.StatusConflict
		}
		writeJSON(w, code, errorResp{
			Error:      ve.Error(),
			Kind:       ve.Kind,
			MissingIDs: ve.MissingIDs,
			Details:    ve.Details,
			From:       ve.From,
			To:         ve.To,
		})
	case errors.Is(err, orders.ErrNotFound), errors.Is(err, orders.ErrItemNotFound), errors.Is(err, catalog.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResp{Error: err.Error()})
	case errors.Is(err, orders.ErrForbidden):
		writeJSON(w, http.StatusForbidden, errorResp{Error: err.Error()})
	case errors.Is(err, orders.ErrTransient):
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, errorResp{Error: "temporarily unavailable, retry later"})
	case errors.Is(err, context.DeadlineExceeded):
		writeJSON(w, http.StatusGatewayTimeout, errorResp{Error: "request timed out"})
	default:
		log.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResp{Error: "internal error"})
	}
}
