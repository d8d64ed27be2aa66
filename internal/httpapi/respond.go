package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"storefront/internal/driver"
	"storefront/internal/orderstate"
	"storefront/internal/shipping"
	"storefront/internal/store"
	"storefront/pkg/logger"

	"go.uber.org/zap"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps the store/driver/orderstate error taxonomy onto an HTTP
// status via errors.Is on the sentinel errors, never string matching.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrValidation), errors.Is(err, shipping.ErrUncoveredDestination):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrPaymentRefExists):
		status = http.StatusConflict
	case errors.Is(err, orderstate.ErrDisallowedTransition):
		status = http.StatusConflict
	case errors.Is(err, driver.ErrUnsupported):
		status = http.StatusBadGateway
	}

	if status >= http.StatusInternalServerError {
		logger.Error("httpapi: request failed", zap.Error(err))
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}
