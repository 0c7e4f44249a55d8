package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/tickreplay/internal/domain"
)

// OrderBookHandler serves the latest order book published by the ingestor.
type OrderBookHandler struct {
	books  domain.BookCache
	logger *slog.Logger
}

// NewOrderBookHandler creates an OrderBookHandler.
func NewOrderBookHandler(books domain.BookCache, logger *slog.Logger) *OrderBookHandler {
	return &OrderBookHandler{books: books, logger: logHandler(logger, "orderbook")}
}

// GetLatest returns the cached book for a pair.
// GET /api/orderbook/{pair}
func (h *OrderBookHandler) GetLatest(w http.ResponseWriter, r *http.Request) {
	pair := strings.ToLower(pathParam(r, "pair"))
	book, at, err := h.books.GetLatest(r.Context(), pair)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no order book for pair")
			return
		}
		h.logger.Error("get order book", slog.String("pair", pair), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to read order book")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"pair":      pair,
		"updatedAt": at,
		"book":      book,
	})
}
