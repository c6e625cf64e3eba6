package handler

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/will87p/betpool/internal/domain"
	"github.com/will87p/betpool/internal/identity"
)

// maxImageSize bounds uploaded market images (8 MiB).
const maxImageSize = 8 << 20

// ImageHandler serves the market image side-channel. Images live in object
// storage outside the ledger and never affect settlement.
type ImageHandler struct {
	markets MarketService
	images  domain.ImageStore
	logger  *slog.Logger
}

// NewImageHandler creates an ImageHandler with the given stores and logger.
func NewImageHandler(markets MarketService, images domain.ImageStore, logger *slog.Logger) *ImageHandler {
	return &ImageHandler{
		markets: markets,
		images:  images,
		logger:  logger,
	}
}

// PutImage uploads or replaces a market's image. Creator only.
// PUT /api/markets/{id}/image
func (h *ImageHandler) PutImage(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity.Principal(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	market, err := h.markets.GetMarket(r.Context(), id)
	if err != nil {
		writeDomainError(r.Context(), w, h.logger, err)
		return
	}
	if caller != market.Creator {
		writeError(w, http.StatusForbidden, "caller not permitted")
		return
	}

	contentType := r.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "image/") {
		writeError(w, http.StatusBadRequest, "content type must be image/*")
		return
	}

	body := http.MaxBytesReader(w, r.Body, maxImageSize)
	if err := h.images.Put(r.Context(), id, body, contentType); err != nil {
		writeDomainError(r.Context(), w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetImage streams a market's image.
// GET /api/markets/{id}/image
func (h *ImageHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	body, contentType, err := h.images.Get(r.Context(), id)
	if err != nil {
		writeDomainError(r.Context(), w, h.logger, err)
		return
	}
	defer body.Close()

	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "public, max-age=300")
	if _, err := io.Copy(w, body); err != nil {
		h.logger.WarnContext(r.Context(), "handler: image stream interrupted",
			slog.Int64("market_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// DeleteImage removes a market's image. Creator only. Idempotent.
// DELETE /api/markets/{id}/image
func (h *ImageHandler) DeleteImage(w http.ResponseWriter, r *http.Request) {
	caller, ok := identity.Principal(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	market, err := h.markets.GetMarket(r.Context(), id)
	if err != nil {
		writeDomainError(r.Context(), w, h.logger, err)
		return
	}
	if caller != market.Creator {
		writeError(w, http.StatusForbidden, "caller not permitted")
		return
	}

	if err := h.images.Delete(r.Context(), id); err != nil {
		writeDomainError(r.Context(), w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
