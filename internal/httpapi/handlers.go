package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/neltoby/pokemon/internal/catalog"
	"github.com/neltoby/pokemon/internal/platform/observability"
)

// Gateway is the catalog surface served over HTTP.
type Gateway interface {
	Page(ctx context.Context, limit, offset int) (*catalog.Page, error)
	Details(ctx context.Context, ref string) (*catalog.Details, error)
	Image(ctx context.Context, ref string) (*catalog.Image, error)
	Health() catalog.UpstreamHealth
	Bound() int
	PageSize() int
}

type handler struct {
	gateway          Gateway
	logger           *observability.Logger
	cacheMaxAge      time.Duration
	imageCacheMaxAge time.Duration
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

type healthResponse struct {
	Status   string                 `json:"status"`
	Upstream catalog.UpstreamHealth `json:"upstream"`
}

func (h *handler) list(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", h.gateway.PageSize())
	if err != nil || limit < 1 || limit > h.gateway.Bound() {
		writeError(w, http.StatusBadRequest, catalog.CodeInvalidArgument,
			fmt.Sprintf("limit must be an integer between 1 and %d", h.gateway.Bound()))
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, catalog.CodeInvalidArgument, "offset must be a non-negative integer")
		return
	}

	page, err := h.gateway.Page(r.Context(), limit, offset)
	if err != nil {
		h.writeGatewayError(w, r, err)
		return
	}

	h.setCacheHeaders(w, h.cacheMaxAge, false)
	writeJSON(w, http.StatusOK, page)
}

func (h *handler) details(w http.ResponseWriter, r *http.Request) {
	details, err := h.gateway.Details(r.Context(), chi.URLParam(r, "idOrName"))
	if err != nil {
		h.writeGatewayError(w, r, err)
		return
	}

	h.setCacheHeaders(w, h.cacheMaxAge, false)
	writeJSON(w, http.StatusOK, details)
}

func (h *handler) image(w http.ResponseWriter, r *http.Request) {
	img, err := h.gateway.Image(r.Context(), chi.URLParam(r, "idOrName"))
	if err != nil {
		h.writeGatewayError(w, r, err)
		return
	}

	h.setCacheHeaders(w, h.imageCacheMaxAge, true)
	w.Header().Set("Content-Type", img.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(img.Data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(img.Data); err != nil {
		h.logger.LogDebug(r.Context(), "failed to write image", "error", err)
	}
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", Upstream: h.gateway.Health()})
}

// ready fails while the upstream circuit is open.
func (h *handler) ready(w http.ResponseWriter, r *http.Request) {
	upstream := h.gateway.Health()
	if upstream.CircuitState == "open" {
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Upstream: upstream})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ready", Upstream: upstream})
}

func (h *handler) setCacheHeaders(w http.ResponseWriter, maxAge time.Duration, revalidate bool) {
	value := fmt.Sprintf("public, max-age=%d", int(maxAge.Seconds()))
	if revalidate {
		value += ", must-revalidate"
	}
	w.Header().Set("Cache-Control", value)
	w.Header().Set("Vary", "Accept-Encoding")
}

func (h *handler) writeGatewayError(w http.ResponseWriter, r *http.Request, err error) {
	code := catalog.Code(err)
	status := statusForCode(code)
	if errors.Is(err, context.Canceled) && r.Context().Err() != nil {
		// Client went away; nobody reads the response
		h.logger.LogDebug(r.Context(), "request cancelled", "error", err)
		return
	}
	if status >= http.StatusInternalServerError {
		h.logger.LogError(r.Context(), "catalog request failed", err, "code", code, "path", r.URL.Path)
	}
	writeError(w, status, code, err.Error())
}

func statusForCode(code string) int {
	switch code {
	case catalog.CodeInvalidArgument:
		return http.StatusBadRequest
	case catalog.CodeNotFound:
		return http.StatusNotFound
	case catalog.CodeMalformedUpstream:
		return http.StatusBadGateway
	case catalog.CodeUpstreamUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}
