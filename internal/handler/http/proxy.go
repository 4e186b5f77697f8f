package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"gamidash/internal/handler/http/respond"
	"gamidash/internal/resilience/classify"
)

// FetchFunc resolves a backend resource path, reporting whether the
// returned value was served stale from the fallback cache.
type FetchFunc func(ctx context.Context, path string) (value any, stale bool, err error)

// ProxyHandler serves gamification data fetched through the resilience
// stack. Stale responses carry an X-Stale header so the dashboard can
// mark the data as possibly outdated.
type ProxyHandler struct {
	Fetch FetchFunc

	// Prefix is stripped from the request path before forwarding.
	Prefix string
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, h.Prefix)
	if path == "" || path == "/" {
		respond.SafeError(w, http.StatusBadRequest, fmt.Errorf("resource path is required"))
		return
	}
	if r.URL.RawQuery != "" {
		path += "?" + r.URL.RawQuery
	}

	value, stale, err := h.Fetch(r.Context(), path)
	if err != nil {
		var ce *classify.ClassifiedError
		if errors.As(err, &ce) {
			respond.Classified(w, ce)
			return
		}
		respond.SafeError(w, http.StatusBadGateway, err)
		return
	}

	if stale {
		w.Header().Set("X-Stale", "true")
	}
	respond.JSON(w, http.StatusOK, value)
}
