package static

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHandlerServesIndexForClientRoutes(t *testing.T) {
	h := Handler()
	for _, p := range []string{"/", "/display/abc123", "/player/abc123", "/index.html"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, p, nil))
		assert.Equal(t, http.StatusOK, w.Code, p)
		assert.Contains(t, w.Body.String(), "Ranking the Starzzz", p)
		assert.Equal(t, "no-cache", w.Header().Get("Cache-Control"), p)
	}
}
