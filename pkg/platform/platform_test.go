package platform

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("GRIDSIM_TEST_INT", "42")
	t.Setenv("GRIDSIM_TEST_BAD_INT", "x")
	t.Setenv("GRIDSIM_TEST_BOOL", "1")
	t.Setenv("GRIDSIM_TEST_DUR", "90s")

	assert.Equal(t, 42, GetEnvInt("GRIDSIM_TEST_INT", 1))
	assert.Equal(t, 7, GetEnvInt("GRIDSIM_TEST_BAD_INT", 7))
	assert.True(t, GetEnvBool("GRIDSIM_TEST_BOOL", false))
	assert.Equal(t, 90*time.Second, GetEnvDuration("GRIDSIM_TEST_DUR", time.Second))
	assert.Equal(t, "fallback", GetEnv("GRIDSIM_TEST_MISSING", "fallback"))
	assert.Equal(t, []string{"a:9092", "b:9092"}, SplitList(" a:9092, ,b:9092"))
}

func TestAPIKeyMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	guarded := APIKeyMiddleware("secret")(ok)

	rec := httptest.NewRecorder()
	guarded.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	guarded.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	APIKeyMiddleware("")(ok).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
