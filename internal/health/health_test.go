package health

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthChecker(t *testing.T) {
	healthy := CheckFunc(func() error { return nil })
	broken := CheckFunc(func() error { return errors.New("disk gone") })

	t.Run("all checks pass", func(t *testing.T) {
		hc := NewHealthChecker(map[string]Checkable{"upload_dir": healthy, "submission_log": healthy}, nil)

		for _, path := range []string{"/live", "/ready"} {
			rec := httptest.NewRecorder()
			hc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
			assert.Equal(t, http.StatusOK, rec.Code, path)
		}
	})

	t.Run("failing dependency makes readiness fail", func(t *testing.T) {
		hc := NewHealthChecker(map[string]Checkable{"upload_dir": healthy, "submission_log": broken}, nil)

		rec := httptest.NewRecorder()
		hc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready?full=1", nil))
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var body map[string]string
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "disk gone", body["submission_log"])
		assert.Equal(t, "OK", body["upload_dir"])

		rec = httptest.NewRecorder()
		hc.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/live", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestHealthChecker_Status(t *testing.T) {
	hc := NewHealthChecker(nil, nil)
	hc.now = func() time.Time { return time.Date(2025, 3, 14, 9, 30, 0, 0, time.FixedZone("CET", 3600)) }

	status := hc.Status()

	assert.Equal(t, "OK", status["status"])
	assert.Equal(t, "2025-03-14T08:30:00Z", status["timestamp"])
}
