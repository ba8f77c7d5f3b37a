package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/files", "/files"},
		{"/files/42", "/files/{id}"},
		{"/", "/"},
		{"/files/abc", "/files/abc"},
	}
	for _, tt := range tests {
		if got := normalizePath(tt.in); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestObserveSubmission(t *testing.T) {
	ok := testutil.ToFloat64(Submissions.WithLabelValues("test_job", ResultOK))
	bad := testutil.ToFloat64(Submissions.WithLabelValues("test_job", ResultError))

	ObserveSubmission("test_job", nil)
	ObserveSubmission("test_job", errors.New("down"))
	ObserveSubmission("test_job", nil)

	if got := testutil.ToFloat64(Submissions.WithLabelValues("test_job", ResultOK)); got != ok+2 {
		t.Errorf("ok submissions = %v, want %v", got, ok+2)
	}
	if got := testutil.ToFloat64(Submissions.WithLabelValues("test_job", ResultError)); got != bad+1 {
		t.Errorf("error submissions = %v, want %v", got, bad+1)
	}
}

func TestMiddlewareAndHandler(t *testing.T) {
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/files/7", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/files/{id}", "418")); got < 1 {
		t.Errorf("request counter = %v, want >= 1", got)
	}

	rec = httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "audiosync_http_requests_total") {
		t.Error("metrics output should include audiosync_http_requests_total")
	}
}
