package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTaskOutcome(t *testing.T) {
	cases := map[string]error{
		"success":    nil,
		"retry":      errors.New("temporary"),
		"skip_retry": fmt.Errorf("bad payload: %w", asynq.SkipRetry),
	}
	for want, err := range cases {
		if got := taskOutcome(err); got != want {
			t.Fatalf("taskOutcome(%v) = %q, want %q", err, got, want)
		}
	}
}

func TestAsynqMiddlewareCountsOutcome(t *testing.T) {
	handler := AsynqMetricsMiddleware()(asynq.HandlerFunc(func(context.Context, *asynq.Task) error {
		return errors.New("boom")
	}))

	before := testutil.ToFloat64(taskProcessedTotal.WithLabelValues("test:task", "retry"))
	if err := handler.ProcessTask(context.Background(), asynq.NewTask("test:task", nil)); err == nil {
		t.Fatalf("expected handler error to pass through")
	}
	after := testutil.ToFloat64(taskProcessedTotal.WithLabelValues("test:task", "retry"))
	if after != before+1 {
		t.Fatalf("expected retry counter to increase, got %v -> %v", before, after)
	}
}

func TestGinMiddlewareLabelsUnmatchedRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(GinMiddleware())
	router.GET("/v1/sheets/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/sheets/7", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/wp-login.php", nil))

	matched := testutil.ToFloat64(requestTotal.WithLabelValues(http.MethodGet, "/v1/sheets/:id", "200"))
	unmatched := testutil.ToFloat64(requestTotal.WithLabelValues(http.MethodGet, "unmatched", "404"))
	if matched < 1 || unmatched < 1 {
		t.Fatalf("expected route template labels, got matched=%v unmatched=%v", matched, unmatched)
	}
}

func TestStatusClass(t *testing.T) {
	for status, want := range map[int]string{200: "2xx", 201: "2xx", 404: "4xx", 429: "4xx", 503: "5xx"} {
		if got := statusClass(status); got != want {
			t.Fatalf("statusClass(%d) = %q, want %q", status, got, want)
		}
	}
}

func TestGinMiddlewareObservesUploadSize(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(GinMiddleware())
	router.POST("/v1/sheets/upload", func(c *gin.Context) { c.Status(http.StatusCreated) })

	req := httptest.NewRequest(http.MethodPost, "/v1/sheets/upload", strings.NewReader(strings.Repeat("x", 1024)))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=xyz")
	router.ServeHTTP(httptest.NewRecorder(), req)

	if got := testutil.CollectAndCount(uploadBodyBytes); got < 1 {
		t.Fatalf("expected upload size observation")
	}
}

func TestBusinessCounters(t *testing.T) {
	before := testutil.ToFloat64(sheetDownloadsTotal)
	RecordDownload()
	if got := testutil.ToFloat64(sheetDownloadsTotal); got != before+1 {
		t.Fatalf("download counter did not increase")
	}
	RecordOrderTransition("PAID")
	if got := testutil.ToFloat64(orderTransitionsTotal.WithLabelValues("PAID")); got < 1 {
		t.Fatalf("order transition counter did not increase")
	}
}
