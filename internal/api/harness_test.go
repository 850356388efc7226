package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"studyhub/internal/account"
	"studyhub/internal/admin"
	"studyhub/internal/auth"
	"studyhub/internal/catalog"
	"studyhub/internal/config"
	"studyhub/internal/database"
	"studyhub/internal/notify"
	"studyhub/internal/ordering"
	"studyhub/internal/store"
	"studyhub/internal/store/storetest"
	"studyhub/internal/uploader"
)

const (
	testSecret   = "0123456789abcdef0123456789abcdef"
	testInternal = "internal-secret"
)

var (
	pdfBytes = []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\ntrailer\n<<>>\n%%EOF\n")
	pngBytes = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR\x00\x00\x00\x01\x00\x00\x00\x01\x08\x06\x00\x00\x00")
)

type fakeStorage struct {
	mu       sync.Mutex
	uploaded map[string][]byte
	types    map[string]string
	deleted  []string
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{uploaded: map[string][]byte{}, types: map[string]string{}}
}

func (s *fakeStorage) UploadFile(_ context.Context, objectKey string, reader io.Reader, _ int64, contentType string) error {
	b, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploaded[objectKey] = b
	s.types[objectKey] = contentType
	return nil
}

func (s *fakeStorage) GeneratePresignedURL(_ context.Context, objectKey string, _ time.Duration, filename string) (string, error) {
	if filename != "" {
		return "https://objects.invalid/" + objectKey + "?download=1", nil
	}
	return "https://objects.invalid/" + objectKey, nil
}

func (s *fakeStorage) DeleteObject(_ context.Context, objectKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, objectKey)
	delete(s.uploaded, objectKey)
	return nil
}

func (s *fakeStorage) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.uploaded)
}

type recordingEnqueuer struct {
	mu   sync.Mutex
	keys []string
}

func (e *recordingEnqueuer) EnqueueBlobCleanup(_ context.Context, keys []string, _, _ string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.keys = append(e.keys, keys...)
	return nil
}

func (e *recordingEnqueuer) all() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.keys...)
}

type testServer struct {
	router   *gin.Engine
	store    *store.GormStore
	tokens   *auth.AuthService
	accounts *account.AccountService
	storage  *fakeStorage
	cleanup  *recordingEnqueuer
	redis    *miniredis.Miniredis
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	st := storetest.New(t)
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	tokens, err := auth.NewAuthService(testSecret, time.Hour, 4)
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}
	cfg := &config.Config{
		API: config.APIConfig{InternalSecret: testInternal},
		Auth: config.AuthConfig{
			LoginRateLimitPerHour: 20,
			LoginLockThreshold:    3,
			LoginLockTTL:          time.Minute,
		},
		Upload: config.UploadConfig{
			MaxPDFBytes:      1 << 20,
			MaxImageBytes:    64 << 10,
			MaxPreviewImages: 5,
			URLTTL:           time.Hour,
		},
	}

	storage := newFakeStorage()
	cleanup := &recordingEnqueuer{}
	publisher := notify.NewRedisPublisher(rdb)
	accounts := account.NewAccountService(st, tokens, cleanup, logger)
	orders := ordering.NewOrderService(st, publisher, cleanup, logger)

	router := NewRouter(cfg, logger)
	RegisterRoutes(router, Deps{
		Services: Services{
			Accounts:  accounts,
			Sheets:    catalog.NewSheetService(st, orders, publisher, cleanup, logger),
			Orders:    orders,
			Uploaders: uploader.NewUploaderService(st, publisher, logger),
			Admin:     admin.NewAdminService(st),
		},
		Config:  cfg,
		Tokens:  tokens,
		Redis:   rdb,
		Storage: storage,
		Cleanup: cleanup,
		Logger:  logger,
	})

	return &testServer{
		router:   router,
		store:    st,
		tokens:   tokens,
		accounts: accounts,
		storage:  storage,
		cleanup:  cleanup,
		redis:    mr,
	}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

type formFile struct {
	field, name string
	content     []byte
}

func (s *testServer) upload(t *testing.T, path, token string, fields map[string]string, files ...formFile) *httptest.ResponseRecorder {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	for _, f := range files {
		part, err := writer.CreateFormFile(f.field, f.name)
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := part.Write(f.content); err != nil {
			t.Fatalf("write file: %v", err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// seed 创建用户并签发令牌，绕过注册接口。
func (s *testServer) seed(t *testing.T, email, role string) (*database.User, string) {
	t.Helper()
	user := storetest.SeedUser(t, s.store, email, role)
	token, err := s.tokens.GenerateToken(user.ID)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return user, token
}

func (s *testServer) seedUploader(t *testing.T, email string) (*database.User, string) {
	t.Helper()
	user, token := s.seed(t, email, database.RoleUser)
	storetest.SeedUploader(t, s.store, user.ID, true)
	return user, token
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("expected %d got %d body=%s", want, w.Code, w.Body.String())
	}
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details []struct {
		Field   string `json:"field"`
		Message string `json:"message"`
	} `json:"details"`
}

func expectError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) errorResponse {
	t.Helper()
	expectStatus(t, w, status)
	var body errorResponse
	decode(t, w, &body)
	if body.Error != code || body.Message == "" {
		t.Fatalf("expected %s error body, got %s", code, w.Body.String())
	}
	return body
}

func sheetFields(name string, price float64) map[string]string {
	return map[string]string{
		"subjectName": name,
		"subjectCode": "CS" + strings.ToUpper(name[:2]),
		"faculty":     "Engineering",
		"major":       "Computer",
		"term":        "1",
		"section":     "2",
		"shortDesc":   "Complete lecture notes for " + name,
		"price":       fmt.Sprint(price),
	}
}
