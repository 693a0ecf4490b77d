package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/referral-api/internal/config"
	"github.com/jwalitptl/referral-api/internal/middleware"
	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/repository/memory"
	"github.com/jwalitptl/referral-api/internal/seed"
	"github.com/jwalitptl/referral-api/pkg/logger"
)

const (
	adminEmail    = "admin@clinic.test"
	adminPassword = "changeme123"
)

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Details json.RawMessage `json:"details"`
}

type testServer struct {
	t       *testing.T
	app     *App
	handler http.Handler
}

func testConfig(mode string) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{MaxUploadMB: 1},
		JWT:    config.JWTConfig{Secret: "test-secret", Issuer: "test", ExpiryHours: 1},
		Email: config.EmailConfig{
			Driver:   "log",
			Medical:  config.EmailTemplate{ID: "medical-review", Subject: "Thanks"},
			Wellness: config.EmailTemplate{ID: "wellness-referral", Subject: "Your code"},
		},
		Pipeline: config.PipelineConfig{CodeAttempts: 5, Mode: mode},
		Metrics:  config.MetricsConfig{Namespace: "test"},
	}
}

func newTestServer(t *testing.T, mode string) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	require.NoError(t, middleware.RegisterValidation(middleware.ValidationConfig{}))

	a, err := NewWithStore(testConfig(mode), logger.Nop(), memory.NewStore())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })

	_, err = seed.NewSeeder(a.Store, a.Hasher, logger.Nop()).Run(context.Background(), seed.Options{
		AdminEmail:    adminEmail,
		AdminPassword: adminPassword,
		ClinicName:    "Zenith",
		ReviewURL:     "https://g.page/zenith/review",
		RewardCopy:    "Give $20, get $20",
	})
	require.NoError(t, err)

	return &testServer{t: t, app: a, handler: a.Router().Engine()}
}

func (s *testServer) do(method, path, token string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	s.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	return s.send(req, token)
}

func (s *testServer) send(req *http.Request, token string) (*httptest.ResponseRecorder, envelope) {
	s.t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		_ = json.Unmarshal(w.Body.Bytes(), &env)
	}
	return w, env
}

func (s *testServer) login(email, password string) string {
	s.t.Helper()
	w, env := s.do(http.MethodPost, "/api/v1/auth/login", "", model.LoginRequest{Email: email, Password: password})
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())
	var token model.TokenResponse
	require.NoError(s.t, json.Unmarshal(env.Data, &token))
	return token.AccessToken
}

func (s *testServer) staffToken() string {
	s.t.Helper()
	admin := s.login(adminEmail, adminPassword)
	w, _ := s.do(http.MethodPost, "/api/v1/users", admin, model.CreateUserRequest{
		Email: "staff@clinic.test", Password: "staffpass1", Role: model.RoleStaff,
	})
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	return s.login("staff@clinic.test", "staffpass1")
}

func (s *testServer) uploadCSV(token, filename, content string) (*httptest.ResponseRecorder, envelope) {
	s.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	require.NoError(s.t, err)
	_, err = part.Write([]byte(content))
	require.NoError(s.t, err)
	require.NoError(s.t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/uploads", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return s.send(req, token)
}

type uploadResponse struct {
	Batch  model.UploadBatch  `json:"batch"`
	Result *model.BatchResult `json:"result"`
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, "inline")

	w, _ := s.do(http.MethodGet, "/api/v1/health/live", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = s.do(http.MethodGet, "/api/v1/health/ready", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "test_http_requests_total")
}

func TestLoginAndProfile(t *testing.T) {
	s := newTestServer(t, "inline")

	w, env := s.do(http.MethodPost, "/api/v1/auth/login", "", model.LoginRequest{Email: adminEmail, Password: "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "error", env.Status)

	w, env = s.do(http.MethodPost, "/api/v1/auth/login", "", map[string]string{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, string(env.Details), `"field":"email"`)

	token := s.login(adminEmail, adminPassword)
	w, env = s.do(http.MethodGet, "/api/v1/users/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var me model.User
	require.NoError(t, json.Unmarshal(env.Data, &me))
	assert.Equal(t, adminEmail, me.Email)
	assert.NotContains(t, string(env.Data), "password")
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t, "inline")

	w, _ := s.do(http.MethodGet, "/api/v1/services", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = s.do(http.MethodGet, "/api/v1/services", "garbage-token", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminRoutesRejectStaff(t *testing.T) {
	s := newTestServer(t, "inline")
	staff := s.staffToken()

	w, _ := s.do(http.MethodGet, "/api/v1/services", staff, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(http.MethodPut, "/api/v1/settings", staff, model.UpdateSettingsRequest{
		ClinicName: "x", ReviewURL: "https://x.test", ReferralRewardCopy: "x",
	})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = s.do(http.MethodGet, "/api/v1/audit/logs", staff, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = s.do(http.MethodGet, "/api/v1/users", staff, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestSettingsUpdateValidation(t *testing.T) {
	s := newTestServer(t, "inline")
	admin := s.login(adminEmail, adminPassword)

	w, env := s.do(http.MethodPut, "/api/v1/settings", admin, model.UpdateSettingsRequest{
		ClinicName: "Zenith", ReviewURL: "not a url", ReferralRewardCopy: "Give $20",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, string(env.Details), `"field":"review_url"`)

	w, _ = s.do(http.MethodPut, "/api/v1/settings", admin, model.UpdateSettingsRequest{
		ClinicName: "Zenith", ReviewURL: "https://g.page/new", ReferralRewardCopy: "Give $30",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, env = s.do(http.MethodGet, "/api/v1/settings", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got model.Settings
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Equal(t, "https://g.page/new", got.ReviewURL)
}

func TestInlineUploadRunsPipeline(t *testing.T) {
	s := newTestServer(t, "inline")
	staff := s.staffToken()
	admin := s.login(adminEmail, adminPassword)

	csv := "Email,First Name,Service,Start Time,Status\n" +
		"ann@x.com,Ann,Yoga,2024-01-01,Completed\n" +
		"bob@x.com,Bob,Sound Bath,2024-01-02,Completed\n" +
		"cy@x.com,Cy,MRI Scan,2024-01-03,No-Show\n"
	w, env := s.uploadCSV(staff, "export.csv", csv)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var res uploadResponse
	require.NoError(t, json.Unmarshal(env.Data, &res))
	require.NotNil(t, res.Result)
	assert.Equal(t, model.BatchStatusCompleted, res.Batch.Status)
	assert.Equal(t, 3, res.Result.Total)
	assert.Equal(t, 1, res.Result.Sent)
	assert.Equal(t, 2, res.Result.Deferred)

	w, env = s.do(http.MethodGet, "/api/v1/services/unknown", staff, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var unknown []model.UnknownService
	require.NoError(t, json.Unmarshal(env.Data, &unknown))
	require.Len(t, unknown, 1)
	assert.Equal(t, "Sound Bath", unknown[0].Name)

	path := fmt.Sprintf("/api/v1/services/%s/classify", unknown[0].ID)
	w, _ = s.do(http.MethodPost, path, staff, model.ClassifyServiceRequest{Classification: model.ClassificationWellness})
	assert.Equal(t, http.StatusForbidden, w.Code)
	w, _ = s.do(http.MethodPost, path, admin, model.ClassifyServiceRequest{Classification: model.ClassificationWellness})
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(http.MethodGet, "/api/v1/uploads/"+res.Batch.ID.String(), staff, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(http.MethodGet, "/api/v1/uploads/"+uuid.NewString(), staff, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w, _ = s.do(http.MethodGet, "/api/v1/uploads/not-a-uuid", staff, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUploadRejectsBadFiles(t *testing.T) {
	s := newTestServer(t, "inline")
	staff := s.staffToken()

	w, _ := s.uploadCSV(staff, "export.txt", "Email\n")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env := s.uploadCSV(staff, "export.csv", "Email,Service,Start Time\nnot-an-email,Yoga,2024-01-01\n")
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	assert.Contains(t, string(env.Details), "patientEmail")

	batches, total, err := s.app.Store.Batches.List(context.Background(), &model.BatchFilters{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, batches)
}

func TestQueuedUploadIsAccepted(t *testing.T) {
	s := newTestServer(t, "queue")
	staff := s.staffToken()

	w, env := s.uploadCSV(staff, "export.csv", "Email,Service,Start Time,Status\nann@x.com,Yoga,2024-01-01,Completed\n")
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	var res uploadResponse
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, model.BatchStatusQueued, res.Batch.Status)
	assert.Nil(t, res.Result)

	msg, err := s.app.Queue.Dequeue(context.Background(), time.Second)
	require.NoError(t, err)
	require.NoError(t, s.app.BatchWorker().Handle(context.Background(), msg))

	w, env = s.do(http.MethodGet, "/api/v1/uploads/"+res.Batch.ID.String(), staff, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var batch model.UploadBatch
	require.NoError(t, json.Unmarshal(env.Data, &batch))
	assert.Equal(t, model.BatchStatusCompleted, batch.Status)
	assert.Equal(t, 1, batch.Sent)
}

func TestReferralRedemptionCreatesTask(t *testing.T) {
	s := newTestServer(t, "inline")
	staff := s.staffToken()

	w, _ := s.uploadCSV(staff, "first.csv", "Email,Service,Start Time,Status\nann@x.com,Yoga,2024-01-01,Completed\n")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, env := s.do(http.MethodGet, "/api/v1/referrals?status=ACTIVE", staff, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var codes []model.ReferralCodeDetails
	require.NoError(t, json.Unmarshal(env.Data, &codes))
	require.Len(t, codes, 1)
	assert.Equal(t, "ann@x.com", codes[0].OwnerEmail)

	second := "Email,Service,Start Time,Status,Referral Code\n" +
		"bea@x.com,MRI Scan,2024-01-05,Completed," + codes[0].Code + "\n"
	w, env = s.uploadCSV(staff, "second.csv", second)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res uploadResponse
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, 1, res.Result.Redeemed)

	w, env = s.do(http.MethodGet, "/api/v1/tasks?status=OPEN", staff, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var tasks []model.TaskWithDetails
	require.NoError(t, json.Unmarshal(env.Data, &tasks))
	require.Len(t, tasks, 1)
	assert.Equal(t, "bea@x.com", tasks[0].NewPatientEmail)

	path := "/api/v1/tasks/" + tasks[0].ID.String() + "/complete"
	w, _ = s.do(http.MethodPost, path, staff, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = s.do(http.MethodPost, path, staff, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestPreviewClassification(t *testing.T) {
	s := newTestServer(t, "inline")
	staff := s.staffToken()

	w, env := s.do(http.MethodPost, "/api/v1/services/classify", staff, model.ClassifyPreviewRequest{ServiceName: "Therapeutic Massage"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(string(env.Data), `"type":"WELLNESS"`))
}

func TestAuditTrailForBatch(t *testing.T) {
	s := newTestServer(t, "inline")
	admin := s.login(adminEmail, adminPassword)

	w, env := s.uploadCSV(admin, "export.csv", "Email,Service,Start Time,Status\nann@x.com,Yoga,2024-01-01,Completed\n")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res uploadResponse
	require.NoError(t, json.Unmarshal(env.Data, &res))

	w, env = s.do(http.MethodGet, "/api/v1/audit/logs?batch_id="+res.Batch.ID.String(), admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var logs []model.AuditLog
	require.NoError(t, json.Unmarshal(env.Data, &logs))
	actions := make(map[string]bool)
	for _, l := range logs {
		actions[l.Action] = true
	}
	assert.True(t, actions[model.AuditEmailSent])
	assert.True(t, actions[model.AuditBatchSummary])

	w, _ = s.do(http.MethodGet, "/api/v1/audit/logs?batch_id=nope", admin, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = s.do(http.MethodGet, "/api/v1/audit/stats", admin, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats model.AuditStats
	require.NoError(t, json.Unmarshal(env.Data, &stats))
	assert.Positive(t, stats.Total)
	assert.Positive(t, stats.ByAction[model.AuditLogin])
}
