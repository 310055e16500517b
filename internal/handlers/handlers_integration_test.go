package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"resqtail/internal/app"
	"resqtail/internal/config"
	"resqtail/internal/database"
	"resqtail/internal/logger"
	"resqtail/internal/middleware"
	"resqtail/internal/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fakeUploader struct {
	mu    sync.Mutex
	files []string
}

func (u *fakeUploader) Upload(_ context.Context, file *storage.ImageFile) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.files = append(u.files, file.Filename)
	return "https://cdn.example.com/reports/" + file.OwnerID + "/" + file.Filename, nil
}

type fakeMailer struct {
	mu sync.Mutex
	to []string
}

func (m *fakeMailer) Send(_ context.Context, to, _, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.to = append(m.to, to)
	return nil
}

// setupApp wires the full application over an in-memory SQLite database.
func setupApp(t *testing.T) (*app.App, *fakeUploader) {
	t.Helper()
	cfg := &config.Config{
		App: config.AppConfig{
			SessionSecret: "test_session_secret",
			SessionTTL:    time.Hour,
			NotifyTimeout: 5 * time.Second,
		},
		Database: config.DatabaseConfig{
			Driver: "sqlite",
			DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", uuid.NewString()),
		},
	}

	db, err := database.Open(cfg.Database)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, database.Migrate(db))

	uploader := &fakeUploader{}
	application, err := app.Build(cfg, app.Deps{DB: db, Uploader: uploader, Mailer: &fakeMailer{}}, logger.Discard())
	require.NoError(t, err)
	application.Auth.WithHashCost(bcrypt.MinCost)
	t.Cleanup(func() { _ = application.Shutdown() })
	return application, uploader
}

func doJSON(t *testing.T, a *app.App, method, path, token string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(jsonBody)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return send(t, a, req)
}

func send(t *testing.T, a *app.App, req *http.Request) (*http.Response, map[string]interface{}) {
	t.Helper()
	resp, err := a.Fiber.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]interface{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	}
	return resp, decoded
}

func registerAndLogin(t *testing.T, a *app.App, name, email, role string) string {
	t.Helper()
	resp, _ := doJSON(t, a, http.MethodPost, "/register", "", map[string]string{
		"name": name, "email": email, "password": "password123", "role": role,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := doJSON(t, a, http.MethodPost, "/login", "", map[string]string{
		"email": email, "password": "password123",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token, _ := body["token"].(string)
	require.NotEmpty(t, token)
	return token
}

func multipartReport(t *testing.T, token, description, lat, lon string, withImage bool) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("description", description))
	require.NoError(t, w.WriteField("lat", lat))
	require.NoError(t, w.WriteField("lon", lon))
	if withImage {
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", `form-data; name="image"; filename="dog.png"`)
		header.Set("Content-Type", "image/png")
		part, err := w.CreatePart(header)
		require.NoError(t, err)
		_, err = part.Write([]byte("\x89PNG fake"))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/report", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestAuthRegisterAndLogin(t *testing.T) {
	a, _ := setupApp(t)

	user := map[string]string{
		"name":     "Alice",
		"email":    "alice@example.com",
		"password": "password123",
		"role":     "Volunteer",
	}
	resp, body := doJSON(t, a, http.MethodPost, "/register", "", user)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "Registration successful. Please login.", body["message"])
	registered := body["user"].(map[string]interface{})
	assert.NotContains(t, registered, "password_hash")

	// Duplicate email
	resp, _ = doJSON(t, a, http.MethodPost, "/register", "", user)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Invalid input
	resp, body = doJSON(t, a, http.MethodPost, "/register", "", map[string]string{"name": "Bob", "email": "nope", "password": "1"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["errors"], "email")
	assert.Contains(t, body["errors"], "password")

	// Wrong password
	resp, body = doJSON(t, a, http.MethodPost, "/login", "", map[string]string{"email": "alice@example.com", "password": "wrong-password"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Invalid credentials. Try again.", body["message"])

	// Login
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(`{"email":"alice@example.com","password":"password123"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, body = send(t, a, req)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Welcome, Alice!", body["message"])
	assert.Equal(t, "Volunteer", body["user"].(map[string]interface{})["role"])

	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == middleware.SessionCookie {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, body["token"], cookie.Value)

	// The cookie alone authenticates
	req = httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookie, Value: cookie.Value})
	resp, body = send(t, a, req)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Alice", body["name"])
	assert.Equal(t, "Volunteer", body["role"])

	// Logout ends the session
	resp, _ = doJSON(t, a, http.MethodPost, "/logout", cookie.Value, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = doJSON(t, a, http.MethodGet, "/dashboard", cookie.Value, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Logout while anonymous is fine
	resp, _ = doJSON(t, a, http.MethodGet, "/logout", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestProtectedRoutesWithoutAuth(t *testing.T) {
	a, _ := setupApp(t)

	resp, body := doJSON(t, a, http.MethodGet, "/dashboard", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "/login", body["redirect"])

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	resp, _ = send(t, a, req)
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))

	resp, _ = doJSON(t, a, http.MethodGet, "/dashboard", "forged-token", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = doJSON(t, a, http.MethodGet, "/events", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = send(t, a, multipartReport(t, "", "Dog", "1", "2", true))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestReportWorkflow(t *testing.T) {
	a, uploader := setupApp(t)

	bob := registerAndLogin(t, a, "Bob", "bob@example.com", "")
	alice := registerAndLogin(t, a, "Alice", "alice@example.com", "Volunteer")

	// Multipart submission with a photo
	resp, body := send(t, a, multipartReport(t, bob, "Injured dog near the park", "12.97", "77.59", true))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "Report submitted successfully.", body["message"])
	report := body["report"].(map[string]interface{})
	reportID := report["id"].(string)
	assert.Equal(t, "Pending", report["status"])
	assert.Contains(t, report["image_url"], "dog.png")
	assert.Equal(t, []string{"dog.png"}, uploader.files)
	a.WaitNotifications()

	// Missing photo and bad coordinates are rejected
	resp, body = send(t, a, multipartReport(t, bob, "No photo", "1", "2", false))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["errors"], "image")

	resp, body = send(t, a, multipartReport(t, bob, "Bad coords", "north", "200", true))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["errors"], "lat")

	resp, body = send(t, a, multipartReport(t, bob, "Out of range", "95", "0", true))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["errors"], "lat")

	// JSON submission with a hosted image
	resp, _ = doJSON(t, a, http.MethodPost, "/reports", bob, map[string]interface{}{
		"description": "Cat stuck in a drain",
		"image_url":   "https://cdn.example.com/cat.jpg",
		"lat":         1.5,
		"lon":         2.5,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	a.WaitNotifications()

	// Dashboard lists both, newest first
	resp, body = doJSON(t, a, http.MethodGet, "/dashboard", bob, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	reports := body["reports"].([]interface{})
	require.Len(t, reports, 2)
	assert.Equal(t, "Cat stuck in a drain", reports[0].(map[string]interface{})["description"])
	assert.Equal(t, "Bob", reports[0].(map[string]interface{})["reporter_name"])

	// Only volunteers mark reports cared
	resp, body = doJSON(t, a, http.MethodPost, "/reports/"+reportID+"/cared", bob, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "You're not authorized to mark reports as cared.", body["message"])

	resp, body = doJSON(t, a, http.MethodPost, "/reports/"+reportID+"/cared", alice, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["changed"])
	assert.Equal(t, "Cared", body["report"].(map[string]interface{})["status"])

	resp, body = doJSON(t, a, http.MethodGet, "/mark_cared/"+reportID, alice, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["changed"])
	assert.Equal(t, "Report was already marked as cared.", body["message"])

	resp, _ = doJSON(t, a, http.MethodPost, "/reports/unknown/cared", alice, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Only the reporter deletes
	resp, body = doJSON(t, a, http.MethodDelete, "/reports/"+reportID, alice, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "You're not authorized to delete this report.", body["message"])

	resp, body = doJSON(t, a, http.MethodGet, "/delete_report/"+reportID, bob, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Report deleted successfully.", body["message"])

	resp, _ = doJSON(t, a, http.MethodPost, "/reports/"+reportID+"/delete", bob, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	a, _ := setupApp(t)

	resp, body := doJSON(t, a, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	resp, err := a.Fiber.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "resqtail_reports_submitted_total")
}

func TestJSONSubmitRequiresCoordinates(t *testing.T) {
	a, _ := setupApp(t)
	bob := registerAndLogin(t, a, "Bob", "bob@example.com", "")

	resp, body := doJSON(t, a, http.MethodPost, "/reports", bob, map[string]interface{}{
		"description": "dog",
		"image_url":   "https://cdn.example.com/x.jpg",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["errors"], "lat")
	assert.Contains(t, body["errors"], "lon")

	// Zero is a real coordinate once it is sent
	resp, _ = doJSON(t, a, http.MethodPost, "/reports", bob, map[string]interface{}{
		"description": "dog on the equator",
		"image_url":   "https://cdn.example.com/y.jpg",
		"lat":         0,
		"lon":         0,
	})
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body = doJSON(t, a, http.MethodGet, "/dashboard", bob, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	reports := body["reports"].([]interface{})
	require.Len(t, reports, 1)
	assert.Equal(t, "dog on the equator", reports[0].(map[string]interface{})["description"])
}

func TestBearerTokenWinsOverStaleCookie(t *testing.T) {
	a, _ := setupApp(t)
	bob := registerAndLogin(t, a, "Bob", "bob@example.com", "")

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: middleware.SessionCookie, Value: "expired-session"})
	req.Header.Set("Authorization", "Bearer "+bob)
	resp, body := send(t, a, req)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Bob", body["name"])
}

func TestLinkAliasesRefuseCookieSessions(t *testing.T) {
	a, _ := setupApp(t)
	bob := registerAndLogin(t, a, "Bob", "bob@example.com", "")
	alice := registerAndLogin(t, a, "Alice", "alice@example.com", "Volunteer")

	resp, body := doJSON(t, a, http.MethodPost, "/reports", bob, map[string]interface{}{
		"description": "Cat on a ledge",
		"image_url":   "https://cdn.example.com/cat.jpg",
		"lat":         10,
		"lon":         20,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	reportID := body["report"].(map[string]interface{})["id"].(string)

	withCookie := func(path, token string) *http.Request {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.AddCookie(&http.Cookie{Name: middleware.SessionCookie, Value: token})
		return req
	}

	resp, _ = send(t, a, withCookie("/delete_report/"+reportID, bob))
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	resp, _ = send(t, a, withCookie("/mark_cared/"+reportID, alice))
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, body = doJSON(t, a, http.MethodGet, "/dashboard", bob, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	reports := body["reports"].([]interface{})
	require.Len(t, reports, 1)
	assert.Equal(t, "Pending", reports[0].(map[string]interface{})["status"])

	// The POST routes still accept the cookie
	req := withCookie("/reports/"+reportID+"/cared", alice)
	req.Method = http.MethodPost
	resp, _ = send(t, a, req)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
