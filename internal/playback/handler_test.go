package playback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Kalplaoffice/kalpla-platform-sub004/internal/auth"
	"github.com/Kalplaoffice/kalpla-platform-sub004/internal/middleware"
	"github.com/Kalplaoffice/kalpla-platform-sub004/internal/models"
)

var errLessonMissing = errors.New("lesson missing")

type fakeLessonSource struct {
	lessons map[uuid.UUID]*models.Lesson
}

func (f *fakeLessonSource) GetByID(ctx context.Context, id uuid.UUID) (*models.Lesson, error) {
	l, ok := f.lessons[id]
	if !ok {
		return nil, errLessonMissing
	}
	return l, nil
}

type handlerEnv struct {
	router  *gin.Engine
	jwt     *auth.JWTService
	manager *Manager
	lesson  *models.Lesson
}

func newHandlerEnv(t *testing.T) *handlerEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	lesson := managerLesson()
	source := &fakeLessonSource{lessons: map[uuid.UUID]*models.Lesson{lesson.ID: lesson}}
	manager := newTestManager(&managerWriter{}, &managerSessionLog{}, &managerSink{})
	jwtService := auth.NewJWTService("test-secret")
	handler := NewHandler(manager, source, nil)

	router := gin.New()
	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	api.POST("/lessons/:id/playback", handler.Start)
	api.GET("/playback/:id", handler.Snapshot)
	api.POST("/playback/:id/intent", handler.Intent)
	api.DELETE("/playback/:id", handler.Close)

	return &handlerEnv{router: router, jwt: jwtService, manager: manager, lesson: lesson}
}

func (e *handlerEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *handlerEnv) token(t *testing.T, viewerID uuid.UUID, role string) string {
	t.Helper()
	token, err := e.jwt.Generate(viewerID, role, time.Hour)
	require.NoError(t, err)
	return token
}

func envelope(t *testing.T, w *httptest.ResponseRecorder) map[string]json.RawMessage {
	t.Helper()
	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestHandlerStartAndSnapshot(t *testing.T) {
	env := newHandlerEnv(t)
	viewerID := uuid.New()
	token := env.token(t, viewerID, auth.RoleStudent)

	w := env.do(t, http.MethodPost, "/lessons/"+env.lesson.ID.String()+"/playback", token,
		StartRequest{Device: "web", DownlinkKbps: 2200})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var started StartResponse
	require.NoError(t, json.Unmarshal(envelope(t, w)["data"], &started))
	assert.Equal(t, models.StateLoading, started.Snapshot.State)
	assert.NotEmpty(t, started.Credentials.Qualities)
	defer env.manager.Close(context.Background(), started.SessionID)

	w = env.do(t, http.MethodGet, "/playback/"+started.SessionID.String(), token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var snap models.PlaybackSnapshot
	require.NoError(t, json.Unmarshal(envelope(t, w)["data"], &snap))
	assert.Equal(t, started.SessionID, snap.SessionID)
	assert.Equal(t, viewerID, snap.ViewerID)
}

func TestHandlerRejectsMissingToken(t *testing.T) {
	env := newHandlerEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/lessons/"+env.lesson.ID.String()+"/playback", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandlerForbidsOtherViewersSession(t *testing.T) {
	env := newHandlerEnv(t)
	owner := env.token(t, uuid.New(), auth.RoleStudent)

	w := env.do(t, http.MethodPost, "/lessons/"+env.lesson.ID.String()+"/playback", owner, StartRequest{})
	require.Equal(t, http.StatusCreated, w.Code)
	var started StartResponse
	require.NoError(t, json.Unmarshal(envelope(t, w)["data"], &started))
	defer env.manager.Close(context.Background(), started.SessionID)

	stranger := env.token(t, uuid.New(), auth.RoleStudent)
	w = env.do(t, http.MethodGet, "/playback/"+started.SessionID.String(), stranger, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	admin := env.token(t, uuid.New(), auth.RoleAdmin)
	w = env.do(t, http.MethodGet, "/playback/"+started.SessionID.String(), admin, nil)
	assert.Equal(t, http.StatusOK, w.Code, "admins can inspect any session")
}

func TestHandlerIntentFlow(t *testing.T) {
	env := newHandlerEnv(t)
	token := env.token(t, uuid.New(), auth.RoleStudent)

	w := env.do(t, http.MethodPost, "/lessons/"+env.lesson.ID.String()+"/playback", token, StartRequest{})
	require.Equal(t, http.StatusCreated, w.Code)
	var started StartResponse
	require.NoError(t, json.Unmarshal(envelope(t, w)["data"], &started))
	defer env.manager.Close(context.Background(), started.SessionID)

	base := "/playback/" + started.SessionID.String() + "/intent"

	w = env.do(t, http.MethodPost, base, token, IntentRequest{Intent: "ready"})
	require.Equal(t, http.StatusOK, w.Code)
	var snap models.PlaybackSnapshot
	require.NoError(t, json.Unmarshal(envelope(t, w)["data"], &snap))
	assert.Equal(t, models.StatePaused, snap.State)

	w = env.do(t, http.MethodPost, base, token, IntentRequest{Intent: "play"})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(envelope(t, w)["data"], &snap))
	assert.Equal(t, models.StatePlaying, snap.State)

	w = env.do(t, http.MethodPost, base, token, IntentRequest{Intent: "seek", PositionSec: 90})
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(envelope(t, w)["data"], &snap))
	assert.Equal(t, 90.0, snap.PositionSeconds)

	w = env.do(t, http.MethodPost, base, token, IntentRequest{Intent: "set_quality", Quality: "4k"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, base, token, IntentRequest{Intent: "retry"})
	assert.Equal(t, http.StatusConflict, w.Code, "retry outside errored is an invalid transition")

	w = env.do(t, http.MethodPost, base, token, IntentRequest{Intent: "levitate"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandlerCloseReturnsSummary(t *testing.T) {
	env := newHandlerEnv(t)
	token := env.token(t, uuid.New(), auth.RoleStudent)

	w := env.do(t, http.MethodPost, "/lessons/"+env.lesson.ID.String()+"/playback", token, StartRequest{})
	require.Equal(t, http.StatusCreated, w.Code)
	var started StartResponse
	require.NoError(t, json.Unmarshal(envelope(t, w)["data"], &started))

	w = env.do(t, http.MethodDelete, "/playback/"+started.SessionID.String(), token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var closed CloseResponse
	require.NoError(t, json.Unmarshal(envelope(t, w)["data"], &closed))
	assert.Equal(t, started.SessionID, closed.SessionID)
	assert.Equal(t, models.StateLoading, closed.LastState)

	w = env.do(t, http.MethodGet, "/playback/"+started.SessionID.String(), token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandlerUnknownLesson(t *testing.T) {
	env := newHandlerEnv(t)
	token := env.token(t, uuid.New(), auth.RoleStudent)
	w := env.do(t, http.MethodPost, "/lessons/"+uuid.NewString()+"/playback", token, StartRequest{})
	assert.Equal(t, http.StatusNotFound, w.Code)
}
