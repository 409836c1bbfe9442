package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telegate/teleop/internal/adapters/memstore"
	"github.com/telegate/teleop/internal/adapters/ws"
	"github.com/telegate/teleop/internal/config"
	"github.com/telegate/teleop/internal/domain"
)

func testRouter(t *testing.T, secret string) (*gin.Engine, *memstore.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		Mode:        "release",
		StaticPath:  t.TempDir(),
		Secret:      secret,
		ReadLimit:   32768,
		SendQueue:   32,
		PingTimeout: 60 * time.Second,
		SendTimeout: time.Second,
	}
	store := memstore.New()
	return SetupRouter(context.Background(), cfg, ws.NewHub(cfg), store), store
}

func do(t *testing.T, r *gin.Engine, method, path, token string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("X-Auth-Token", token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthTokenMiddleware(t *testing.T) {
	r, _ := testRouter(t, "s3cret")

	w := do(t, r, http.MethodGet, "/v1/service", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, r, http.MethodGet, "/v1/service", "wrong", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(t, r, http.MethodGet, "/v1/service", "s3cret", "")
	assert.Equal(t, http.StatusOK, w.Code)

	// Query param works for clients that cannot set headers.
	w = do(t, r, http.MethodGet, "/v1/service?x-auth-token=s3cret", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateService(t *testing.T) {
	r, store := testRouter(t, "")

	w := do(t, r, http.MethodPost, "/v1/service", "", "")
	require.Equal(t, http.StatusOK, w.Code)

	var svc domain.Service
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &svc))
	assert.Len(t, svc.ID, 32, "uuid without dashes")
	assert.Len(t, svc.Token, 4)
	assert.Equal(t, domain.ServiceNew, svc.Status)
	require.NotNil(t, svc.Rooms)
	assert.Len(t, svc.Rooms.Rooms, 8, "default room set persisted at creation")

	stored, err := store.GetService(context.Background(), svc.ID)
	require.NoError(t, err)
	assert.Equal(t, svc.Token, stored.Token)
}

func TestGetServiceNotFound(t *testing.T) {
	r, _ := testRouter(t, "")
	w := do(t, r, http.MethodGet, "/v1/service/nope", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteService(t *testing.T) {
	r, store := testRouter(t, "")
	require.NoError(t, store.UpdateService(context.Background(), "s1", &domain.Service{ID: "s1", Status: domain.ServiceActive}))

	w := do(t, r, http.MethodDelete, "/v1/service/s1", "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, r, http.MethodDelete, "/v1/service/s1", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRoomLifecycle(t *testing.T) {
	r, _ := testRouter(t, "")

	w := do(t, r, http.MethodPost, "/v1/service", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var svc domain.Service
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &svc))
	base := "/v1/service/" + svc.ID + "/rooms"

	// Create a room beyond the default set.
	w = do(t, r, http.MethodPost, base, "", `{"room_name":"depth_camera","room_type":"video","max_users":2}`)
	require.Equal(t, http.StatusOK, w.Code)
	var room domain.Room
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &room))
	assert.Equal(t, "depth_camera", room.Name)
	assert.Equal(t, 2, room.MaxUsers)
	require.NotZero(t, room.ID)

	// Readable by name and by numeric id.
	w = do(t, r, http.MethodGet, base+"/depth_camera", "", "")
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(t, r, http.MethodGet, base+"/"+strconv.Itoa(room.ID), "", "")
	assert.Equal(t, http.StatusOK, w.Code)

	// Creating the same name again returns the existing room.
	w = do(t, r, http.MethodPost, base, "", `{"room_name":"depth_camera","room_type":"text"}`)
	require.Equal(t, http.StatusOK, w.Code)
	var again domain.Room
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &again))
	assert.Equal(t, room.ID, again.ID)

	// Delete is idempotent from the caller's view.
	w = do(t, r, http.MethodDelete, base+"/depth_camera", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deleted":true}`, w.Body.String())

	w = do(t, r, http.MethodDelete, base+"/depth_camera", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"deleted":false}`, w.Body.String())

	w = do(t, r, http.MethodGet, base+"/depth_camera", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListRooms(t *testing.T) {
	r, _ := testRouter(t, "")

	w := do(t, r, http.MethodPost, "/v1/service", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var svc domain.Service
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &svc))

	w = do(t, r, http.MethodGet, "/v1/service/"+svc.ID+"/rooms", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	var state domain.RoomState
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.Len(t, state.Rooms, 8)
	assert.Contains(t, state.Rooms, "Teleop")
}
