package http

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/telegate/teleop/internal/core"
	"github.com/telegate/teleop/internal/domain"
)

// ServiceAPI is the REST CRUD surface for service records and their rooms.
// Room mutations go through a scratch registry hydrated from the persisted
// blob and written back, so the record stays the single source of truth.
type ServiceAPI struct {
	Store     core.Store
	ICEServer *domain.ICEServer
}

func genToken(length int) string {
	sum := sha256.Sum256([]byte(time.Now().String()))
	return hex.EncodeToString(sum[:])[:length]
}

func (a *ServiceAPI) ListServices(c *gin.Context) {
	services, err := a.Store.ListServices(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": len(services), "services": services})
}

func (a *ServiceAPI) CreateService(c *gin.Context) {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	reg := core.NewRegistry(id)
	reg.Initialize()

	now := time.Now()
	svc := &domain.Service{
		ID:         id,
		Token:      genToken(4),
		ICEServer:  a.ICEServer,
		Rooms:      reg.Snapshot(),
		Status:     domain.ServiceNew,
		CreateTime: now,
		UpdateTime: now,
	}
	if err := a.Store.UpdateService(c.Request.Context(), id, svc); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "message": err.Error()})
		return
	}
	log.Info().Str("module", "adapters.http").Str("service", id).Msg("service created")
	c.JSON(http.StatusOK, svc)
}

func (a *ServiceAPI) GetService(c *gin.Context) {
	svc, err := a.Store.GetService(c.Request.Context(), c.Param("service_id"))
	if err != nil {
		a.notFoundOr500(c, err)
		return
	}
	c.JSON(http.StatusOK, svc)
}

func (a *ServiceAPI) DeleteService(c *gin.Context) {
	id := c.Param("service_id")
	svc, err := a.Store.GetService(c.Request.Context(), id)
	if err != nil {
		a.notFoundOr500(c, err)
		return
	}
	if err := a.Store.DeleteService(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "message": err.Error()})
		return
	}
	log.Info().Str("module", "adapters.http").Str("service", id).Msg("service deleted")
	c.JSON(http.StatusOK, svc)
}

func (a *ServiceAPI) ListRooms(c *gin.Context) {
	svc, err := a.Store.GetService(c.Request.Context(), c.Param("service_id"))
	if err != nil {
		a.notFoundOr500(c, err)
		return
	}
	c.JSON(http.StatusOK, svc.Rooms)
}

func (a *ServiceAPI) CreateRoom(c *gin.Context) {
	var req domain.Room
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": 400, "message": err.Error()})
		return
	}
	id := c.Param("service_id")
	svc, err := a.Store.GetService(c.Request.Context(), id)
	if err != nil {
		a.notFoundOr500(c, err)
		return
	}

	reg := a.scratchRegistry(svc)
	room := reg.Create(req.Name, req.Kind, req.MaxUsers, req.ID)
	svc.Rooms = reg.Snapshot()
	svc.UpdateTime = time.Now()
	if err := a.Store.UpdateService(c.Request.Context(), id, svc); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, room)
}

func (a *ServiceAPI) GetRoom(c *gin.Context) {
	svc, err := a.Store.GetService(c.Request.Context(), c.Param("service_id"))
	if err != nil {
		a.notFoundOr500(c, err)
		return
	}
	name, roomID := roomRef(c.Param("room_id"))
	room, ok := a.scratchRegistry(svc).Resolve(name, roomID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"code": 404, "message": "room not found"})
		return
	}
	c.JSON(http.StatusOK, room)
}

func (a *ServiceAPI) DeleteRoom(c *gin.Context) {
	id := c.Param("service_id")
	svc, err := a.Store.GetService(c.Request.Context(), id)
	if err != nil {
		a.notFoundOr500(c, err)
		return
	}

	reg := a.scratchRegistry(svc)
	name, roomID := roomRef(c.Param("room_id"))
	deleted := reg.Delete(name, roomID)
	svc.Rooms = reg.Snapshot()
	svc.UpdateTime = time.Now()
	if err := a.Store.UpdateService(c.Request.Context(), id, svc); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

// scratchRegistry rebuilds a registry from the record, bootstrapping the
// default set when the blob is empty.
func (a *ServiceAPI) scratchRegistry(svc *domain.Service) *core.Registry {
	reg := core.NewRegistry(svc.ID)
	if svc.Rooms == nil || len(svc.Rooms.Rooms) == 0 {
		reg.Initialize()
	} else {
		reg.Hydrate(svc.Rooms)
	}
	return reg
}

func roomRef(param string) (name string, id int) {
	if n, err := strconv.Atoi(param); err == nil {
		return "", n
	}
	return param, 0
}

func (a *ServiceAPI) notFoundOr500(c *gin.Context, err error) {
	if errors.Is(err, core.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"code": 404, "message": "service not found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"code": 500, "message": err.Error()})
}
