package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/dkeye/meshvoice/internal/adapters/api"
	"github.com/dkeye/meshvoice/internal/adapters/signal"
	"github.com/dkeye/meshvoice/internal/app"
	"github.com/dkeye/meshvoice/internal/app/orch"
	"github.com/dkeye/meshvoice/internal/app/store"
	"github.com/dkeye/meshvoice/internal/domain"
	"github.com/dkeye/meshvoice/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type handlers struct {
	orch    *orch.Orchestrator
	limiter *signal.RoomRateLimiter
	ws      *signal.SignalWSController
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRoomFull):
		return http.StatusConflict
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, store.ErrInvalidSignal),
		errors.Is(err, domain.ErrRoomKeyEmpty),
		errors.Is(err, domain.ErrRoomKeyTooLong),
		errors.Is(err, domain.ErrUserIDEmpty),
		errors.Is(err, domain.ErrUserIDTooLong):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func fail(c *gin.Context, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("request failed")
	}
	c.AbortWithStatusJSON(status, api.ErrorResponse{Error: err.Error()})
}

func sid(c *gin.Context) app.SessionID {
	return app.SessionID(c.GetString(clientTokenKey))
}

func roomParam(c *gin.Context) (domain.RoomKey, bool) {
	room, err := domain.ParseRoomKey(c.Param("room"))
	if err != nil {
		fail(c, err)
		return "", false
	}
	return room, true
}

func roomUserParams(c *gin.Context) (domain.RoomKey, domain.UserID, bool) {
	room, ok := roomParam(c)
	if !ok {
		return "", "", false
	}
	user, err := domain.ParseUserID(c.Param("user"))
	if err != nil {
		fail(c, err)
		return "", "", false
	}
	return room, user, true
}

func (h *handlers) listRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.orch.Rooms()})
}

func (h *handlers) listParticipants(c *gin.Context) {
	room, ok := roomParam(c)
	if !ok {
		return
	}
	rows, err := h.orch.Participants(c.Request.Context(), room)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, api.ParticipantsResponse{Participants: rows})
}

func (h *handlers) setPresence(c *gin.Context) {
	room, user, ok := roomUserParams(c)
	if !ok {
		return
	}
	var req api.StateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, api.ErrorResponse{Error: "invalid body"})
		return
	}
	if err := h.orch.Join(c.Request.Context(), sid(c), room, user, req.Muted, req.Deafened); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) clearPresence(c *gin.Context) {
	room, user, ok := roomUserParams(c)
	if !ok {
		return
	}
	if err := h.orch.Leave(c.Request.Context(), sid(c), room, user); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) setState(c *gin.Context) {
	room, user, ok := roomUserParams(c)
	if !ok {
		return
	}
	var req api.StateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, api.ErrorResponse{Error: "invalid body"})
		return
	}
	if err := h.orch.SetState(c.Request.Context(), sid(c), room, user, req.Muted, req.Deafened); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) force(c *gin.Context) {
	room, user, ok := roomUserParams(c)
	if !ok {
		return
	}
	var req api.ForceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, api.ErrorResponse{Error: "invalid body"})
		return
	}
	if err := h.orch.Force(c.Request.Context(), sid(c), room, user, req.ForcedMuted, req.ForcedDeafened); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) kick(c *gin.Context) {
	room, user, ok := roomUserParams(c)
	if !ok {
		return
	}
	if err := h.orch.Kick(c.Request.Context(), sid(c), room, user); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *handlers) appendSignal(c *gin.Context) {
	room, ok := roomParam(c)
	if !ok {
		return
	}
	var sig domain.Signal
	if err := c.ShouldBindJSON(&sig); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, api.ErrorResponse{Error: "invalid signal"})
		return
	}
	sig.Room = room
	if user, bound := h.orch.Registry.Bound(sid(c), room); bound && !h.limiter.Allow(user) {
		metrics.SignalsRateLimitedTotal.Inc()
		c.AbortWithStatusJSON(http.StatusTooManyRequests, api.ErrorResponse{Error: "rate limited"})
		return
	}
	id, err := h.orch.AppendSignal(c.Request.Context(), sid(c), sig)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, api.IDResponse{ID: id})
}

func (h *handlers) querySignals(c *gin.Context) {
	room, ok := roomParam(c)
	if !ok {
		return
	}
	recipient, err := domain.ParseUserID(c.Query("recipient"))
	if err != nil {
		fail(c, err)
		return
	}
	since, err := strconv.ParseInt(c.DefaultQuery("since", "0"), 10, 64)
	if err != nil || since < 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, api.ErrorResponse{Error: "invalid since"})
		return
	}
	sigs, err := h.orch.QuerySignals(c.Request.Context(), room, recipient, since)
	if err != nil {
		fail(c, err)
		return
	}
	if sigs == nil {
		sigs = []domain.Signal{}
	}
	c.JSON(http.StatusOK, api.SignalsResponse{Signals: sigs})
}

func (h *handlers) latestSignal(c *gin.Context) {
	room, ok := roomParam(c)
	if !ok {
		return
	}
	recipient, err := domain.ParseUserID(c.Query("recipient"))
	if err != nil {
		fail(c, err)
		return
	}
	id, err := h.orch.LatestSignal(c.Request.Context(), room, recipient)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, api.IDResponse{ID: id})
}
