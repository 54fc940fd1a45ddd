package main

import (
	"errors"
	"net/http"

	"github.com/ably-labs/ably-chat-go/internal/config"
	"github.com/ably-labs/ably-chat-go/internal/core"
	"github.com/ably-labs/ably-chat-go/internal/domain"
	"github.com/ably-labs/ably-chat-go/internal/registry"
	"github.com/ably-labs/ably-chat-go/internal/roomerr"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// statusUpgrader upgrades /status/ws the same way the teacher's signal
// endpoint did, with CheckOrigin left at the gorilla default for this
// demo (same-origin browser clients only).
var statusUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// clientTokenMiddleware assigns every browser a stable client id in a
// long-lived cookie, the same shape as the teacher's "ct" cookie.
func clientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_id", token)
		c.Next()
	}
}

func clientID(c *gin.Context) domain.UserID {
	return domain.UserID(c.GetString("client_id"))
}

// app bundles the per-process state the route handlers close over:
// the room registry and the factory each new room is built with.
type app struct {
	registry *registry.Registry
	build    func(room *domain.Room) *registry.Entry
}

// roomEntry resolves the :room path parameter to a registry entry,
// creating the room on first use with the default "every feature"
// option set (spec's registry has no server-side room creation API of
// its own; a room springs into existence on the first call against
// its name, mirroring the teacher's lazy peer/session creation).
func (a *app) roomEntry(c *gin.Context) (*registry.Entry, bool) {
	name := domain.RoomName(c.Param("room"))
	id := domain.RoomID(name)

	opts := registry.Options{Features: []domain.Feature{
		domain.FeatureMessages, domain.FeaturePresence, domain.FeatureTyping,
		domain.FeatureReactions, domain.FeatureOccupancy,
	}}

	entry, err := a.registry.GetOrCreate(id, opts, func() (*registry.Entry, error) {
		return a.build(domain.NewRoom(id, name)), nil
	})
	if err != nil {
		writeRoomErr(c, err)
		return nil, false
	}
	return entry, true
}

func writeRoomErr(c *gin.Context, err error) {
	var re *roomerr.RoomError
	if errors.As(err, &re) {
		c.JSON(re.StatusCode, gin.H{"error": re.Message, "code": re.Code})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func setupRouter(cfg *config.Config, a *app) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("chatdemo", store))
	r.Use(clientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "chatdemo.router").Str("static", cfg.StaticPath).Msg("router setup")

	rooms := r.Group("/api/rooms/:room")

	rooms.POST("/attach", func(c *gin.Context) {
		entry, ok := a.roomEntry(c)
		if !ok {
			return
		}
		if err := entry.Manager.Attach(c.Request.Context()); err != nil {
			writeRoomErr(c, err)
			return
		}
		c.JSON(http.StatusOK, statusPayload(entry.Manager.RoomStatus()))
	})

	rooms.POST("/detach", func(c *gin.Context) {
		entry, ok := a.roomEntry(c)
		if !ok {
			return
		}
		if err := entry.Manager.Detach(c.Request.Context()); err != nil {
			writeRoomErr(c, err)
			return
		}
		c.JSON(http.StatusOK, statusPayload(entry.Manager.RoomStatus()))
	})

	rooms.POST("/release", func(c *gin.Context) {
		entry, ok := a.roomEntry(c)
		if !ok {
			return
		}
		if err := entry.Manager.Release(c.Request.Context()); err != nil {
			writeRoomErr(c, err)
			return
		}
		a.registry.Remove(domain.RoomID(c.Param("room")))
		c.JSON(http.StatusOK, gin.H{"status": "released"})
	})

	rooms.GET("/status", func(c *gin.Context) {
		entry, ok := a.roomEntry(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, statusPayload(entry.Manager.RoomStatus()))
	})

	// /status/ws streams every subsequent room status change as a JSON
	// frame, starting with the status at connect time, until the
	// client disconnects.
	rooms.GET("/status/ws", func(c *gin.Context) {
		entry, ok := a.roomEntry(c)
		if !ok {
			return
		}

		conn, err := statusUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			log.Warn().Err(err).Msg("status websocket upgrade failed")
			return
		}
		defer conn.Close()

		sub := entry.Manager.OnRoomStatusChange(core.Unbounded())
		defer sub.Unsubscribe()

		if err := conn.WriteJSON(statusPayload(entry.Manager.RoomStatus())); err != nil {
			return
		}
		for change := range sub.C() {
			if err := conn.WriteJSON(statusPayload(change.Current)); err != nil {
				return
			}
		}
	})

	rooms.POST("/messages", func(c *gin.Context) {
		entry, ok := a.roomEntry(c)
		if !ok {
			return
		}
		var body struct {
			Text string `json:"text"`
		}
		if err := c.BindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		msg, err := entry.Messages.Send(c.Request.Context(), clientID(c), body.Text)
		if err != nil {
			writeRoomErr(c, err)
			return
		}
		c.JSON(http.StatusAccepted, msg)
	})

	rooms.GET("/messages", func(c *gin.Context) {
		entry, ok := a.roomEntry(c)
		if !ok {
			return
		}
		page, err := entry.Messages.Get(c.Request.Context(), c.Query("pageToken"))
		if err != nil {
			writeRoomErr(c, err)
			return
		}
		c.JSON(http.StatusOK, page)
	})

	rooms.POST("/presence/enter", func(c *gin.Context) {
		entry, ok := a.roomEntry(c)
		if !ok {
			return
		}
		var body struct {
			Data map[string]any `json:"data"`
		}
		_ = c.BindJSON(&body)
		if err := entry.Presence.Enter(c.Request.Context(), clientID(c), body.Data); err != nil {
			writeRoomErr(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "entered"})
	})

	rooms.POST("/presence/leave", func(c *gin.Context) {
		entry, ok := a.roomEntry(c)
		if !ok {
			return
		}
		if err := entry.Presence.Leave(c.Request.Context(), clientID(c)); err != nil {
			writeRoomErr(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "left"})
	})

	rooms.GET("/presence", func(c *gin.Context) {
		entry, ok := a.roomEntry(c)
		if !ok {
			return
		}
		members, err := entry.Presence.Get(c.Request.Context())
		if err != nil {
			writeRoomErr(c, err)
			return
		}
		c.JSON(http.StatusOK, members)
	})

	rooms.POST("/typing/start", func(c *gin.Context) {
		entry, ok := a.roomEntry(c)
		if !ok {
			return
		}
		if err := entry.Typing.Start(c.Request.Context(), clientID(c)); err != nil {
			writeRoomErr(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "typing"})
	})

	rooms.POST("/typing/stop", func(c *gin.Context) {
		entry, ok := a.roomEntry(c)
		if !ok {
			return
		}
		if err := entry.Typing.Stop(c.Request.Context(), clientID(c)); err != nil {
			writeRoomErr(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "stopped"})
	})

	rooms.GET("/typing", func(c *gin.Context) {
		entry, ok := a.roomEntry(c)
		if !ok {
			return
		}
		typers, err := entry.Typing.Get(c.Request.Context())
		if err != nil {
			writeRoomErr(c, err)
			return
		}
		c.JSON(http.StatusOK, typers)
	})

	rooms.POST("/reactions", func(c *gin.Context) {
		entry, ok := a.roomEntry(c)
		if !ok {
			return
		}
		var body struct {
			Type string `json:"type"`
		}
		if err := c.BindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := entry.Reactions.Send(c.Request.Context(), clientID(c), body.Type); err != nil {
			writeRoomErr(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "sent"})
	})

	rooms.GET("/occupancy", func(c *gin.Context) {
		entry, ok := a.roomEntry(c)
		if !ok {
			return
		}
		metrics, err := entry.Occupancy.Get(c.Request.Context())
		if err != nil {
			writeRoomErr(c, err)
			return
		}
		c.JSON(http.StatusOK, metrics)
	})

	return r
}

func statusPayload(s core.RoomStatus) gin.H {
	h := gin.H{"status": s.Kind.String()}
	if s.Cause != nil {
		h["reason"] = s.Cause.Error()
	}
	return h
}
