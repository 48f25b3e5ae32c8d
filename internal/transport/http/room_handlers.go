package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/mchat/internal/core"
	"github.com/vovakirdan/mchat/internal/store"
)

const (
	defaultMessageLimit = 100
	maxMessageLimit     = 1000
)

// RoomHandlers provides read-only HTTP handlers for rooms and live stats.
type RoomHandlers struct {
	registry *core.Registry
	store    store.MessageStore
	log      *zerolog.Logger
}

// NewRoomHandlers creates a new room handlers instance.
func NewRoomHandlers(reg *core.Registry, st store.MessageStore, logger *zerolog.Logger) *RoomHandlers {
	return &RoomHandlers{
		registry: reg,
		store:    st,
		log:      logger,
	}
}

// RoomResponse represents a room in API responses.
type RoomResponse struct {
	ID          uint64 `json:"id"`
	Name        string `json:"name"`
	Creator     string `json:"creator"`
	Description string `json:"description"`
	Subscribers int    `json:"subscribers"`
}

// MessageResponse is message metadata; payloads are never served here.
type MessageResponse struct {
	ID           uint64 `json:"id"`
	Type         string `json:"type"`
	Timestamp    string `json:"timestamp"`
	Body         string `json:"body"`
	Sender       string `json:"sender"`
	PayloadBytes int    `json:"payload_bytes,omitempty"`
}

// StatsResponse is a live snapshot of the registry.
type StatsResponse struct {
	Connections int            `json:"connections"`
	Rooms       []RoomResponse `json:"rooms"`
}

func (h *RoomHandlers) rooms() []RoomResponse {
	st := h.registry.Stats()
	out := make([]RoomResponse, 0, len(st.Rooms))
	for _, r := range st.Rooms {
		out = append(out, RoomResponse{
			ID:          r.Chat.ID,
			Name:        r.Chat.Name,
			Creator:     r.Chat.Creator,
			Description: r.Chat.Description,
			Subscribers: r.Subscribers,
		})
	}
	return out
}

// ListRooms lists every room with its subscriber count.
// GET /api/chats
func (h *RoomHandlers) ListRooms(c *gin.Context) {
	c.JSON(http.StatusOK, h.rooms())
}

// Stats reports connection and subscriber counts.
// GET /api/stats
func (h *RoomHandlers) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, StatsResponse{
		Connections: h.registry.ConnectionCount(),
		Rooms:       h.rooms(),
	})
}

// RoomMessages returns message metadata newer than ?since=, at most ?limit=.
// GET /api/chats/:name/messages
func (h *RoomHandlers) RoomMessages(c *gin.Context) {
	name := c.Param("name")
	chat, ok := h.registry.Lookup(name)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "chat not found"})
		return
	}

	since, err := strconv.ParseUint(c.DefaultQuery("since", "0"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid since"})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultMessageLimit)))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
		return
	}
	limit = min(limit, maxMessageLimit)

	msgs, err := h.store.MessagesSince(c.Request.Context(), chat.ID, since)
	if err != nil {
		h.log.Error().Err(err).Str("chat", name).Msg("failed to list messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}

	response := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		response = append(response, MessageResponse{
			ID:           m.ID,
			Type:         m.Type.String(),
			Timestamp:    m.Time().UTC().Format(time.RFC3339),
			Body:         m.Body,
			Sender:       m.Sender,
			PayloadBytes: m.Payload.Len(),
		})
	}

	h.log.Debug().Str("chat", name).Uint64("since", since).Int("count", len(response)).Msg("messages listed")
	c.JSON(http.StatusOK, response)
}
