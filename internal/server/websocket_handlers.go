package server

import (
	"errors"
	"log/slog"

	"marketplace/internal/middleware"
	"marketplace/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// TicketResponse carries a single-use websocket ticket.
type TicketResponse struct {
	Ticket string `json:"ticket"`
}

// IssueWSTicket handles POST /api/ws/ticket
// @Summary Issue a realtime feed ticket
// @Description Returns a ticket redeemable once, within 30 seconds, at /api/ws/feed.
// @Tags realtime
// @Produce json
// @Security BearerAuth
// @Success 200 {object} TicketResponse
// @Failure 401 {object} models.ErrorResponse
// @Failure 429 {object} models.ErrorResponse
// @Failure 503 {object} models.ErrorResponse
// @Router /ws/ticket [post]
func (s *Server) IssueWSTicket(c *fiber.Ctx) error {
	ticket, err := s.auth.IssueTicket(c.UserContext(), callerID(c))
	if errors.Is(err, middleware.ErrTicketUnavailable) {
		return models.RespondWithError(c, fiber.StatusServiceUnavailable,
			models.NewInternalError(err))
	}
	if err != nil {
		return s.respondServiceError(c, err)
	}
	return c.JSON(TicketResponse{Ticket: ticket})
}

// FeedUpgrade rejects plain HTTP requests to the feed before the ticket is
// redeemed.
func (s *Server) FeedUpgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return models.RespondWithError(c, fiber.StatusUpgradeRequired,
			models.NewValidationError("WebSocket upgrade required"))
	}
	return c.Next()
}

// FeedHandler handles GET /api/ws/feed. Each connection receives every
// listing and comment event as {type, payload} JSON text frames.
// @Summary Realtime listing feed
// @Description WebSocket endpoint. Redeems the ticket issued by /ws/ticket.
// @Tags realtime
// @Param ticket query string true "Ticket from /ws/ticket"
// @Success 101
// @Failure 401 {object} models.ErrorResponse
// @Failure 426 {object} models.ErrorResponse
// @Router /ws/feed [get]
func (s *Server) FeedHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		uid, ok := conn.Locals("userID").(uint)
		if !ok || uid == 0 || s.hub == nil {
			_ = conn.Close()
			return
		}

		client, err := s.hub.Register(uid, conn)
		if err != nil {
			s.logger.Warn("feed registration refused",
				slog.Uint64("user_id", uint64(uid)),
				slog.String("error", err.Error()),
			)
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"`+err.Error()+`"}`))
			_ = conn.Close()
			return
		}

		go client.WritePump()
		client.ReadPump()
	})
}
