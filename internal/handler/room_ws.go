package handler

import (
	"context"
	"log"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"livepoll-backend/internal/auth"
	"livepoll-backend/internal/presence"
)

// RoomWSHandler 방 presence WebSocket 핸들러
type RoomWSHandler struct {
	hub        *presence.Hub
	jwtManager *auth.JWTManager
}

// NewRoomWSHandler RoomWSHandler 생성
func NewRoomWSHandler(hub *presence.Hub, jwtManager *auth.JWTManager) *RoomWSHandler {
	return &RoomWSHandler{hub: hub, jwtManager: jwtManager}
}

// Upgrade 업그레이드 전 토큰/파라미터 검증 (WebSocket은 JSON 응답 대신 상태 코드로 거부)
func (h *RoomWSHandler) Upgrade(c *fiber.Ctx) error {
	if !websocket.IsWebSocketUpgrade(c) {
		return fiber.ErrUpgradeRequired
	}

	// token 쿼리 > access_token 쿠키
	accessToken := c.Query("token")
	if accessToken == "" {
		accessToken = c.Cookies("access_token")
	}
	if accessToken == "" {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	claims, err := h.jwtManager.ValidateAccessToken(accessToken)
	if err != nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	roomID, ok := paramID(c, "roomId")
	if !ok {
		return c.SendStatus(fiber.StatusBadRequest)
	}
	participantID := int64(c.QueryInt("participantId"))
	if participantID <= 0 {
		return c.SendStatus(fiber.StatusBadRequest)
	}

	c.Locals("roomId", roomID)
	c.Locals("participantId", participantID)
	c.Locals("userId", claims.UserID)

	return c.Next()
}

// HandleWebSocket 연결 처리 (방/참가자 검증은 Hub가 수행)
func (h *RoomWSHandler) HandleWebSocket(c *websocket.Conn) {
	// 패닉 복구 - 서버 크래시 방지
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Presence] ⚠️ WebSocket panic recovered: %v", r)
		}
	}()

	roomID, _ := c.Locals("roomId").(int64)
	participantID, _ := c.Locals("participantId").(int64)
	userID, _ := c.Locals("userId").(string)

	h.hub.Serve(context.Background(), c, roomID, participantID, userID)
}
