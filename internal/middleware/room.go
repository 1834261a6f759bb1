package middleware

import (
	"strconv"

	"livepoll-backend/internal/auth"
	"livepoll-backend/internal/service"

	"github.com/gofiber/fiber/v2"
)

// RoomMiddleware 방 권한 미들웨어
type RoomMiddleware struct {
	memberService *service.MemberService
}

// NewRoomMiddleware RoomMiddleware 생성
func NewRoomMiddleware(memberService *service.MemberService) *RoomMiddleware {
	return &RoomMiddleware{memberService: memberService}
}

// getRoomIDFromContext URL에서 방 ID 추출
func getRoomIDFromContext(c *fiber.Ctx) (int64, error) {
	idStr := c.Params("roomId")
	if idStr == "" {
		return 0, fiber.NewError(fiber.StatusBadRequest, "room ID is required")
	}
	return strconv.ParseInt(idStr, 10, 64)
}

// RequireMembership 방 참가자 필수
func (m *RoomMiddleware) RequireMembership() fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, err := auth.GetClaimsFromContext(c)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "unauthorized",
			})
		}

		roomID, err := getRoomIDFromContext(c)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid room ID",
			})
		}

		if !m.memberService.IsRoomMember(c.UserContext(), roomID, claims.UserID) &&
			!m.memberService.IsRoomCreator(c.UserContext(), roomID, claims.UserID) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "not a room participant",
				"code":  "FORBIDDEN",
			})
		}

		// 방 ID를 컨텍스트에 저장
		c.Locals("roomID", roomID)
		return c.Next()
	}
}

// RequireHost host 또는 co_host 필수
func (m *RoomMiddleware) RequireHost() fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, err := auth.GetClaimsFromContext(c)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "unauthorized",
			})
		}

		roomID, err := getRoomIDFromContext(c)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "invalid room ID",
			})
		}

		if !m.memberService.IsRoomHost(c.UserContext(), roomID, claims.UserID) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error": "host permission required",
				"code":  "FORBIDDEN",
			})
		}

		c.Locals("roomID", roomID)
		return c.Next()
	}
}
