package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"livepoll-backend/internal/auth"
	"livepoll-backend/internal/model"
)

// AuthHandler 인증 핸들러 (로그인은 외부 인증 서비스 담당, 게스트 토큰만 발급)
type AuthHandler struct {
	jwtManager   *auth.JWTManager
	secureCookie bool
}

// NewAuthHandler AuthHandler 생성
func NewAuthHandler(jwtManager *auth.JWTManager, secureCookie bool) *AuthHandler {
	return &AuthHandler{
		jwtManager:   jwtManager,
		secureCookie: secureCookie,
	}
}

// GuestTokenRequest 게스트 토큰 요청
type GuestTokenRequest struct {
	DisplayName string `json:"displayName"`
}

// AuthResponse 인증 응답
type AuthResponse struct {
	User        MeResponse `json:"user"`
	AccessToken string     `json:"access_token"`
	ExpiresIn   int64      `json:"expires_in"`
}

// MeResponse 현재 사용자 정보
type MeResponse struct {
	UserID    string `json:"user_id"`
	Nickname  string `json:"nickname"`
	Anonymous bool   `json:"anonymous"`
}

// GuestToken 익명 참가자용 토큰 발급
func (h *AuthHandler) GuestToken(c *fiber.Ctx) error {
	var req GuestTokenRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	name := sanitizeString(req.DisplayName)
	if name == "" {
		return badRequest(c, "displayName is required")
	}
	name = model.TruncateDisplayName(name)

	guestID := "guest-" + uuid.NewString()
	accessToken, err := h.jwtManager.GenerateAccessToken(guestID, name, true)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "failed to generate token",
		})
	}

	expiresIn := int64(h.jwtManager.AccessExpiry().Seconds())
	c.Cookie(&fiber.Cookie{
		Name:     "access_token",
		Value:    accessToken,
		Path:     "/",
		MaxAge:   int(expiresIn),
		Secure:   h.secureCookie,
		HTTPOnly: true,
		SameSite: "Lax",
	})

	return c.Status(fiber.StatusCreated).JSON(AuthResponse{
		User: MeResponse{
			UserID:    guestID,
			Nickname:  name,
			Anonymous: true,
		},
		AccessToken: accessToken,
		ExpiresIn:   expiresIn,
	})
}

// Logout 토큰 쿠키 삭제
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	c.Cookie(&fiber.Cookie{
		Name:     "access_token",
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Secure:   h.secureCookie,
		HTTPOnly: true,
	})

	return c.JSON(fiber.Map{
		"message": "logged out successfully",
	})
}

// GetMe 현재 사용자 정보
func (h *AuthHandler) GetMe(c *fiber.Ctx) error {
	claims, err := auth.GetClaimsFromContext(c)
	if err != nil {
		return unauthorized(c)
	}

	return c.JSON(MeResponse{
		UserID:    claims.UserID,
		Nickname:  claims.Nickname,
		Anonymous: claims.Anonymous,
	})
}
