package handler

import (
	"log"
	"strings"
	"unicode"

	"github.com/gofiber/fiber/v2"

	"livepoll-backend/internal/apperr"
)

// respondError 도메인 에러를 {"error", "code"} 응답으로 변환
func respondError(c *fiber.Ctx, err error) error {
	status := apperr.HTTPStatus(err)
	if status == fiber.StatusInternalServerError {
		log.Printf("[API] ❌ %s %s: %v", c.Method(), c.Path(), err)
	}
	return c.Status(status).JSON(fiber.Map{
		"error": apperr.PublicMessage(err),
		"code":  apperr.CodeOf(err),
	})
}

// badRequest 입력 파싱 실패 응답
func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error": message,
		"code":  apperr.CodeValidation,
	})
}

// unauthorized 클레임 없음 응답
func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": "unauthorized",
	})
}

// paramID 양의 정수 경로 파라미터
func paramID(c *fiber.Ctx, name string) (int64, bool) {
	id, err := c.ParamsInt(name)
	if err != nil || id <= 0 {
		return 0, false
	}
	return int64(id), true
}

// sanitizeString 제어 문자 제거 및 공백 정리
func sanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}
