package handler

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"livepoll-backend/internal/apperr"
	"livepoll-backend/internal/auth"
	"livepoll-backend/internal/model"
	"livepoll-backend/internal/service"
)

// RoomHandler 방/참가자 핸들러
type RoomHandler struct {
	rooms    *service.RoomService
	registry *service.Registry
	members  *service.MemberService
}

// NewRoomHandler RoomHandler 생성
func NewRoomHandler(rooms *service.RoomService, registry *service.Registry, members *service.MemberService) *RoomHandler {
	return &RoomHandler{rooms: rooms, registry: registry, members: members}
}

// CreateRoomRequest 방 생성 요청
type CreateRoomRequest struct {
	MaxParticipants int    `json:"maxParticipants"`
	Duration        string `json:"duration"` // "60m", "2h"
	DisplayName     string `json:"displayName"`
}

// JoinRoomRequest 방 참가 요청
type JoinRoomRequest struct {
	DisplayName string `json:"displayName"`
	Role        string `json:"role,omitempty"`
}

// CreateRoom 방 생성 (생성자는 host로 등록)
func (h *RoomHandler) CreateRoom(c *fiber.Ctx) error {
	claims, err := auth.GetClaimsFromContext(c)
	if err != nil {
		return unauthorized(c)
	}

	var req CreateRoomRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	identity := claims.Identity()
	if name := sanitizeString(req.DisplayName); name != "" {
		identity.DisplayName = name
	}

	room, host, err := h.rooms.CreateRoom(c.UserContext(), identity, service.CreateRoomInput{
		MaxParticipants: req.MaxParticipants,
		Duration:        req.Duration,
	})
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"room":        room,
		"participant": host,
	})
}

// GetRoom 방 조회
func (h *RoomHandler) GetRoom(c *fiber.Ctx) error {
	roomID, ok := paramID(c, "roomId")
	if !ok {
		return badRequest(c, "invalid room id")
	}

	room, err := h.rooms.GetRoom(c.UserContext(), roomID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(room)
}

// GetRoomByCode 참가 코드로 방 조회
func (h *RoomHandler) GetRoomByCode(c *fiber.Ctx) error {
	room, err := h.rooms.GetRoomByCode(c.UserContext(), c.Params("code"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(room)
}

// StartRoom 방 시작 (생성자만)
func (h *RoomHandler) StartRoom(c *fiber.Ctx) error {
	return h.changeStatus(c, h.rooms.StartRoom)
}

// EndRoom 방 종료 (생성자만)
func (h *RoomHandler) EndRoom(c *fiber.Ctx) error {
	return h.changeStatus(c, h.rooms.EndRoom)
}

func (h *RoomHandler) changeStatus(c *fiber.Ctx, apply func(ctx context.Context, roomID int64, caller string) (*model.Room, error)) error {
	claims, err := auth.GetClaimsFromContext(c)
	if err != nil {
		return unauthorized(c)
	}
	roomID, ok := paramID(c, "roomId")
	if !ok {
		return badRequest(c, "invalid room id")
	}

	room, err := apply(c.UserContext(), roomID, claims.UserID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(room)
}

// JoinRoom 방 참가 (host/co_host 역할은 생성자만 요청 가능)
func (h *RoomHandler) JoinRoom(c *fiber.Ctx) error {
	claims, err := auth.GetClaimsFromContext(c)
	if err != nil {
		return unauthorized(c)
	}
	roomID, ok := paramID(c, "roomId")
	if !ok {
		return badRequest(c, "invalid room id")
	}

	var req JoinRoomRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}

	role := model.ParticipantRole(req.Role)
	if role == "" {
		role = model.RoleParticipant
	}
	if !role.Valid() {
		return respondError(c, apperr.Validation("invalid role: %s", req.Role))
	}
	if role != model.RoleParticipant && !h.members.IsRoomCreator(c.UserContext(), roomID, claims.UserID) {
		return respondError(c, apperr.Forbidden("only the room creator can join as "+role.String()))
	}

	identity := claims.Identity()
	if name := sanitizeString(req.DisplayName); name != "" {
		identity.DisplayName = name
	}

	participant, err := h.registry.Join(c.UserContext(), roomID, identity, role)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(participant)
}

// ListParticipants 참가자 목록 (?active=true면 연결 중인 참가자만)
func (h *RoomHandler) ListParticipants(c *fiber.Ctx) error {
	roomID, ok := paramID(c, "roomId")
	if !ok {
		return badRequest(c, "invalid room id")
	}

	var (
		participants []model.Participant
		err          error
	)
	if c.QueryBool("active") {
		participants, err = h.registry.ListActive(c.UserContext(), roomID)
	} else {
		participants, err = h.registry.List(c.UserContext(), roomID)
	}
	if err != nil {
		return respondError(c, err)
	}
	if participants == nil {
		participants = []model.Participant{}
	}

	return c.JSON(fiber.Map{
		"participants": participants,
		"total":        len(participants),
	})
}
