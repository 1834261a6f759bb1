package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"livepoll-backend/internal/apperr"
	"livepoll-backend/internal/auth"
	"livepoll-backend/internal/model"
	"livepoll-backend/internal/service"
)

// PollHandler 투표 핸들러
type PollHandler struct {
	engine   *service.PollEngine
	registry *service.Registry
}

// NewPollHandler PollHandler 생성
func NewPollHandler(engine *service.PollEngine, registry *service.Registry) *PollHandler {
	return &PollHandler{engine: engine, registry: registry}
}

// CreatePollRequest 투표 생성 요청
type CreatePollRequest struct {
	QuestionID int64 `json:"questionId"`
	TimeLimit  int   `json:"timeLimit"` // 분 단위, 0이면 기본값
}

// SubmitAnswerRequest 응답 제출 요청
type SubmitAnswerRequest struct {
	OptionID int64 `json:"optionId"`
}

// PollResponse 투표 응답 (진행 중이면 현재 집계 포함)
type PollResponse struct {
	*model.Poll
	Results     []model.OptionResult `json:"results,omitempty"`
	LiveResults []model.OptionResult `json:"live_results,omitempty"`
}

// CreatePoll 투표 생성 (호스트 전용)
func (h *PollHandler) CreatePoll(c *fiber.Ctx) error {
	roomID, ok := paramID(c, "roomId")
	if !ok {
		return badRequest(c, "invalid room id")
	}

	var req CreatePollRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.QuestionID <= 0 {
		return badRequest(c, "questionId is required")
	}

	poll, err := h.engine.CreatePoll(c.UserContext(), roomID, req.QuestionID, req.TimeLimit)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(poll)
}

// ListPolls 방의 투표 목록
func (h *PollHandler) ListPolls(c *fiber.Ctx) error {
	roomID, ok := paramID(c, "roomId")
	if !ok {
		return badRequest(c, "invalid room id")
	}

	polls, err := h.engine.ListPolls(c.UserContext(), roomID)
	if err != nil {
		return respondError(c, err)
	}
	if polls == nil {
		polls = []model.Poll{}
	}
	return c.JSON(fiber.Map{
		"polls": polls,
		"total": len(polls),
	})
}

// GetPoll 투표 조회
func (h *PollHandler) GetPoll(c *fiber.Ctx) error {
	roomID, pollID, ok := roomAndPoll(c)
	if !ok {
		return badRequest(c, "invalid room or poll id")
	}

	poll, err := h.engine.GetPoll(c.UserContext(), roomID, pollID)
	if err != nil {
		return respondError(c, err)
	}

	resp := PollResponse{Poll: poll}
	if poll.IsCompleted {
		results, err := poll.Results()
		if err != nil {
			return respondError(c, apperr.Internal("failed to decode results", err))
		}
		resp.Results = results
	} else {
		live, err := h.engine.LiveResults(c.UserContext(), pollID)
		if err != nil {
			return respondError(c, err)
		}
		resp.LiveResults = live
	}
	return c.JSON(resp)
}

// DeletePoll 투표 삭제 (호스트 전용)
func (h *PollHandler) DeletePoll(c *fiber.Ctx) error {
	roomID, pollID, ok := roomAndPoll(c)
	if !ok {
		return badRequest(c, "invalid room or poll id")
	}

	if err := h.engine.DeletePoll(c.UserContext(), roomID, pollID); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// SubmitAnswer 선택지 응답
func (h *PollHandler) SubmitAnswer(c *fiber.Ctx) error {
	var req SubmitAnswerRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "invalid request body")
	}
	if req.OptionID <= 0 {
		return badRequest(c, "optionId is required")
	}

	return h.answer(c, func(pollID int64, key string) (*model.PollAnswer, error) {
		return h.engine.SubmitAnswer(c.UserContext(), pollID, key, req.OptionID)
	})
}

// SkipAnswer 건너뛰기
func (h *PollHandler) SkipAnswer(c *fiber.Ctx) error {
	return h.answer(c, func(pollID int64, key string) (*model.PollAnswer, error) {
		return h.engine.SkipAnswer(c.UserContext(), pollID, key)
	})
}

// answer 응답자 확인 후 기록 (중복 응답은 기존 응답을 200으로 반환)
func (h *PollHandler) answer(c *fiber.Ctx, record func(pollID int64, key string) (*model.PollAnswer, error)) error {
	claims, err := auth.GetClaimsFromContext(c)
	if err != nil {
		return unauthorized(c)
	}
	roomID, pollID, ok := roomAndPoll(c)
	if !ok {
		return badRequest(c, "invalid room or poll id")
	}

	participant, err := h.registry.FindByIdentity(c.UserContext(), roomID, claims.UserID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return respondError(c, apperr.Forbidden("join the room before answering"))
		}
		return respondError(c, err)
	}
	if participant.IsHostRole() {
		return respondError(c, apperr.Forbidden("hosts cannot answer polls"))
	}

	// 다른 방의 투표에 응답하지 못하도록 소속 확인
	if _, err := h.engine.GetPoll(c.UserContext(), roomID, pollID); err != nil {
		return respondError(c, err)
	}

	answer, err := record(pollID, claims.UserID)
	if errors.Is(err, apperr.ErrAlreadyAnswered) {
		return c.JSON(fiber.Map{
			"answer":          answer,
			"alreadyAnswered": true,
		})
	}
	if err != nil {
		return respondError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"answer":          answer,
		"alreadyAnswered": false,
	})
}

// GetMyAnswer 내 응답 조회
func (h *PollHandler) GetMyAnswer(c *fiber.Ctx) error {
	claims, err := auth.GetClaimsFromContext(c)
	if err != nil {
		return unauthorized(c)
	}
	roomID, pollID, ok := roomAndPoll(c)
	if !ok {
		return badRequest(c, "invalid room or poll id")
	}

	if _, err := h.engine.GetPoll(c.UserContext(), roomID, pollID); err != nil {
		return respondError(c, err)
	}
	answer, err := h.engine.GetAnswer(c.UserContext(), pollID, claims.UserID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(answer)
}

func roomAndPoll(c *fiber.Ctx) (int64, int64, bool) {
	roomID, ok := paramID(c, "roomId")
	if !ok {
		return 0, 0, false
	}
	pollID, ok := paramID(c, "pollId")
	if !ok {
		return 0, 0, false
	}
	return roomID, pollID, true
}
