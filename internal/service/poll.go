package service

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/benbjohnson/clock"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"livepoll-backend/internal/apperr"
	"livepoll-backend/internal/model"
)

// ResultCache 완료된 투표 결과 캐시 (완료 후 불변)
type ResultCache interface {
	GetResults(ctx context.Context, pollID int64) ([]model.OptionResult, bool, error)
	SetResults(ctx context.Context, pollID int64, results []model.OptionResult) error
	DeleteResults(ctx context.Context, pollID int64) error
}

// PollEngine 시간 제한 투표 생성/응답/완료 처리
type PollEngine struct {
	db           *gorm.DB
	clock        clock.Clock
	registry     *Registry
	notifier     Notifier
	cache        ResultCache
	defaultLimit int
	maxLimit     int
}

// NewPollEngine PollEngine 생성
func NewPollEngine(db *gorm.DB, clk clock.Clock, registry *Registry) *PollEngine {
	if clk == nil {
		clk = clock.New()
	}
	return &PollEngine{
		db:           db,
		clock:        clk,
		registry:     registry,
		notifier:     noopNotifier{},
		defaultLimit: 1,
		maxLimit:     60,
	}
}

// SetNotifier 브로드캐스트 대상 연결
func (e *PollEngine) SetNotifier(n Notifier) {
	if n == nil {
		n = noopNotifier{}
	}
	e.notifier = n
}

// SetCache 결과 캐시 연결 (nil이면 비활성화)
func (e *PollEngine) SetCache(c ResultCache) {
	e.cache = c
}

// SetTimeLimits 제한 시간 기본값/최대값 (분)
func (e *PollEngine) SetTimeLimits(defaultMinutes, maxMinutes int) {
	if defaultMinutes > 0 {
		e.defaultLimit = defaultMinutes
	}
	if maxMinutes > 0 {
		e.maxLimit = maxMinutes
	}
}

// CreatePoll 투표 생성 (호스트 제외 접속 인원을 분모로 고정)
func (e *PollEngine) CreatePoll(ctx context.Context, roomID, questionID int64, timeLimitMinutes int) (*model.Poll, error) {
	if timeLimitMinutes == 0 {
		timeLimitMinutes = e.defaultLimit
	}
	if timeLimitMinutes < 0 || timeLimitMinutes > e.maxLimit {
		return nil, apperr.Validation("timeLimit must be between 1 and %d minutes", e.maxLimit)
	}

	db := e.db.WithContext(ctx)
	room, err := findRoom(db, roomID)
	if err != nil {
		return nil, err
	}
	if room.Status != model.RoomStatusRunning {
		return nil, apperr.ErrRoomNotRunning
	}

	var question model.Question
	if err := db.Preload("Options", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("position ASC, id ASC")
	}).First(&question, questionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("question")
		}
		return nil, apperr.Internal("failed to load question", err)
	}
	if len(question.Options) == 0 {
		return nil, apperr.Validation("question has no options")
	}

	active, err := e.registry.ListActive(ctx, roomID)
	if err != nil {
		return nil, err
	}
	total := 0
	for i := range active {
		if !active[i].IsHostRole() {
			total++
		}
	}

	now := e.clock.Now().UTC()
	poll := &model.Poll{
		QuestionID:                  questionID,
		RoomID:                      roomID,
		TimeLimitMinutes:            timeLimitMinutes,
		ExpiresAt:                   now.Add(time.Duration(timeLimitMinutes) * time.Minute),
		TotalParticipantsAtCreation: total,
	}
	if err := db.Create(poll).Error; err != nil {
		return nil, apperr.Internal("failed to create poll", err)
	}
	poll.Question = &question

	log.Printf("[Poll] ✅ Poll %d created in room %d (participants=%d, limit=%dm)", poll.ID, roomID, total, timeLimitMinutes)
	e.notifier.Signal(roomID, SignalPollCreated)
	return poll, nil
}

// SubmitAnswer 선택지 응답 (중복이면 기존 응답과 ErrAlreadyAnswered 반환)
func (e *PollEngine) SubmitAnswer(ctx context.Context, pollID int64, userKey string, optionID int64) (*model.PollAnswer, error) {
	return e.record(ctx, pollID, userKey, &optionID)
}

// SkipAnswer 건너뛰기 (optionId 없이 skipped로 기록)
func (e *PollEngine) SkipAnswer(ctx context.Context, pollID int64, userKey string) (*model.PollAnswer, error) {
	return e.record(ctx, pollID, userKey, nil)
}

func (e *PollEngine) record(ctx context.Context, pollID int64, userKey string, optionID *int64) (*model.PollAnswer, error) {
	if userKey == "" {
		return nil, apperr.Validation("user is required")
	}

	var (
		answer    *model.PollAnswer
		duplicate bool
		expired   bool
	)
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 공유 잠금: 완료 기록(FOR UPDATE)과 직렬화되어 확정 후 삽입을 막음
		poll, err := e.loadPoll(tx.Clauses(clause.Locking{Strength: "SHARE"}), pollID)
		if err != nil {
			return err
		}
		if poll.IsCompleted {
			return apperr.ErrPollClosed
		}
		if poll.IsExpired(e.clock.Now()) {
			expired = true
			return nil
		}

		status := model.AnswerStatusSkipped
		if optionID != nil {
			var count int64
			if err := tx.Model(&model.QuestionOption{}).
				Where("id = ? AND question_id = ?", *optionID, poll.QuestionID).
				Count(&count).Error; err != nil {
				return apperr.Internal("failed to check option", err)
			}
			if count == 0 {
				return apperr.Validation("option %d does not belong to this poll", *optionID)
			}
			status = model.AnswerStatusAnswered
		}

		answer = &model.PollAnswer{
			PollID:   pollID,
			UserID:   userKey,
			OptionID: optionID,
			Status:   status,
		}
		// (poll_id, user_id) 유니크 인덱스가 동시 제출을 직렬화
		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "poll_id"}, {Name: "user_id"}},
			DoNothing: true,
		}).Create(answer)
		if result.Error != nil {
			return apperr.Internal("failed to save answer", result.Error)
		}
		duplicate = result.RowsAffected == 0
		return nil
	})
	if err != nil {
		return nil, err
	}

	if expired {
		if _, err := e.EvaluateCompletion(ctx, pollID); err != nil {
			return nil, err
		}
		return nil, apperr.ErrPollClosed
	}
	if duplicate {
		existing, err := e.GetAnswer(ctx, pollID, userKey)
		if err != nil {
			return nil, err
		}
		return existing, apperr.ErrAlreadyAnswered
	}

	if _, err := e.EvaluateCompletion(ctx, pollID); err != nil {
		log.Printf("[Poll] ⚠️ Completion check failed for poll %d: %v", pollID, err)
	}
	return answer, nil
}

// EvaluateCompletion 전원 응답 또는 만료 시 결과 확정 (한 번만 기록)
func (e *PollEngine) EvaluateCompletion(ctx context.Context, pollID int64) (*model.Poll, error) {
	var (
		poll     *model.Poll
		results  []model.OptionResult
		answered int64
		won      bool
	)
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 배타 잠금: 진행 중인 응답 삽입이 끝난 뒤 집계
		var err error
		poll, err = e.loadPoll(tx.Clauses(clause.Locking{Strength: "UPDATE"}), pollID)
		if err != nil {
			return err
		}
		if poll.IsCompleted {
			return nil
		}

		if err := tx.Model(&model.PollAnswer{}).Where("poll_id = ?", pollID).Count(&answered).Error; err != nil {
			return apperr.Internal("failed to count answers", err)
		}

		now := e.clock.Now().UTC()
		if answered < int64(poll.TotalParticipantsAtCreation) && !poll.IsExpired(now) {
			return nil
		}

		results, err = e.tally(tx, poll)
		if err != nil {
			return err
		}
		encoded, err := json.Marshal(results)
		if err != nil {
			return apperr.Internal("failed to encode results", err)
		}
		payload := datatypes.JSON(encoded)

		// is_completed=false 조건부 갱신: 승자만 결과를 기록
		update := tx.Model(&model.Poll{}).
			Where("id = ? AND is_completed = ?", pollID, false).
			Updates(map[string]any{
				"is_completed":  true,
				"final_results": payload,
				"completed_at":  now,
			})
		if update.Error != nil {
			return apperr.Internal("failed to complete poll", update.Error)
		}
		if update.RowsAffected == 0 {
			poll, err = e.loadPoll(tx, pollID)
			return err
		}

		poll.IsCompleted = true
		poll.FinalResults = payload
		poll.CompletedAt = &now
		won = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !won {
		return poll, nil
	}

	reason := "all answered"
	if answered < int64(poll.TotalParticipantsAtCreation) {
		reason = "expired"
	}
	log.Printf("[Poll] 🏁 Poll %d completed (%s, %d/%d)", pollID, reason, answered, poll.TotalParticipantsAtCreation)

	if e.cache != nil {
		if err := e.cache.SetResults(ctx, pollID, results); err != nil {
			log.Printf("[Poll] ⚠️ Failed to cache results for poll %d: %v", pollID, err)
		}
	}
	e.notifier.Signal(poll.RoomID, SignalPollCompleted)
	return poll, nil
}

// DeletePoll 투표와 응답 삭제 (방 소속이 아니면 NotFound)
func (e *PollEngine) DeletePoll(ctx context.Context, roomID, pollID int64) error {
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var poll model.Poll
		if err := tx.Where("id = ? AND room_id = ?", pollID, roomID).First(&poll).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("poll")
			}
			return apperr.Internal("failed to load poll", err)
		}
		if err := tx.Where("poll_id = ?", pollID).Delete(&model.PollAnswer{}).Error; err != nil {
			return apperr.Internal("failed to delete answers", err)
		}
		if err := tx.Delete(&model.Poll{}, pollID).Error; err != nil {
			return apperr.Internal("failed to delete poll", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if e.cache != nil {
		if err := e.cache.DeleteResults(ctx, pollID); err != nil {
			log.Printf("[Poll] ⚠️ Failed to evict cached results for poll %d: %v", pollID, err)
		}
	}
	log.Printf("[Poll] 🗑️ Poll %d deleted from room %d", pollID, roomID)
	e.notifier.Signal(roomID, SignalPollDeleted)
	return nil
}

// GetPoll 투표 조회 (조회 시점에 완료 조건 평가)
func (e *PollEngine) GetPoll(ctx context.Context, roomID, pollID int64) (*model.Poll, error) {
	db := e.db.WithContext(ctx)
	var poll model.Poll
	if err := db.Where("id = ? AND room_id = ?", pollID, roomID).First(&poll).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("poll")
		}
		return nil, apperr.Internal("failed to load poll", err)
	}

	if !poll.IsCompleted {
		evaluated, err := e.EvaluateCompletion(ctx, pollID)
		if err != nil {
			return nil, err
		}
		poll = *evaluated
	} else if e.cache != nil {
		if cached, ok, err := e.cache.GetResults(ctx, pollID); err != nil {
			log.Printf("[Poll] ⚠️ Result cache read failed for poll %d: %v", pollID, err)
		} else if ok {
			if encoded, err := json.Marshal(cached); err == nil {
				poll.FinalResults = datatypes.JSON(encoded)
			}
		}
	}

	if err := e.attachQuestion(db, &poll); err != nil {
		return nil, err
	}
	return &poll, nil
}

// ListPolls 방의 투표 목록 (진행 중인 투표는 완료 조건 평가)
func (e *PollEngine) ListPolls(ctx context.Context, roomID int64) ([]model.Poll, error) {
	db := e.db.WithContext(ctx)
	if _, err := findRoom(db, roomID); err != nil {
		return nil, err
	}

	var polls []model.Poll
	if err := db.Where("room_id = ?", roomID).Order("id ASC").Find(&polls).Error; err != nil {
		return nil, apperr.Internal("failed to list polls", err)
	}
	for i := range polls {
		if polls[i].IsCompleted {
			continue
		}
		evaluated, err := e.EvaluateCompletion(ctx, polls[i].ID)
		if err != nil {
			return nil, err
		}
		polls[i] = *evaluated
	}
	return polls, nil
}

// LiveResults 완료 전 현재 집계 (완료된 투표는 확정 결과)
func (e *PollEngine) LiveResults(ctx context.Context, pollID int64) ([]model.OptionResult, error) {
	db := e.db.WithContext(ctx)
	poll, err := e.loadPoll(db, pollID)
	if err != nil {
		return nil, err
	}
	if poll.IsCompleted {
		results, err := poll.Results()
		if err != nil {
			return nil, apperr.Internal("failed to decode results", err)
		}
		return results, nil
	}
	return e.tally(db, poll)
}

// GetAnswer 사용자의 응답 조회
func (e *PollEngine) GetAnswer(ctx context.Context, pollID int64, userKey string) (*model.PollAnswer, error) {
	var answer model.PollAnswer
	if err := e.db.WithContext(ctx).
		Where("poll_id = ? AND user_id = ?", pollID, userKey).
		First(&answer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("answer")
		}
		return nil, apperr.Internal("failed to load answer", err)
	}
	return &answer, nil
}

// SweepExpired 만료된 진행 중 투표 일괄 완료 (개별 실패는 로그만 남김)
func (e *PollEngine) SweepExpired(ctx context.Context) (int, error) {
	now := e.clock.Now().UTC()

	var ids []int64
	if err := e.db.WithContext(ctx).Model(&model.Poll{}).
		Where("is_completed = ? AND expires_at < ?", false, now).
		Order("id ASC").
		Pluck("id", &ids).Error; err != nil {
		return 0, apperr.Internal("failed to find expired polls", err)
	}

	completed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return completed, ctx.Err()
		}
		poll, err := e.EvaluateCompletion(ctx, id)
		if err != nil {
			log.Printf("[Poll] ❌ Failed to complete expired poll %d: %v", id, err)
			continue
		}
		if poll.IsCompleted {
			completed++
		}
	}
	return completed, nil
}

func (e *PollEngine) loadPoll(db *gorm.DB, pollID int64) (*model.Poll, error) {
	var poll model.Poll
	if err := db.First(&poll, pollID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("poll")
		}
		return nil, apperr.Internal("failed to load poll", err)
	}
	return &poll, nil
}

func (e *PollEngine) attachQuestion(db *gorm.DB, poll *model.Poll) error {
	var question model.Question
	if err := db.Preload("Options", func(tx *gorm.DB) *gorm.DB {
		return tx.Order("position ASC, id ASC")
	}).First(&question, poll.QuestionID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return apperr.Internal("failed to load question", err)
	}
	poll.Question = &question
	return nil
}

// tally 선택지별 응답 수 집계 후 결과 계산
func (e *PollEngine) tally(db *gorm.DB, poll *model.Poll) ([]model.OptionResult, error) {
	var options []model.QuestionOption
	if err := db.Where("question_id = ?", poll.QuestionID).Find(&options).Error; err != nil {
		return nil, apperr.Internal("failed to load options", err)
	}

	var rows []struct {
		OptionID int64
		Count    int64
	}
	if err := db.Model(&model.PollAnswer{}).
		Select("option_id, COUNT(*) AS count").
		Where("poll_id = ? AND status = ? AND option_id IS NOT NULL", poll.ID, model.AnswerStatusAnswered).
		Group("option_id").
		Scan(&rows).Error; err != nil {
		return nil, apperr.Internal("failed to count answers", err)
	}

	counts := make(map[int64]int64, len(rows))
	for _, r := range rows {
		counts[r.OptionID] = r.Count
	}
	return ComputeResults(options, counts, poll.TotalParticipantsAtCreation), nil
}
