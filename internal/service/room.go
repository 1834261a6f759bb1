package service

import (
	"context"
	"crypto/rand"
	"errors"
	"log"
	"strings"

	"gorm.io/gorm"

	"livepoll-backend/internal/apperr"
	"livepoll-backend/internal/model"
)

const (
	roomCodeLength   = 6
	roomCodeAttempts = 5
	// 혼동되는 문자(0/O, 1/I) 제외
	roomCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// RoomService 방 생성 및 상태 전이
type RoomService struct {
	db       *gorm.DB
	notifier Notifier
}

// NewRoomService RoomService 생성
func NewRoomService(db *gorm.DB) *RoomService {
	return &RoomService{db: db, notifier: noopNotifier{}}
}

// SetNotifier 브로드캐스트 대상 연결
func (s *RoomService) SetNotifier(n Notifier) {
	if n == nil {
		n = noopNotifier{}
	}
	s.notifier = n
}

// CreateRoomInput 방 생성 입력
type CreateRoomInput struct {
	MaxParticipants int
	Duration        string
}

// CreateRoom 방 생성 및 호스트 참가자 등록
func (s *RoomService) CreateRoom(ctx context.Context, host model.Identity, in CreateRoomInput) (*model.Room, *model.Participant, error) {
	if host.Key == "" || host.Anonymous {
		return nil, nil, apperr.Forbidden("anonymous users cannot create rooms")
	}
	if in.MaxParticipants < 0 {
		return nil, nil, apperr.Validation("maxParticipants must not be negative")
	}
	if in.Duration == "" {
		in.Duration = "60m"
	}
	if _, ok := model.ParseRoomDuration(in.Duration); !ok {
		return nil, nil, apperr.Validation("duration must look like 60m or 2h")
	}
	displayName := strings.TrimSpace(host.DisplayName)
	if displayName == "" {
		displayName = "Host"
	}
	displayName = model.TruncateDisplayName(displayName)

	var room *model.Room
	var participant *model.Participant
	var err error
	for attempt := 0; attempt < roomCodeAttempts; attempt++ {
		var code string
		code, err = generateRoomCode()
		if err != nil {
			return nil, nil, apperr.Internal("failed to generate room code", err)
		}

		room = &model.Room{
			Code:            code,
			CreatedBy:       host.Key,
			Status:          model.RoomStatusNotStarted,
			MaxParticipants: in.MaxParticipants,
			Duration:        in.Duration,
		}
		participant = &model.Participant{
			UserID:          host.UserID(),
			IdentityKey:     host.Key,
			DisplayName:     displayName,
			ParticipantType: host.Type(),
			Role:            model.RoleHost,
		}

		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var taken int64
			if err := tx.Model(&model.Room{}).Where("code = ?", code).Count(&taken).Error; err != nil {
				return err
			}
			if taken > 0 {
				return errRoomCodeTaken
			}
			if err := tx.Create(room).Error; err != nil {
				return err
			}
			participant.RoomID = room.ID
			return tx.Create(participant).Error
		})
		if !errors.Is(err, errRoomCodeTaken) {
			break
		}
		log.Printf("[Room] ⚠️ Room code collision (%s), retrying", code)
	}
	if err != nil {
		return nil, nil, apperr.Internal("failed to create room", err)
	}

	log.Printf("[Room] ✅ Room %d created (code=%s)", room.ID, room.Code)
	return room, participant, nil
}

var errRoomCodeTaken = errors.New("room code taken")

// GetRoom 방 조회
func (s *RoomService) GetRoom(ctx context.Context, roomID int64) (*model.Room, error) {
	return findRoom(s.db.WithContext(ctx), roomID)
}

// GetRoomByCode 참가 코드로 방 조회 (대소문자 무시)
func (s *RoomService) GetRoomByCode(ctx context.Context, code string) (*model.Room, error) {
	var room model.Room
	if err := s.db.WithContext(ctx).Where("code = ?", strings.ToUpper(strings.TrimSpace(code))).First(&room).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("room")
		}
		return nil, apperr.Internal("failed to load room", err)
	}
	return &room, nil
}

// StartRoom not_started -> running (생성자만)
func (s *RoomService) StartRoom(ctx context.Context, roomID int64, caller string) (*model.Room, error) {
	return s.transition(ctx, roomID, caller, model.RoomStatusRunning)
}

// EndRoom -> ended (생성자만)
func (s *RoomService) EndRoom(ctx context.Context, roomID int64, caller string) (*model.Room, error) {
	room, err := s.transition(ctx, roomID, caller, model.RoomStatusEnded)
	if err != nil {
		return nil, err
	}
	s.notifier.Signal(room.ID, SignalRoomEnded)
	return room, nil
}

func (s *RoomService) transition(ctx context.Context, roomID int64, caller string, next model.RoomStatus) (*model.Room, error) {
	db := s.db.WithContext(ctx)
	room, err := findRoom(db, roomID)
	if err != nil {
		return nil, err
	}
	if room.CreatedBy != caller {
		return nil, apperr.Forbidden("only the room creator can change its status")
	}
	if !room.Status.CanTransitionTo(next) {
		return nil, apperr.ErrInvalidTransition
	}

	// 동시 전이와 경합하지 않도록 현재 상태 조건부 갱신
	result := db.Model(&model.Room{}).
		Where("id = ? AND status = ?", room.ID, room.Status).
		Update("status", next)
	if result.Error != nil {
		return nil, apperr.Internal("failed to update room status", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, apperr.ErrInvalidTransition
	}

	log.Printf("[Room] 🔄 Room %d: %s -> %s", room.ID, room.Status, next)
	room.Status = next
	return room, nil
}

// generateRoomCode 암호학적 난수 기반 참가 코드
func generateRoomCode() (string, error) {
	buf := make([]byte, roomCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	code := make([]byte, roomCodeLength)
	for i, b := range buf {
		code[i] = roomCodeAlphabet[int(b)%len(roomCodeAlphabet)]
	}
	return string(code), nil
}
