package service

import (
	"context"
	"errors"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/benbjohnson/clock"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"livepoll-backend/internal/apperr"
	"livepoll-backend/internal/model"
)

// Registry 방별 참가자 및 실시간 연결 상태 관리 (DB가 단일 진실 원천)
type Registry struct {
	db       *gorm.DB
	clock    clock.Clock
	notifier Notifier
}

// NewRegistry Registry 생성
func NewRegistry(db *gorm.DB, clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.New()
	}
	return &Registry{db: db, clock: clk, notifier: noopNotifier{}}
}

// SetNotifier 브로드캐스트 대상 연결 (presence 허브 생성 후 호출)
func (r *Registry) SetNotifier(n Notifier) {
	if n == nil {
		n = noopNotifier{}
	}
	r.notifier = n
}

// Join 방 참가 (같은 identity가 이미 있으면 DuplicateParticipant)
func (r *Registry) Join(ctx context.Context, roomID int64, identity model.Identity, role model.ParticipantRole) (*model.Participant, error) {
	if identity.Key == "" {
		return nil, apperr.Validation("identity is required")
	}
	displayName := strings.TrimSpace(identity.DisplayName)
	if displayName == "" {
		return nil, apperr.Validation("displayName is required")
	}
	displayName = model.TruncateDisplayName(displayName)
	if role == "" {
		role = model.RoleParticipant
	}
	if !role.Valid() {
		return nil, apperr.Validation("invalid role: %s", role)
	}

	participant := &model.Participant{
		RoomID:          roomID,
		UserID:          identity.UserID(),
		IdentityKey:     identity.Key,
		DisplayName:     displayName,
		ParticipantType: identity.Type(),
		Role:            role,
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		room, err := findRoom(tx, roomID)
		if err != nil {
			return err
		}
		if room.Status == model.RoomStatusEnded {
			return apperr.ErrRoomEnded
		}
		if room.MaxParticipants > 0 {
			var count int64
			if err := tx.Model(&model.Participant{}).Where("room_id = ?", roomID).Count(&count).Error; err != nil {
				return apperr.Internal("failed to count participants", err)
			}
			if count >= int64(room.MaxParticipants) {
				return apperr.ErrRoomFull
			}
		}

		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "room_id"}, {Name: "identity_key"}},
			DoNothing: true,
		}).Create(participant)
		if result.Error != nil {
			return apperr.Internal("failed to create participant", result.Error)
		}
		if result.RowsAffected == 0 {
			return apperr.ErrDuplicateParticipant
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[Registry] ✅ Participant %d joined room %d as %s", participant.ID, roomID, role)
	r.notifier.ParticipantUpdated(roomID, participant)
	return participant, nil
}

// AttachConnection 소켓 연결 기록 (같은 connID면 변화 없음)
func (r *Registry) AttachConnection(ctx context.Context, participantID int64, connID string) (*model.Participant, error) {
	var participant model.Participant
	changed := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&participant, participantID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.NotFound("participant")
			}
			return apperr.Internal("failed to load participant", err)
		}
		if participant.ConnectionID != nil && *participant.ConnectionID == connID {
			return nil
		}

		if err := tx.Model(&participant).Update("connection_id", connID).Error; err != nil {
			return apperr.Internal("failed to attach connection", err)
		}
		participant.ConnectionID = &connID
		changed = true

		// 호스트 복귀 시 부재 시각 초기화 (co_host는 방 유지 조건이 아님)
		if participant.Role == model.RoleHost {
			if err := tx.Model(&model.Room{}).Where("id = ?", participant.RoomID).
				Update("host_left_at", nil).Error; err != nil {
				return apperr.Internal("failed to clear host_left_at", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		r.notifier.ParticipantUpdated(participant.RoomID, &participant)
	}
	return &participant, nil
}

// Remove 참가자 행 삭제 (없으면 nil, nil)
func (r *Registry) Remove(ctx context.Context, participantID int64) (*model.Participant, error) {
	return r.remove(ctx, participantID, "")
}

// Detach 해당 연결이 아직 유효할 때만 참가자 제거 (재접속한 새 연결은 유지)
func (r *Registry) Detach(ctx context.Context, participantID int64, connID string) (*model.Participant, error) {
	return r.remove(ctx, participantID, connID)
}

func (r *Registry) remove(ctx context.Context, participantID int64, connID string) (*model.Participant, error) {
	var removed *model.Participant

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var participant model.Participant
		if err := tx.First(&participant, participantID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return apperr.Internal("failed to load participant", err)
		}
		if connID != "" && (participant.ConnectionID == nil || *participant.ConnectionID != connID) {
			return nil
		}

		result := tx.Delete(&model.Participant{}, participant.ID)
		if result.Error != nil {
			return apperr.Internal("failed to delete participant", result.Error)
		}
		if result.RowsAffected == 0 {
			return nil
		}
		removed = &participant

		if participant.Role != model.RoleHost || !participant.IsOnline() {
			return nil
		}

		// 마지막으로 연결된 호스트가 나가면 부재 시각 기록
		var hosts int64
		if err := tx.Model(&model.Participant{}).
			Where("room_id = ? AND role = ? AND connection_id IS NOT NULL", participant.RoomID, model.RoleHost).
			Count(&hosts).Error; err != nil {
			return apperr.Internal("failed to count connected hosts", err)
		}
		if hosts == 0 {
			now := r.clock.Now().UTC()
			if err := tx.Model(&model.Room{}).Where("id = ?", participant.RoomID).
				Update("host_left_at", now).Error; err != nil {
				return apperr.Internal("failed to set host_left_at", err)
			}
			log.Printf("[Registry] ⚠️ Last host left room %d", participant.RoomID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if removed != nil {
		r.notifier.ParticipantRemoved(removed.RoomID, removed)
	}
	return removed, nil
}

// ListActive 연결 중인 참가자 목록
func (r *Registry) ListActive(ctx context.Context, roomID int64) ([]model.Participant, error) {
	var participants []model.Participant
	if err := r.db.WithContext(ctx).
		Where("room_id = ? AND connection_id IS NOT NULL", roomID).
		Order("id ASC").
		Find(&participants).Error; err != nil {
		return nil, apperr.Internal("failed to list active participants", err)
	}
	return participants, nil
}

// List 방의 모든 참가자 목록
func (r *Registry) List(ctx context.Context, roomID int64) ([]model.Participant, error) {
	var participants []model.Participant
	if err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("id ASC").
		Find(&participants).Error; err != nil {
		return nil, apperr.Internal("failed to list participants", err)
	}
	return participants, nil
}

// Find 참가자 단건 조회
func (r *Registry) Find(ctx context.Context, participantID int64) (*model.Participant, error) {
	var participant model.Participant
	if err := r.db.WithContext(ctx).First(&participant, participantID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("participant")
		}
		return nil, apperr.Internal("failed to load participant", err)
	}
	return &participant, nil
}

// FindByIdentity 방 안에서 identity로 참가자 조회
func (r *Registry) FindByIdentity(ctx context.Context, roomID int64, identityKey string) (*model.Participant, error) {
	var participant model.Participant
	if err := r.db.WithContext(ctx).
		Where("room_id = ? AND identity_key = ?", roomID, identityKey).
		First(&participant).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("participant")
		}
		return nil, apperr.Internal("failed to load participant", err)
	}
	return &participant, nil
}

// PurgeConnections 이전 프로세스가 남긴 연결 정리 (instancePrefix로 시작하는 connectionId)
func (r *Registry) PurgeConnections(ctx context.Context, instancePrefix string) (int, error) {
	// LIKE는 호스트명의 '_'를 와일드카드로 해석하므로 접두사를 그대로 비교
	prefix := instancePrefix + ":"
	var ids []int64
	if err := r.db.WithContext(ctx).Model(&model.Participant{}).
		Where("substr(connection_id, 1, ?) = ?", utf8.RuneCountInString(prefix), prefix).
		Pluck("id", &ids).Error; err != nil {
		return 0, apperr.Internal("failed to find stale connections", err)
	}

	purged := 0
	for _, id := range ids {
		p, err := r.Remove(ctx, id)
		if err != nil {
			log.Printf("[Registry] ❌ Failed to purge participant %d: %v", id, err)
			continue
		}
		if p != nil {
			purged++
		}
	}
	if purged > 0 {
		log.Printf("[Registry] 🧹 Purged %d stale connections (instance=%s)", purged, instancePrefix)
	}
	return purged, nil
}

func findRoom(tx *gorm.DB, roomID int64) (*model.Room, error) {
	var room model.Room
	if err := tx.First(&room, roomID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.NotFound("room")
		}
		return nil, apperr.Internal("failed to load room", err)
	}
	return &room, nil
}
