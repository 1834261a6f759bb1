package service

import (
	"context"

	"gorm.io/gorm"

	"livepoll-backend/internal/model"
)

// MemberService 방 멤버십/권한 관련 비즈니스 로직
type MemberService struct {
	db *gorm.DB
}

// NewMemberService MemberService 생성
func NewMemberService(db *gorm.DB) *MemberService {
	return &MemberService{db: db}
}

// IsRoomMember 방 참가자 여부 확인
func (s *MemberService) IsRoomMember(ctx context.Context, roomID int64, identityKey string) bool {
	var count int64
	s.db.WithContext(ctx).Model(&model.Participant{}).
		Where("room_id = ? AND identity_key = ?", roomID, identityKey).
		Count(&count)
	return count > 0
}

// IsRoomCreator 방 생성자 여부 확인
func (s *MemberService) IsRoomCreator(ctx context.Context, roomID int64, identityKey string) bool {
	var createdBy string
	s.db.WithContext(ctx).Model(&model.Room{}).Where("id = ?", roomID).Select("created_by").Scan(&createdBy)
	return createdBy != "" && createdBy == identityKey
}

// IsRoomHost 호스트 계열 역할(host, co_host) 보유 여부 확인
func (s *MemberService) IsRoomHost(ctx context.Context, roomID int64, identityKey string) bool {
	// 생성자는 참가자 행이 없어도 호스트 권한 보유
	if s.IsRoomCreator(ctx, roomID, identityKey) {
		return true
	}

	role, err := s.GetMemberRole(ctx, roomID, identityKey)
	if err != nil {
		return false
	}
	return role == model.RoleHost || role == model.RoleCoHost
}

// GetMemberRole 참가자의 역할 조회
func (s *MemberService) GetMemberRole(ctx context.Context, roomID int64, identityKey string) (model.ParticipantRole, error) {
	var participant model.Participant
	err := s.db.WithContext(ctx).
		Where("room_id = ? AND identity_key = ?", roomID, identityKey).
		First(&participant).Error
	if err != nil {
		return "", err
	}
	return participant.Role, nil
}
