package model

import (
	"encoding/json"
	"time"
	"unicode/utf8"

	"gorm.io/datatypes"
)

// Room 실시간 투표 방
type Room struct {
	ID              int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	Code            string     `gorm:"type:varchar(16);uniqueIndex;not null" json:"code"`
	CreatedBy       string     `gorm:"type:varchar(255);not null" json:"created_by"`
	Status          RoomStatus `gorm:"type:varchar(20);not null;default:'not_started';index" json:"status"`
	MaxParticipants int        `gorm:"not null;default:0" json:"max_participants"` // 0 = 제한 없음
	Duration        string     `gorm:"type:varchar(20);not null;default:'60m'" json:"duration"`
	HostLeftAt      *time.Time `json:"host_left_at,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`

	// Relations
	Participants []Participant `gorm:"foreignKey:RoomID" json:"participants,omitempty"`
	Polls        []Poll        `gorm:"foreignKey:RoomID" json:"polls,omitempty"`
}

func (Room) TableName() string {
	return "rooms"
}

// Participant 방 참가자 (연결 해제 시 행 삭제)
type Participant struct {
	ID              int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	RoomID          int64           `gorm:"not null;uniqueIndex:idx_participant_identity" json:"room_id"`
	UserID          *string         `gorm:"type:varchar(255)" json:"user_id,omitempty"` // 익명 참가자는 NULL
	IdentityKey     string          `gorm:"type:varchar(255);not null;uniqueIndex:idx_participant_identity" json:"-"`
	DisplayName     string          `gorm:"type:varchar(100);not null" json:"display_name"`
	ParticipantType ParticipantType `gorm:"type:varchar(20);not null" json:"participant_type"`
	Role            ParticipantRole `gorm:"type:varchar(20);not null" json:"role"`
	ConnectionID    *string         `gorm:"type:varchar(100);index" json:"connection_id,omitempty"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Participant) TableName() string {
	return "participants"
}

// IsOnline 소켓 연결 여부
func (p *Participant) IsOnline() bool {
	return p.ConnectionID != nil
}

// MaxDisplayNameLength 표시 이름 최대 길이 (문자 수)
const MaxDisplayNameLength = 100

// TruncateDisplayName 문자 단위로 최대 길이까지 자름 (UTF-8 경계 유지)
func TruncateDisplayName(name string) string {
	if utf8.RuneCountInString(name) <= MaxDisplayNameLength {
		return name
	}
	return string([]rune(name)[:MaxDisplayNameLength])
}

// IsHostRole 호스트 계열 역할 여부 (host, co_host)
func (p *Participant) IsHostRole() bool {
	return p.Role == RoleHost || p.Role == RoleCoHost
}

// Question 문항 (카탈로그 서비스 소유, 읽기 전용)
type Question struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Text      string    `gorm:"type:text;not null" json:"text"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`

	// Relations
	Options []QuestionOption `gorm:"foreignKey:QuestionID" json:"options,omitempty"`
}

func (Question) TableName() string {
	return "questions"
}

// QuestionOption 문항 선택지
type QuestionOption struct {
	ID         int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	QuestionID int64  `gorm:"not null;index" json:"question_id"`
	Text       string `gorm:"type:varchar(500);not null" json:"text"`
	Position   int    `gorm:"not null;default:0" json:"position"`
	IsCorrect  bool   `gorm:"not null;default:false" json:"is_correct"`
}

func (QuestionOption) TableName() string {
	return "question_options"
}

// Poll 시간 제한 투표
type Poll struct {
	ID                          int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	QuestionID                  int64          `gorm:"not null;index" json:"question_id"`
	RoomID                      int64          `gorm:"not null;index" json:"room_id"`
	TimeLimitMinutes            int            `gorm:"not null;default:1" json:"time_limit_minutes"`
	ExpiresAt                   time.Time      `gorm:"not null;index" json:"expires_at"`
	TotalParticipantsAtCreation int            `gorm:"not null" json:"total_participants_at_creation"` // 생성 시점 스냅샷, 재계산 금지
	IsCompleted                 bool           `gorm:"not null;default:false;index" json:"is_completed"`
	FinalResults                datatypes.JSON `json:"final_results,omitempty"` // 완료 시 한 번만 기록
	CompletedAt                 *time.Time     `json:"completed_at,omitempty"`
	CreatedAt                   time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                   time.Time      `gorm:"autoUpdateTime" json:"updated_at"`

	// Relations
	Question *Question   `gorm:"foreignKey:QuestionID" json:"question,omitempty"`
	Answers  []PollAnswer `gorm:"foreignKey:PollID" json:"-"`
}

func (Poll) TableName() string {
	return "polls"
}

// Results 저장된 최종 결과 디코딩 (미완료면 nil)
func (p *Poll) Results() ([]OptionResult, error) {
	if len(p.FinalResults) == 0 {
		return nil, nil
	}
	var results []OptionResult
	if err := json.Unmarshal(p.FinalResults, &results); err != nil {
		return nil, err
	}
	return results, nil
}

// IsExpired 만료 여부 (now가 expiresAt 이후)
func (p *Poll) IsExpired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// PollAnswer 투표 응답 (poll_id, user_id 당 최대 1행)
type PollAnswer struct {
	ID        int64        `gorm:"primaryKey;autoIncrement" json:"id"`
	PollID    int64        `gorm:"not null;uniqueIndex:idx_poll_answer_user" json:"poll_id"`
	UserID    string       `gorm:"type:varchar(255);not null;uniqueIndex:idx_poll_answer_user" json:"user_id"`
	OptionID  *int64       `json:"option_id,omitempty"` // NULL = 건너뜀
	Status    AnswerStatus `gorm:"type:varchar(20);not null" json:"status"`
	CreatedAt time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PollAnswer) TableName() string {
	return "poll_answers"
}

// OptionResult 선택지별 집계 결과 (final_results 직렬화 형식)
type OptionResult struct {
	OptionID   int64   `json:"optionId"`
	OptionText string  `json:"optionText"`
	Count      int64   `json:"count"`
	Percentage float64 `json:"percentage"`
	IsCorrect  bool    `json:"isCorrect"`
}
