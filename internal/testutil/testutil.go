package testutil

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"livepoll-backend/internal/database"
	"livepoll-backend/internal/model"
)

var dbSeq atomic.Int64

// SetupTestDB 테스트마다 독립된 인메모리 SQLite DB 생성 및 마이그레이션
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:testdb%d?mode=memory&cache=shared&_pragma=busy_timeout(5000)", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}

	// SQLite는 단일 writer라 커넥션 하나로 직렬화
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("Failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := database.Migrate(db); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	t.Cleanup(func() {
		sqlDB.Close()
	})
	return db
}

// CreateTestRoom 방 생성 (host 참가자는 만들지 않음)
func CreateTestRoom(t *testing.T, db *gorm.DB, status model.RoomStatus, duration string) *model.Room {
	t.Helper()

	room := &model.Room{
		Code:      fmt.Sprintf("R%05d", dbSeq.Add(1)),
		CreatedBy: "host-user",
		Status:    status,
		Duration:  duration,
	}
	if err := db.Create(room).Error; err != nil {
		t.Fatalf("Failed to create test room: %v", err)
	}
	return room
}

// AddTestParticipant 참가자 추가 (connID가 비어있지 않으면 연결 상태)
func AddTestParticipant(t *testing.T, db *gorm.DB, roomID int64, key string, role model.ParticipantRole, connID string) *model.Participant {
	t.Helper()

	userID := key
	p := &model.Participant{
		RoomID:          roomID,
		UserID:          &userID,
		IdentityKey:     key,
		DisplayName:     key,
		ParticipantType: model.ParticipantTypeAuthenticated,
		Role:            role,
	}
	if connID != "" {
		p.ConnectionID = &connID
	}
	if err := db.Create(p).Error; err != nil {
		t.Fatalf("Failed to create test participant: %v", err)
	}
	return p
}

// CreateTestQuestion 문항과 선택지 생성 (첫 번째 선택지가 정답)
func CreateTestQuestion(t *testing.T, db *gorm.DB, text string, options ...string) *model.Question {
	t.Helper()

	q := &model.Question{Text: text}
	if err := db.Create(q).Error; err != nil {
		t.Fatalf("Failed to create test question: %v", err)
	}
	for i, label := range options {
		opt := model.QuestionOption{
			QuestionID: q.ID,
			Text:       label,
			Position:   i,
			IsCorrect:  i == 0,
		}
		if err := db.Create(&opt).Error; err != nil {
			t.Fatalf("Failed to create test option: %v", err)
		}
		q.Options = append(q.Options, opt)
	}
	return q
}

// CreateTestPoll 투표 직접 생성 (엔진을 거치지 않음)
func CreateTestPoll(t *testing.T, db *gorm.DB, roomID, questionID int64, total int, expiresAt time.Time) *model.Poll {
	t.Helper()

	poll := &model.Poll{
		RoomID:                      roomID,
		QuestionID:                  questionID,
		TimeLimitMinutes:            1,
		ExpiresAt:                   expiresAt,
		TotalParticipantsAtCreation: total,
	}
	if err := db.Create(poll).Error; err != nil {
		t.Fatalf("Failed to create test poll: %v", err)
	}
	return poll
}

// Recorder 브로드캐스트 기록용 Notifier
type Recorder struct {
	mu     sync.Mutex
	events []RecordedEvent
}

// RecordedEvent 기록된 이벤트
type RecordedEvent struct {
	RoomID int64
	Event  string
	Data   any
}

// NewRecorder Recorder 생성
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) record(roomID int64, event string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, RecordedEvent{RoomID: roomID, Event: event, Data: data})
}

// ParticipantUpdated Notifier 구현
func (r *Recorder) ParticipantUpdated(roomID int64, p *model.Participant) {
	r.record(roomID, "participant:updated", p)
}

// ParticipantRemoved Notifier 구현
func (r *Recorder) ParticipantRemoved(roomID int64, p *model.Participant) {
	r.record(roomID, "participant:removed", p)
}

// Signal Notifier 구현 (불투명 토큰)
func (r *Recorder) Signal(roomID int64, token string) {
	r.record(roomID, token, nil)
}

// Events 기록된 이벤트 이름 목록
func (r *Recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, len(r.events))
	for i, e := range r.events {
		names[i] = e.Event
	}
	return names
}

// Count 특정 이벤트 횟수
func (r *Recorder) Count(event string) int {
	n := 0
	for _, name := range r.Events() {
		if name == event {
			n++
		}
	}
	return n
}
