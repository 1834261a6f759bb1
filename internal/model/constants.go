package model

// RoomStatus 방 상태 (not_started -> running -> ended, 역방향 불가)
type RoomStatus string

const (
	RoomStatusNotStarted RoomStatus = "not_started"
	RoomStatusRunning    RoomStatus = "running"
	RoomStatusEnded      RoomStatus = "ended"
)

func (s RoomStatus) String() string {
	return string(s)
}

func (s RoomStatus) rank() int {
	switch s {
	case RoomStatusNotStarted:
		return 0
	case RoomStatusRunning:
		return 1
	case RoomStatusEnded:
		return 2
	default:
		return -1
	}
}

// CanTransitionTo 전이 가능 여부 (앞으로만)
func (s RoomStatus) CanTransitionTo(next RoomStatus) bool {
	if s.rank() < 0 || next.rank() < 0 {
		return false
	}
	return next.rank() > s.rank()
}

// ParticipantType 참가자 유형
type ParticipantType string

const (
	ParticipantTypeAuthenticated ParticipantType = "authenticated"
	ParticipantTypeAnonymous     ParticipantType = "anonymous"
)

func (t ParticipantType) String() string {
	return string(t)
}

// ParticipantRole 참가자 역할
type ParticipantRole string

const (
	RoleHost        ParticipantRole = "host"
	RoleCoHost      ParticipantRole = "co_host"
	RoleParticipant ParticipantRole = "participant"
)

func (r ParticipantRole) String() string {
	return string(r)
}

// Valid 정의된 역할인지 확인
func (r ParticipantRole) Valid() bool {
	switch r {
	case RoleHost, RoleCoHost, RoleParticipant:
		return true
	}
	return false
}

// AnswerStatus 응답 상태
type AnswerStatus string

const (
	AnswerStatusAnswered AnswerStatus = "answered"
	AnswerStatusSkipped  AnswerStatus = "skipped"
)

func (s AnswerStatus) String() string {
	return string(s)
}
