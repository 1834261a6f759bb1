package service

import "livepoll-backend/internal/model"

// 방 전체에 보내는 불투명 텍스트 신호
const (
	SignalPollCreated   = "poll:created"
	SignalPollCompleted = "poll:completed"
	SignalPollDeleted   = "poll:deleted"
	SignalRoomEnded     = "room:ended"
)

// Notifier 상태 변경을 방 연결들에 전달 (presence 채널이 구현)
type Notifier interface {
	ParticipantUpdated(roomID int64, p *model.Participant)
	ParticipantRemoved(roomID int64, p *model.Participant)
	Signal(roomID int64, token string)
}

type noopNotifier struct{}

func (noopNotifier) ParticipantUpdated(int64, *model.Participant) {}
func (noopNotifier) ParticipantRemoved(int64, *model.Participant) {}
func (noopNotifier) Signal(int64, string)                         {}
