package presence

import (
	"encoding/json"

	"livepoll-backend/internal/model"
)

// 이벤트 이름
const (
	EventParticipantsGet    = "participants:get"
	EventParticipantsResult = "participants:result"
	EventParticipantUpdated = "participant:updated"
	EventParticipantRemoved = "participant:removed"
	EventError              = "error"
	EventPing               = "ping"
	EventPong               = "pong"
)

type inboundMessage struct {
	Event  string `json:"event"`
	RoomID int64  `json:"roomId,omitempty"`
}

type eventOnly struct {
	Event string `json:"event"`
}

type errorMessage struct {
	Event   string `json:"event"`
	Message string `json:"message"`
}

type participantsResult struct {
	Event        string              `json:"event"`
	Participants []model.Participant `json:"participants"`
	Message      string              `json:"message"`
}

type participantUpdated struct {
	Event       string             `json:"event"`
	Participant *model.Participant `json:"participant"`
}

type participantRemoved struct {
	Event         string `json:"event"`
	ParticipantID int64  `json:"participantId"`
}

func errorFrame(message string) []byte {
	return mustMarshal(errorMessage{Event: EventError, Message: message})
}

// mustMarshal 고정 구조체 직렬화 (실패할 수 없는 타입만 사용)
func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
