package presence

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"livepoll-backend/internal/model"
)

// Conn 웹소켓 연결 (fiber websocket.Conn이 구현)
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Registry 참가자 상태 저장소
type Registry interface {
	Find(ctx context.Context, participantID int64) (*model.Participant, error)
	AttachConnection(ctx context.Context, participantID int64, connID string) (*model.Participant, error)
	Detach(ctx context.Context, participantID int64, connID string) (*model.Participant, error)
	ListActive(ctx context.Context, roomID int64) ([]model.Participant, error)
}

// RoomFinder 방 조회
type RoomFinder interface {
	GetRoom(ctx context.Context, roomID int64) (*model.Room, error)
}

// client 연결된 소켓 하나
type client struct {
	roomID        int64
	participantID int64
	connID        string
	conn          Conn
	writeMu       sync.Mutex
}

// Hub 방 -> 참가자 -> 연결 라우팅 테이블 (DB가 권위, 이 테이블은 전달용)
type Hub struct {
	registry     Registry
	rooms        RoomFinder
	instanceID   string
	writeTimeout time.Duration
	relay        *Relay

	mu      sync.RWMutex
	clients map[int64]map[int64]*client // roomID -> participantID -> client
}

// NewHub Hub 생성
func NewHub(registry Registry, rooms RoomFinder, instanceID string, writeTimeout time.Duration) *Hub {
	return &Hub{
		registry:     registry,
		rooms:        rooms,
		instanceID:   instanceID,
		writeTimeout: writeTimeout,
		clients:      make(map[int64]map[int64]*client),
	}
}

// UseRelay 인스턴스 간 중계 활성화
func (h *Hub) UseRelay(r *Relay) {
	h.relay = r
}

// NewConnectionID "<instanceID>:<uuid>" 형식 연결 ID
func (h *Hub) NewConnectionID() string {
	return h.instanceID + ":" + uuid.NewString()
}

// Serve 연결 수명 전체 처리 (반환 시 연결 해제 완료)
func (h *Hub) Serve(ctx context.Context, conn Conn, roomID, participantID int64, identityKey string) {
	defer conn.Close()

	if _, err := h.rooms.GetRoom(ctx, roomID); err != nil {
		h.writeTo(conn, nil, errorFrame("room not found"))
		return
	}
	participant, err := h.registry.Find(ctx, participantID)
	if err != nil || participant.RoomID != roomID {
		h.writeTo(conn, nil, errorFrame("participant not found in room"))
		return
	}
	if participant.IdentityKey != identityKey {
		h.writeTo(conn, nil, errorFrame("participant does not belong to caller"))
		return
	}

	c := &client{
		roomID:        roomID,
		participantID: participantID,
		connID:        h.NewConnectionID(),
		conn:          conn,
	}

	// 등록 전에 DB에 연결을 기록해야 이전 소켓의 Detach가 새 연결을 지우지 않음
	if _, err := h.registry.AttachConnection(ctx, participantID, c.connID); err != nil {
		log.Printf("[Presence] ❌ Attach failed (room=%d, participant=%d): %v", roomID, participantID, err)
		h.writeTo(conn, nil, errorFrame("failed to attach connection"))
		return
	}
	h.register(c)
	log.Printf("[Presence] Connected: room=%d participant=%d conn=%s", roomID, participantID, c.connID)

	defer func() {
		h.unregister(c)
		// 비정상 종료 포함: 참가자 행 삭제 후 participant:removed 브로드캐스트
		if _, err := h.registry.Detach(context.Background(), participantID, c.connID); err != nil {
			log.Printf("[Presence] ❌ Detach failed (room=%d, participant=%d): %v", roomID, participantID, err)
		}
		log.Printf("[Presence] Disconnected: room=%d participant=%d", roomID, participantID)
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		h.handleMessage(ctx, c, data)
	}
}

// handleMessage 수신 이벤트 처리 (알 수 없는 이벤트는 error 응답, 연결 유지)
func (h *Hub) handleMessage(ctx context.Context, c *client, data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.send(c, errorFrame("malformed message"))
		return
	}

	switch msg.Event {
	case EventParticipantsGet:
		participants, err := h.registry.ListActive(ctx, c.roomID)
		if err != nil {
			log.Printf("[Presence] ❌ ListActive failed for room %d: %v", c.roomID, err)
			h.send(c, errorFrame("failed to list participants"))
			return
		}
		if participants == nil {
			participants = []model.Participant{}
		}
		h.send(c, mustMarshal(participantsResult{
			Event:        EventParticipantsResult,
			Participants: participants,
			Message:      "ok",
		}))
	case EventPing:
		h.send(c, mustMarshal(eventOnly{Event: EventPong}))
	default:
		h.send(c, errorFrame("unknown event: "+msg.Event))
	}
}

// ParticipantUpdated 참가자 연결/변경 브로드캐스트
func (h *Hub) ParticipantUpdated(roomID int64, p *model.Participant) {
	h.BroadcastRoom(roomID, mustMarshal(participantUpdated{Event: EventParticipantUpdated, Participant: p}))
}

// ParticipantRemoved 참가자 퇴장 브로드캐스트
func (h *Hub) ParticipantRemoved(roomID int64, p *model.Participant) {
	h.BroadcastRoom(roomID, mustMarshal(participantRemoved{Event: EventParticipantRemoved, ParticipantID: p.ID}))
}

// Signal 방 전체에 불투명 텍스트 토큰 전송
func (h *Hub) Signal(roomID int64, token string) {
	h.BroadcastRoom(roomID, []byte(token))
}

// BroadcastRoom 로컬 연결에 전달하고 중계가 있으면 다른 인스턴스에도 발행
func (h *Hub) BroadcastRoom(roomID int64, frame []byte) {
	h.DeliverLocal(roomID, frame)

	if h.relay != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := h.relay.Publish(ctx, roomID, frame); err != nil {
			log.Printf("[Presence] ⚠️ Relay publish failed for room %d: %v", roomID, err)
		}
	}
}

// DeliverLocal 이 인스턴스에 붙은 방 연결들에만 전달 (최대 한 번, 실패는 버림)
func (h *Hub) DeliverLocal(roomID int64, frame []byte) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients[roomID]))
	for _, c := range h.clients[roomID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.send(c, frame)
	}
}

// SendTo 특정 참가자 연결에만 전달
func (h *Hub) SendTo(roomID, participantID int64, frame []byte) bool {
	h.mu.RLock()
	c, ok := h.clients[roomID][participantID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return h.send(c, frame)
}

// ConnectedCount 방의 로컬 연결 수
func (h *Hub) ConnectedCount(roomID int64) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[roomID])
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	room := h.clients[c.roomID]
	if room == nil {
		room = make(map[int64]*client)
		h.clients[c.roomID] = room
	}
	old := room[c.participantID]
	room[c.participantID] = c
	h.mu.Unlock()

	// 같은 참가자의 이전 소켓은 새 연결로 대체
	if old != nil {
		old.conn.Close()
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room := h.clients[c.roomID]
	if room[c.participantID] == c {
		delete(room, c.participantID)
	}
	if len(room) == 0 {
		delete(h.clients, c.roomID)
	}
}

func (h *Hub) send(c *client, frame []byte) bool {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return h.writeTo(c.conn, c, frame)
}

func (h *Hub) writeTo(conn Conn, c *client, frame []byte) bool {
	if h.writeTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		if c != nil {
			log.Printf("[Presence] ⚠️ Write failed (room=%d, participant=%d): %v", c.roomID, c.participantID, err)
		}
		return false
	}
	return true
}
