package presence

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"livepoll-backend/internal/model"
	"livepoll-backend/internal/service"
	"livepoll-backend/internal/testutil"
)

// fakeConn 메모리 기반 웹소켓 연결
type fakeConn struct {
	in        chan []byte
	closed    chan struct{}
	closeOnce sync.Once

	mu  sync.Mutex
	out [][]byte
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data, ok := <-f.in:
		if !ok {
			return 0, nil, io.EOF
		}
		return 1, data, nil
	case <-f.closed:
		return 0, nil, io.EOF
	}
}

func (f *fakeConn) WriteMessage(_ int, data []byte) error {
	select {
	case <-f.closed:
		return errors.New("write on closed connection")
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, append([]byte(nil), data...))
	return nil
}

func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeConn) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) frames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.out))
	for i, b := range f.out {
		out[i] = string(b)
	}
	return out
}

// events JSON 프레임은 event 필드, 텍스트 프레임은 그대로
func (f *fakeConn) events() []string {
	var names []string
	for _, frame := range f.frames() {
		var m struct {
			Event string `json:"event"`
		}
		if json.Unmarshal([]byte(frame), &m) == nil && m.Event != "" {
			names = append(names, m.Event)
		} else {
			names = append(names, frame)
		}
	}
	return names
}

func (f *fakeConn) waitFor(t *testing.T, event string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		for _, e := range f.events() {
			if e == event {
				return
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %q; got %v", event, f.events())
}

func countEvent(events []string, event string) int {
	n := 0
	for _, e := range events {
		if e == event {
			n++
		}
	}
	return n
}

type hubFixture struct {
	db       *gorm.DB
	registry *service.Registry
	hub      *Hub
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	registry := service.NewRegistry(db, nil)
	rooms := service.NewRoomService(db)
	hub := NewHub(registry, rooms, "test-node", time.Second)
	registry.SetNotifier(hub)
	rooms.SetNotifier(hub)
	return &hubFixture{db: db, registry: registry, hub: hub}
}

// serve Serve를 고루틴으로 실행하고 종료 신호 채널 반환
func (f *hubFixture) serve(conn *fakeConn, roomID, participantID int64, identity string) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.hub.Serve(context.Background(), conn, roomID, participantID, identity)
	}()
	return done
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func waitConnected(t *testing.T, h *Hub, roomID int64, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.ConnectedCount(roomID) == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d connections in room %d, have %d", n, roomID, h.ConnectedCount(roomID))
}

func TestServeRejectsUnknownRoom(t *testing.T) {
	f := newHubFixture(t)
	conn := newFakeConn()

	waitDone(t, f.serve(conn, 404, 1, "nobody"))

	if got := conn.events(); len(got) != 1 || got[0] != EventError {
		t.Errorf("expected a single error event, got %v", got)
	}
}

func TestServeRejectsForeignParticipant(t *testing.T) {
	f := newHubFixture(t)
	room := testutil.CreateTestRoom(t, f.db, model.RoomStatusRunning, "60m")
	other := testutil.CreateTestRoom(t, f.db, model.RoomStatusRunning, "60m")
	p := testutil.AddTestParticipant(t, f.db, room.ID, "alice", model.RoleParticipant, "")

	conn := newFakeConn()
	waitDone(t, f.serve(conn, other.ID, p.ID, "alice"))
	if got := conn.events(); len(got) != 1 || got[0] != EventError {
		t.Errorf("wrong room: expected error, got %v", got)
	}

	conn = newFakeConn()
	waitDone(t, f.serve(conn, room.ID, p.ID, "mallory"))
	if got := conn.events(); len(got) != 1 || got[0] != EventError {
		t.Errorf("wrong identity: expected error, got %v", got)
	}

	stored, err := f.registry.Find(context.Background(), p.ID)
	if err != nil || stored.IsOnline() {
		t.Errorf("rejected attach must not touch the participant: %+v, %v", stored, err)
	}
}

func TestServeLifecycle(t *testing.T) {
	f := newHubFixture(t)
	ctx := context.Background()
	room := testutil.CreateTestRoom(t, f.db, model.RoomStatusRunning, "60m")
	alice := testutil.AddTestParticipant(t, f.db, room.ID, "alice", model.RoleParticipant, "")
	bob := testutil.AddTestParticipant(t, f.db, room.ID, "bob", model.RoleParticipant, "")

	aliceConn := newFakeConn()
	aliceDone := f.serve(aliceConn, room.ID, alice.ID, "alice")
	waitConnected(t, f.hub, room.ID, 1)

	stored, _ := f.registry.Find(ctx, alice.ID)
	if !stored.IsOnline() || stored.ConnectionID == nil || (*stored.ConnectionID)[:len("test-node:")] != "test-node:" {
		t.Fatalf("connection id not recorded with instance prefix: %+v", stored.ConnectionID)
	}

	bobConn := newFakeConn()
	bobDone := f.serve(bobConn, room.ID, bob.ID, "bob")
	aliceConn.waitFor(t, EventParticipantUpdated)
	waitConnected(t, f.hub, room.ID, 2)

	aliceConn.in <- []byte(`{"event":"participants:get","roomId":1}`)
	aliceConn.waitFor(t, EventParticipantsResult)
	for _, frame := range aliceConn.frames() {
		var res participantsResult
		if json.Unmarshal([]byte(frame), &res) == nil && res.Event == EventParticipantsResult {
			if len(res.Participants) != 2 {
				t.Errorf("participants:result has %d entries, want 2", len(res.Participants))
			}
		}
	}
	if countEvent(bobConn.events(), EventParticipantsResult) != 0 {
		t.Error("participants:result must only go to the requester")
	}

	aliceConn.in <- []byte(`{"event":"ping"}`)
	aliceConn.waitFor(t, EventPong)

	aliceConn.in <- []byte(`not json`)
	aliceConn.in <- []byte(`{"event":"dance"}`)
	deadline := time.Now().Add(2 * time.Second)
	for countEvent(aliceConn.events(), EventError) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := countEvent(aliceConn.events(), EventError); n != 2 {
		t.Errorf("expected 2 error events, got %d", n)
	}

	// 잘못된 메시지 이후에도 연결 유지
	aliceConn.in <- []byte(`{"event":"ping"}`)
	deadline = time.Now().Add(2 * time.Second)
	for countEvent(aliceConn.events(), EventPong) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if countEvent(aliceConn.events(), EventPong) != 2 {
		t.Error("socket should stay open after bad frames")
	}

	bobConn.Close()
	waitDone(t, bobDone)
	aliceConn.waitFor(t, EventParticipantRemoved)
	if _, err := f.registry.Find(ctx, bob.ID); err == nil {
		t.Error("bob's row should be deleted on disconnect")
	}

	close(aliceConn.in)
	waitDone(t, aliceDone)
	if f.hub.ConnectedCount(room.ID) != 0 {
		t.Error("routing table should be empty")
	}
}

func TestSignalIsRoomScoped(t *testing.T) {
	f := newHubFixture(t)
	roomA := testutil.CreateTestRoom(t, f.db, model.RoomStatusRunning, "60m")
	roomB := testutil.CreateTestRoom(t, f.db, model.RoomStatusRunning, "60m")
	pa := testutil.AddTestParticipant(t, f.db, roomA.ID, "a", model.RoleParticipant, "")
	pb := testutil.AddTestParticipant(t, f.db, roomB.ID, "b", model.RoleParticipant, "")

	connA, connB := newFakeConn(), newFakeConn()
	doneA := f.serve(connA, roomA.ID, pa.ID, "a")
	doneB := f.serve(connB, roomB.ID, pb.ID, "b")
	waitConnected(t, f.hub, roomA.ID, 1)
	waitConnected(t, f.hub, roomB.ID, 1)

	f.hub.Signal(roomA.ID, service.SignalPollCreated)
	connA.waitFor(t, "poll:created")
	if countEvent(connB.events(), "poll:created") != 0 {
		t.Error("signal leaked into another room")
	}

	if !f.hub.SendTo(roomB.ID, pb.ID, []byte("hello")) {
		t.Error("SendTo should reach a connected participant")
	}
	if f.hub.SendTo(roomB.ID, pa.ID, []byte("hello")) {
		t.Error("SendTo must not cross rooms")
	}

	connA.Close()
	connB.Close()
	waitDone(t, doneA)
	waitDone(t, doneB)
}

func TestHostDisconnectSetsHostLeftAt(t *testing.T) {
	f := newHubFixture(t)
	room := testutil.CreateTestRoom(t, f.db, model.RoomStatusRunning, "60m")
	host := testutil.AddTestParticipant(t, f.db, room.ID, "host-user", model.RoleHost, "")

	conn := newFakeConn()
	done := f.serve(conn, room.ID, host.ID, "host-user")
	waitConnected(t, f.hub, room.ID, 1)
	conn.Close()
	waitDone(t, done)

	var stored model.Room
	f.db.First(&stored, room.ID)
	if stored.HostLeftAt == nil {
		t.Error("hostLeftAt should be set once the only host disconnects")
	}
}
