package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

// Envelope 인스턴스 간 방 브로드캐스트 메시지
type Envelope struct {
	Origin string `json:"origin"` // 발행한 인스턴스 ID (자기 메시지 중복 전달 방지)
	RoomID int64  `json:"roomId"`
	Frame  string `json:"frame"`
}

// Relay Redis Pub/Sub 기반 인스턴스 간 브로드캐스트 중계
type Relay struct {
	client     *redis.Client
	topic      string
	instanceID string
}

// NewRelay 생성자
func NewRelay(client *redis.Client, topic, instanceID string) *Relay {
	return &Relay{
		client:     client,
		topic:      topic,
		instanceID: instanceID,
	}
}

// Publish 방 브로드캐스트 이벤트 발행
func (r *Relay) Publish(ctx context.Context, roomID int64, frame []byte) error {
	data, err := json.Marshal(Envelope{
		Origin: r.instanceID,
		RoomID: roomID,
		Frame:  string(frame),
	})
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.topic, data).Err()
}

// Start 구독 확인 후 수신 루프 시작 (다른 인스턴스 메시지만 deliver로 전달)
func (r *Relay) Start(ctx context.Context, deliver func(roomID int64, frame []byte)) error {
	sub := r.client.Subscribe(ctx, r.topic)
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return fmt.Errorf("subscribe %s: %w", r.topic, err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					log.Printf("[Relay] ⚠️ Malformed envelope: %v", err)
					continue
				}
				if env.Origin == r.instanceID {
					continue
				}
				deliver(env.RoomID, []byte(env.Frame))
			}
		}
	}()

	log.Printf("[Relay] 📡 Subscribed to %s (instance=%s)", r.topic, r.instanceID)
	return nil
}
