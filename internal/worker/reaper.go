package worker

import (
	"context"
	"log"

	"github.com/benbjohnson/clock"
	"gorm.io/gorm"

	"livepoll-backend/internal/model"
	"livepoll-backend/internal/service"
)

// Reaper 호스트가 떠난 지 duration을 넘긴 진행 중 방을 종료
type Reaper struct {
	db       *gorm.DB
	clock    clock.Clock
	notifier service.Notifier
}

// NewReaper Reaper 생성
func NewReaper(db *gorm.DB, clk clock.Clock) *Reaper {
	if clk == nil {
		clk = clock.New()
	}
	return &Reaper{db: db, clock: clk}
}

// SetNotifier room:ended 신호 대상
func (r *Reaper) SetNotifier(n service.Notifier) {
	r.notifier = n
}

// Sweep 한 번의 정리 작업 (종료한 방 ID 반환, 방별 실패는 로그 후 계속)
func (r *Reaper) Sweep(ctx context.Context) ([]int64, error) {
	now := r.clock.Now()

	var rooms []model.Room
	err := r.db.WithContext(ctx).
		Where("status = ? AND host_left_at IS NOT NULL", model.RoomStatusRunning).
		Where("NOT EXISTS (SELECT 1 FROM participants p WHERE p.room_id = rooms.id AND p.role = ? AND p.connection_id IS NOT NULL)",
			model.RoleHost).
		Order("id ASC").
		Find(&rooms).Error
	if err != nil {
		return nil, err
	}

	var closed []int64
	for i := range rooms {
		room := &rooms[i]
		deadline := room.HostLeftAt.Add(room.HostTimeout())
		if !now.After(deadline) {
			continue
		}

		// 그 사이 다른 경로로 종료됐으면 건너뜀
		result := r.db.WithContext(ctx).Model(&model.Room{}).
			Where("id = ? AND status = ?", room.ID, model.RoomStatusRunning).
			Update("status", model.RoomStatusEnded)
		if result.Error != nil {
			log.Printf("[Reaper] ❌ Failed to end room %d: %v", room.ID, result.Error)
			continue
		}
		if result.RowsAffected == 0 {
			continue
		}

		closed = append(closed, room.ID)
		if r.notifier != nil {
			r.notifier.Signal(room.ID, service.SignalRoomEnded)
		}
	}

	if len(closed) > 0 {
		log.Printf("[Reaper] 🧹 Closed %d abandoned rooms: %v", len(closed), closed)
	}
	return closed, nil
}
