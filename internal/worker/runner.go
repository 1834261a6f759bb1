package worker

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Job 주기 작업
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Runner 고정 주기로 작업 실행 (작업마다 고루틴 하나)
type Runner struct {
	clock clock.Clock
	jobs  []Job
	wg    sync.WaitGroup
}

// NewRunner Runner 생성
func NewRunner(clk clock.Clock, jobs ...Job) *Runner {
	if clk == nil {
		clk = clock.New()
	}
	return &Runner{clock: clk, jobs: jobs}
}

// Start ctx가 취소될 때까지 작업 실행
func (r *Runner) Start(ctx context.Context) {
	for _, job := range r.jobs {
		if job.Interval <= 0 {
			log.Printf("[Worker] ⚠️ %s disabled (interval=%v)", job.Name, job.Interval)
			continue
		}
		// 고루틴 시작 전에 티커 생성 (시작 직후 틱 누락 방지)
		ticker := r.clock.Ticker(job.Interval)
		r.wg.Add(1)
		go r.loop(ctx, job, ticker)
		log.Printf("[Worker] ⏱️ %s every %v", job.Name, job.Interval)
	}
}

// Wait 모든 작업 고루틴 종료 대기
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) loop(ctx context.Context, job Job, ticker *clock.Ticker) {
	defer r.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := job.Run(ctx); err != nil {
				log.Printf("[Worker] ❌ %s failed: %v", job.Name, err)
			}
		}
	}
}

// RoomReaperJob Reaper 주기 작업
func RoomReaperJob(r *Reaper, interval time.Duration) Job {
	return Job{
		Name:     "room reaper",
		Interval: interval,
		Run: func(ctx context.Context) error {
			_, err := r.Sweep(ctx)
			return err
		},
	}
}

// PollSweepJob 만료 투표 완료 주기 작업
func PollSweepJob(sweep func(ctx context.Context) (int, error), interval time.Duration) Job {
	return Job{
		Name:     "poll sweeper",
		Interval: interval,
		Run: func(ctx context.Context) error {
			n, err := sweep(ctx)
			if n > 0 {
				log.Printf("[Worker] 🏁 Completed %d expired polls", n)
			}
			return err
		},
	}
}
