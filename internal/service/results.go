package service

import (
	"math"
	"sort"

	"livepoll-backend/internal/model"
)

// ComputeResults 선택지별 집계 (분모는 생성 시점 참가자 수, 0이면 모든 비율 0)
func ComputeResults(options []model.QuestionOption, counts map[int64]int64, total int) []model.OptionResult {
	ordered := make([]model.QuestionOption, len(options))
	copy(ordered, options)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Position != ordered[j].Position {
			return ordered[i].Position < ordered[j].Position
		}
		return ordered[i].ID < ordered[j].ID
	})

	results := make([]model.OptionResult, 0, len(ordered))
	for _, opt := range ordered {
		count := counts[opt.ID]
		results = append(results, model.OptionResult{
			OptionID:   opt.ID,
			OptionText: opt.Text,
			Count:      count,
			Percentage: percentage(count, total),
			IsCorrect:  opt.IsCorrect,
		})
	}
	return results
}

// percentage 소수점 둘째 자리 반올림
func percentage(count int64, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(count)/float64(total)*100*100) / 100
}
