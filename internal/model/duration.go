package model

import (
	"math"
	"regexp"
	"strconv"
	"time"
)

// DefaultRoomDuration 호스트 부재 허용 시간 기본값
const DefaultRoomDuration = 60 * time.Minute

var roomDurationPattern = regexp.MustCompile(`^(\d+)([mh])$`)

// ParseRoomDuration "<N>m" 또는 "<N>h" 파싱 (형식 오류, N<=0, 오버플로면 ok=false)
func ParseRoomDuration(s string) (time.Duration, bool) {
	m := roomDurationPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	unit := time.Minute
	if m[2] == "h" {
		unit = time.Hour
	}
	if n > math.MaxInt64/int64(unit) {
		return 0, false
	}
	return time.Duration(n) * unit, true
}

// HostTimeout 호스트 부재 허용 시간 (형식 오류면 60분)
func (r *Room) HostTimeout() time.Duration {
	if d, ok := ParseRoomDuration(r.Duration); ok {
		return d
	}
	return DefaultRoomDuration
}
