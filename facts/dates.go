package facts

import (
	"math"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// epochMillisThreshold separates epoch seconds from epoch milliseconds.
const epochMillisThreshold = 1e12

var createdProbe = Probe[time.Time]{
	recordDate("createdAt"),
	recordDate("created"),
	recordDate("date"),
	recordDate("timestamp"),
	recordDate("time"),
	recordDate("created_at"),
	func(in Input) (time.Time, bool) {
		if in.Payload == nil {
			return time.Time{}, false
		}
		return parseDate(in.Payload["create_time"])
	},
}

func recordDate(name string) Extractor[time.Time] {
	return func(in Input) (time.Time, bool) {
		return parseDate(in.Record.Field(name))
	}
}

// parseDate reads an ISO date first and an epoch number second. Zone-less
// timestamps are taken as UTC, which is what the records server emits.
func parseDate(v any) (time.Time, bool) {
	switch t := v.(type) {
	case nil, bool:
		return time.Time{}, false
	case time.Time:
		return t, !t.IsZero()
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		if ts, err := cast.StringToDateInDefaultLocation(s, time.UTC); err == nil {
			return ts, true
		}
		return epoch(s)
	default:
		return epoch(t)
	}
}

func epoch(v any) (time.Time, bool) {
	n, err := cast.ToFloat64E(v)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) || n <= 0 {
		return time.Time{}, false
	}
	if n >= epochMillisThreshold {
		return time.UnixMilli(int64(n)).UTC(), true
	}
	sec, frac := math.Modf(n)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
}
