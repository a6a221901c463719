package cache

import (
	"time"
)

// TimeUntilNext は loc における次の hour:minute までの期間を返します。
func TimeUntilNext(now time.Time, hour, minute int, loc *time.Location) time.Duration {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)

	// 今日の時刻が既に過ぎている場合は翌日
	if !local.Before(next) {
		next = next.AddDate(0, 0, 1)
	}

	return next.Sub(local)
}

// RefreshDeadline は "HH:MM" の定期実行時刻までの期間を返す関数を作ります。
// 書式が不正な場合は nil を返します。
func RefreshDeadline(at string, loc *time.Location) func() time.Duration {
	t, err := time.Parse("15:04", at)
	if err != nil {
		return nil
	}
	return func() time.Duration {
		return TimeUntilNext(time.Now(), t.Hour(), t.Minute(), loc)
	}
}
