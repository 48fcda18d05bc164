package sync

import "time"

// Window は同期の取得対象期間 [Start, End] を表す。両端ともUTC。
type Window struct {
	Start time.Time
	End   time.Time
}

// computeWindow は同期の取得期間を計算する。
// 前回同期済みのソースは遅延到着データを拾うために前回時刻からoverlap分だけ
// 遡り、初回同期のソースはfirstLookbackDays日分を対象とする。
// 重なった期間の再取得は冪等性ガードが吸収する。
func computeWindow(lastSyncedAt *time.Time, now time.Time, overlap time.Duration, firstLookbackDays int) Window {
	if lastSyncedAt != nil {
		return Window{
			Start: lastSyncedAt.Add(-overlap).UTC(),
			End:   now.UTC(),
		}
	}
	return Window{
		Start: now.AddDate(0, 0, -firstLookbackDays).UTC(),
		End:   now.UTC(),
	}
}
