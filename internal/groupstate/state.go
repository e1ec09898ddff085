// Package groupstate はグループごとの論理日付計算と、historyディレクトリ
// 配下のスナップショットファイル名の解決を担う（§4.7 Per-Group State）。
package groupstate

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// epochRataDie はUnixエポック(1970-01-01)に対応するRata Die日数。
// プロレプティック・グレゴリオ暦のRata Die基準日(0001-01-01)からの
// 日数として定義される。
const epochRataDie = 719163

// LogicalDate はtをdayStartHourで調整した論理日付を"YYYY-MM-DD"で返す。
// dayStartHour=4の場合、1月10日03:30の現地時刻は論理日付として1月9日を
// 返す。
func LogicalDate(t time.Time, dayStartHour int) string {
	shifted := t.Add(-time.Duration(dayStartHour) * time.Hour)
	return shifted.Format("2006-01-02")
}

// rataDie はYYYY-MM-DD形式の日付文字列を、プロレプティック・グレゴリオ暦の
// Rata Die日数へ変換する。月の日数表に依存しない連続カウントであり、
// 2つの論理日付の差分を単純な整数減算で求めるために使う。
func rataDie(dateStr string) (int, bool) {
	t, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		return 0, false
	}
	days := int(t.Unix() / 86400)
	return days + epochRataDie, true
}

// DaysBetween はfromからtoまでの経過日数(to - from)を返す。どちらかの
// 形式が不正な場合はfalseを返す。
func DaysBetween(from, to string) (int, bool) {
	f, ok1 := rataDie(from)
	if !ok1 {
		return 0, false
	}
	tt, ok2 := rataDie(to)
	if !ok2 {
		return 0, false
	}
	return tt - f, true
}

// snapshotFileName はgroupとlogicalDateからhistoryファイル名を組み立てる。
func snapshotFileName(group, logicalDate string) string {
	return group + "_" + logicalDate + ".json"
}

// SnapshotPath はhistoryディレクトリ配下のスナップショットファイルへの
// フルパスを返す。
func SnapshotPath(historyDir, group, logicalDate string) string {
	return filepath.Join(historyDir, snapshotFileName(group, logicalDate))
}

// matchesGroupPrefix はfilenameが"<group>_"で始まり、続けて厳密に
// len(group)+1+10文字のうち最後が".json"であり、group直後の文字が数字で
// あることを要求する。これは"tech_"と"tech_news_"のようなプレフィックス
// 衝突を避けるため(§4.7)。
func matchesGroupPrefix(filename, group string) bool {
	prefix := group + "_"
	if !strings.HasPrefix(filename, prefix) {
		return false
	}

	wantLen := len(group) + 1 + 10 + len(".json")
	if len(filename) != wantLen {
		return false
	}
	if !strings.HasSuffix(filename, ".json") {
		return false
	}

	afterPrefix := filename[len(prefix):]
	if len(afterPrefix) == 0 || afterPrefix[0] < '0' || afterPrefix[0] > '9' {
		return false
	}

	datePart := strings.TrimSuffix(afterPrefix, ".json")
	if _, err := time.Parse("2006-01-02", datePart); err != nil {
		return false
	}

	return true
}

// matchingSnapshots はhistoryDir内でgroupに属するスナップショットファイル名を
// 降順(新しい順)にソートして返す。
func matchingSnapshots(historyDir, group string) ([]string, error) {
	entries, err := os.ReadDir(historyDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if matchesGroupPrefix(e.Name(), group) {
			names = append(names, e.Name())
		}
	}

	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	return names, nil
}

// LatestRun はgroupの最新スナップショットファイル名（辞書式最大＝最新）を
// 返す。存在しない場合は空文字列を返す。
func LatestRun(historyDir, group string) (string, error) {
	names, err := matchingSnapshots(historyDir, group)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", nil
	}
	return names[0], nil
}

// LoadRunByOffset はoffset=0を最新として、降順リストのoffsetの絶対値番目の
// ファイル名を返す。範囲外の場合は空文字列を返す。
func LoadRunByOffset(historyDir, group string, offset int) (string, error) {
	names, err := matchingSnapshots(historyDir, group)
	if err != nil {
		return "", err
	}

	idx := offset
	if idx < 0 {
		idx = -idx
	}
	if idx >= len(names) {
		return "", nil
	}
	return names[idx], nil
}

// LogicalDateFromSnapshotName はスナップショットファイル名からYYYY-MM-DD部分を
// 取り出す。不正な形式ならfalseを返す。
func LogicalDateFromSnapshotName(group, filename string) (string, bool) {
	if !matchesGroupPrefix(filename, group) {
		return "", false
	}
	prefix := group + "_"
	datePart := strings.TrimSuffix(filename[len(prefix):], ".json")
	return datePart, true
}
