// Package seenstore は正規化済み識別子の64bitハッシュを、タイムスタンプ
// 付きの追記専用バイナリログとして永続化する。重複排除と、保持期間を
// 過ぎたエントリの忘却の両方を担う。
package seenstore

import (
	"encoding/binary"
	"os"
)

// RecordSize は1レコードのバイト数。u32リトルエンディアンのタイムスタンプ
// + u64リトルエンディアンのハッシュ。
const RecordSize = 12

// Store はseen_ids.binファイルへのパスを保持する。内部状態は持たない。
// ファイルそのものが唯一の状態であり、呼び出しのたびに開閉する。
type Store struct {
	path string
}

// New はpathにあるseen-hashバイナリログを扱うStoreを生成する。
func New(path string) *Store {
	return &Store{path: path}
}

// Load はファイルを読み込み、格納されているハッシュの集合を返す。
// ファイルが存在しない、またはサイズ0の場合は空集合を返す。
// サイズが12の倍数でない場合は破損とみなし、ファイルを削除して
// 空集合を返す（自己修復）。
func (s *Store) Load() (map[uint64]struct{}, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[uint64]struct{}{}, nil
		}
		return nil, err
	}

	if len(data) == 0 {
		return map[uint64]struct{}{}, nil
	}

	if len(data)%RecordSize != 0 {
		_ = os.Remove(s.path)
		return map[uint64]struct{}{}, nil
	}

	n := len(data) / RecordSize
	hashes := make(map[uint64]struct{}, n)
	for i := 0; i < n; i++ {
		rec := data[i*RecordSize : (i+1)*RecordSize]
		hash := binary.LittleEndian.Uint64(rec[4:12])
		hashes[hash] = struct{}{}
	}
	return hashes, nil
}

// Append は新しいハッシュ群を現在時刻のタイムスタンプとともに末尾へ
// 追記する。失敗はreadの正しさに影響しない（呼び出し側が握りつぶして
// よい）設計なので、ここではエラーをそのまま返すのみに留める。
func (s *Store) Append(now int64, hashes []uint64) error {
	if len(hashes) == 0 {
		return nil
	}

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	ts := saturatingUint32(now)
	buf := make([]byte, RecordSize*len(hashes))
	for i, h := range hashes {
		off := i * RecordSize
		binary.LittleEndian.PutUint32(buf[off:off+4], ts)
		binary.LittleEndian.PutUint64(buf[off+4:off+12], h)
	}

	_, err = f.Write(buf)
	return err
}

// Prune はnow - retentionDays*86400より古いエントリを取り除く。
// retentionがnowを超える場合はすべて保持する。何も取り除かれなかった
// 場合はファイルへの書き戻しを行わない。
func (s *Store) Prune(now int64, retentionDays int) error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if len(data)%RecordSize != 0 {
		_ = os.Remove(s.path)
		return nil
	}

	horizon := now - int64(retentionDays)*86400
	if horizon < 0 {
		horizon = 0
	}

	n := len(data) / RecordSize
	kept := make([]byte, 0, len(data))
	prunedAny := false
	for i := 0; i < n; i++ {
		rec := data[i*RecordSize : (i+1)*RecordSize]
		ts := int64(binary.LittleEndian.Uint32(rec[0:4]))
		if ts >= horizon {
			kept = append(kept, rec...)
		} else {
			prunedAny = true
		}
	}

	if !prunedAny {
		return nil
	}

	return os.WriteFile(s.path, kept, 0o644)
}

// saturatingUint32 はsigned秒数をu32へ飽和変換する。負値は0へクランプし、
// u32::MAXを超える値はu32::MAXへクランプする。
func saturatingUint32(seconds int64) uint32 {
	if seconds < 0 {
		return 0
	}
	if seconds > int64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(seconds)
}
