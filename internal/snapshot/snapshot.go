// Package snapshot はhistory/<group>_<YYYY-MM-DD>.jsonの読み書きを担う。
// 1件のDaily Snapshotはグループ・論理日付ペアごとに1ファイルで、
// 同日内の再実行をネットワークI/Oなしで再生するためのキャッシュとなる。
package snapshot

import (
	"os"

	jsoniter "github.com/json-iterator/go"

	"hysrss/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Document はスナップショットファイルの内容。
type Document struct {
	Timestamp int64        `json:"timestamp"`
	Items     []model.Item `json:"items"`
}

// Exists はpathにスナップショットファイルが存在するかを返す。
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Load はpathのスナップショットを読み込む。存在しない場合は空の
// Documentとnilエラーを返す(「初回実行」として扱う local recovery)。
func Load(path string) (Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Document{}, nil
		}
		return Document{}, err
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Save はdocをpathへ書き込む。
func Save(path string, doc Document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
