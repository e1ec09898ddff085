// Package groupstore はfeeds/<group>.json ― グループ定義ファイル ― の
// 読み書きを担う。コアが所有するファイルであり、フェッチ後の
// etag/last_modifiedの書き戻しもここで行う。
package groupstore

import (
	"os"

	jsoniter "github.com/json-iterator/go"

	"hysrss/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// groupDocument は"{ text, feeds }"形式のグループファイルのJSON表現。
type groupDocument struct {
	Text  string          `json:"text,omitempty"`
	Feeds []rawFeedConfig `json:"feeds"`
}

// rawFeedConfig はFeedConfigのJSON中間表現。Enabledをポインタにすることで
// キー省略(デフォルトtrue)と明示的なfalseを区別する。
type rawFeedConfig struct {
	URL          string `json:"xmlUrl"`
	Text         string `json:"text,omitempty"`
	Enabled      *bool  `json:"enabled"`
	Title        string `json:"title,omitempty"`
	HTMLURL      string `json:"htmlUrl,omitempty"`
	Description  string `json:"description,omitempty"`
	Language     string `json:"language,omitempty"`
	Version      string `json:"version,omitempty"`
	ETag         string `json:"etag,omitempty"`
	LastModified string `json:"lastModified,omitempty"`
}

func (r rawFeedConfig) toFeedConfig() model.FeedConfig {
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}
	return model.FeedConfig{
		URL:          r.URL,
		Text:         r.Text,
		Enabled:      enabled,
		Title:        r.Title,
		HTMLURL:      r.HTMLURL,
		Description:  r.Description,
		Language:     r.Language,
		Version:      r.Version,
		ETag:         r.ETag,
		LastModified: r.LastModified,
	}
}

func toFeedConfigs(raw []rawFeedConfig) []model.FeedConfig {
	out := make([]model.FeedConfig, len(raw))
	for i, r := range raw {
		out[i] = r.toFeedConfig()
	}
	return out
}

// fromFeedConfig converts a model.FeedConfig back into the JSON wire shape.
// Enabled is always written explicitly (true or false), never omitted, so
// disabled feeds round-trip deterministically on save-back.
func fromFeedConfig(f model.FeedConfig) rawFeedConfig {
	enabled := f.Enabled
	return rawFeedConfig{
		URL:          f.URL,
		Text:         f.Text,
		Enabled:      &enabled,
		Title:        f.Title,
		HTMLURL:      f.HTMLURL,
		Description:  f.Description,
		Language:     f.Language,
		Version:      f.Version,
		ETag:         f.ETag,
		LastModified: f.LastModified,
	}
}

func fromFeedConfigs(feeds []model.FeedConfig) []rawFeedConfig {
	out := make([]rawFeedConfig, len(feeds))
	for i, f := range feeds {
		out[i] = fromFeedConfig(f)
	}
	return out
}

// Load はpathのグループ定義を読み込む。ファイルが存在しない場合は
// 空のグループを返す（local recovery: missing group file → empty group）。
// 新形式"{text, feeds}"に加え、レガシー形式(FeedConfigの裸の配列)も
// 受理する。
func Load(path, groupName string) (model.Group, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.Group{Name: groupName}, nil
		}
		return model.Group{}, err
	}

	var doc groupDocument
	if err := json.Unmarshal(data, &doc); err == nil && (doc.Feeds != nil || doc.Text != "") {
		return model.Group{
			Name:        groupName,
			DisplayName: doc.Text,
			Feeds:       toFeedConfigs(doc.Feeds),
		}, nil
	}

	// レガシー形式: FeedConfigの裸の配列。
	var legacy []rawFeedConfig
	if err := json.Unmarshal(data, &legacy); err != nil {
		return model.Group{}, err
	}
	return model.Group{
		Name:  groupName,
		Feeds: toFeedConfigs(legacy),
	}, nil
}

// Save はgroupを"{text, feeds}"形式でpathへ書き込む。null値を取りうる
// 任意フィールドは、値が空文字列の場合はJSON上から省略される
// (FeedConfigのomitempty)。
func Save(path string, group model.Group) error {
	doc := groupDocument{
		Text:  group.DisplayName,
		Feeds: fromFeedConfigs(group.Feeds),
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// MergeFetchedCacheHeaders はオンディスクのグループ(full)を基準に、
// fetchedFeeds（実際にフェッチされたフィードのURLとetag/last_modified）を
// URL一致でマージしたグループを返す。フェッチされなかったフィード
// (disabledを含む)はfullのまま変更されない(§3 Invariants: disabled feeds
// survive save-back)。
func MergeFetchedCacheHeaders(full model.Group, fetchedFeeds []model.FeedConfig) model.Group {
	byURL := make(map[string]model.FeedConfig, len(fetchedFeeds))
	for _, f := range fetchedFeeds {
		byURL[f.URL] = f
	}

	merged := make([]model.FeedConfig, len(full.Feeds))
	for i, f := range full.Feeds {
		if updated, ok := byURL[f.URL]; ok {
			f.ETag = updated.ETag
			f.LastModified = updated.LastModified
		}
		merged[i] = f
	}

	full.Feeds = merged
	return full
}
