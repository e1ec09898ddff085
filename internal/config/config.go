// Package config はconfig.jsonからアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"os"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config は§6で列挙されたネットワーク設定ノブを保持する。
// config.jsonから起動時に1回読み込み、イミュータブルとして扱う。
// config.jsonはコアが所有するファイルではなく、呼び出し側（CLI）が
// 用意したものを読むだけである。
type Config struct {
	// MaxFeedSizeMB は1レスポンスあたりのハードキャップ（MiB単位）。
	MaxFeedSizeMB float64 `json:"max_feed_size_mb"`
	// FetchIntervalDays はグループの再フェッチ間隔。0は「常にフェッチ」。
	FetchIntervalDays int `json:"fetch_interval_days"`
	// DayStartHour は論理日の境界時刻（0-23）。
	DayStartHour int `json:"day_start_hour"`
	// RetentionDays は履歴・seen-hashストアの保持期間。
	RetentionDays int `json:"retention_days"`
	// MaxItemsPerFeed は1フィードあたりの上限。0は無制限。
	MaxItemsPerFeed int `json:"max_items_per_feed"`

	// MetricsFile が設定されている場合、read()完了後にPrometheus
	// テキスト形式のスナップショットをこのパスへ書き出す（アンビエント）。
	MetricsFile string `json:"metrics_file,omitempty"`
}

// デフォルト値。§6に明記されている値と一致する。
const (
	defaultMaxFeedSizeMB   = 0.2
	defaultFetchInterval   = 1
	defaultDayStartHour    = 0
	defaultRetentionDays   = 50
	defaultMaxItemsPerFeed = 20
)

// Default はすべてのノブをデフォルト値にしたConfigを返す。
func Default() Config {
	return Config{
		MaxFeedSizeMB:     defaultMaxFeedSizeMB,
		FetchIntervalDays: defaultFetchInterval,
		DayStartHour:      defaultDayStartHour,
		RetentionDays:     defaultRetentionDays,
		MaxItemsPerFeed:   defaultMaxItemsPerFeed,
	}
}

// Load はpathのconfig.jsonを読み込み、欠けているフィールドをデフォルト値
// で補ったConfigを返す。ファイルが存在しない場合はDefault()をそのまま
// 返す（「消費するが所有しない」ファイルが無くても核は動作を続ける）。
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}

	raw.applyTo(&cfg)
	return cfg, nil
}

// rawConfig はJSON側の省略可能なフィールドをポインタで受け取るための
// 中間表現。「キーが無い」と「0が指定された」を区別する必要があるため
// (FetchIntervalDays=0は「常にフェッチ」という有効な値)、getEnvInt系の
// ヘルパーではなくポインタで未設定を判定する。
type rawConfig struct {
	MaxFeedSizeMB     *float64 `json:"max_feed_size_mb"`
	FetchIntervalDays *int     `json:"fetch_interval_days"`
	DayStartHour      *int     `json:"day_start_hour"`
	RetentionDays     *int     `json:"retention_days"`
	MaxItemsPerFeed   *int     `json:"max_items_per_feed"`
	MetricsFile       *string  `json:"metrics_file"`
}

func (r rawConfig) applyTo(cfg *Config) {
	if r.MaxFeedSizeMB != nil {
		cfg.MaxFeedSizeMB = *r.MaxFeedSizeMB
	}
	if r.FetchIntervalDays != nil {
		cfg.FetchIntervalDays = *r.FetchIntervalDays
	}
	if r.DayStartHour != nil {
		cfg.DayStartHour = *r.DayStartHour
	}
	if r.RetentionDays != nil {
		cfg.RetentionDays = *r.RetentionDays
	}
	if r.MaxItemsPerFeed != nil {
		cfg.MaxItemsPerFeed = *r.MaxItemsPerFeed
	}
	if r.MetricsFile != nil {
		cfg.MetricsFile = *r.MetricsFile
	}
}

// MaxFeedSizeBytes はMaxFeedSizeMBをバイト数に換算する。
func (c Config) MaxFeedSizeBytes() int64 {
	return int64(c.MaxFeedSizeMB * 1024 * 1024)
}
