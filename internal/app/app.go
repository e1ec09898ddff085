// Package app はコアの各部品(C1-C7)をread(groups)操作のために結線し、
// 最小限のCLI表面へ適合させる。完全な引数解析、OPMLインポート/
// エクスポート、端末への描画は呼び出し側の責務(§1 Non-goals)であり、
// このパッケージは解析済みのReadRequestを受け取ってReadResultを
// JSONとして描画するだけである。
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"hysrss/internal/config"
	"hysrss/internal/digest"
	"hysrss/internal/fetch"
	"hysrss/internal/logger"
	"hysrss/internal/metrics"
	"hysrss/internal/model"
	"hysrss/internal/security"
)

// Layout は$HOME/.hys以下のファイルレイアウト(§6)を表す。
type Layout struct {
	BaseDir string
}

func defaultLayout() Layout {
	base := os.Getenv("HYS_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		base = filepath.Join(home, ".hys")
	}
	return Layout{BaseDir: base}
}

func (l Layout) ConfigPath() string  { return filepath.Join(l.BaseDir, "config.json") }
func (l Layout) GroupsDir() string   { return filepath.Join(l.BaseDir, "feeds") }
func (l Layout) HistoryDir() string  { return filepath.Join(l.BaseDir, "history") }
func (l Layout) GroupPath(g string) string { return filepath.Join(l.GroupsDir(), g+".json") }

// Run はプロセスのエントリポイント: argvをReadRequestへ解析し、
// 設定を読み込み、ダイジェストエンジンを実行し、構造化された結果を
// JSONとしてwへ書き出す。
func Run(w io.Writer, args []string) error {
	logger.SetupDefault(os.Stderr)
	runID := uuid.NewString()
	log := slog.Default().With(slog.String("run_id", runID))

	layout := defaultLayout()
	cfg, err := config.Load(layout.ConfigPath())
	if err != nil {
		log.Error("failed to load config", slog.String("error", err.Error()))
		return fmt.Errorf("failed to load config: %w", err)
	}

	req := ParseReadArgs(args)

	if err := os.MkdirAll(layout.GroupsDir(), 0o755); err != nil {
		return fatalf(log, "failed to create feeds directory: %w", err)
	}
	if err := os.MkdirAll(layout.HistoryDir(), 0o755); err != nil {
		return fatalf(log, "failed to create history directory: %w", err)
	}

	groups := req.Groups
	if req.All && len(req.AdHocFeeds) == 0 {
		discovered, err := discoverGroups(layout.GroupsDir())
		if err != nil {
			return fatalf(log, "failed to list groups: %w", err)
		}
		groups = discovered
	}

	ssrfGuard := security.NewSSRFGuard()
	fetcher := fetch.NewFetcher(ssrfGuard, cfg.MaxFeedSizeBytes())

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	digestReq := digest.Request{
		Groups:       groups,
		CmdLineFeeds: req.AdHocFeeds,
		GroupsDir:    layout.GroupsDir(),
		HistoryDir:   layout.HistoryDir(),
		Now:          time.Now(),
		Reset:        req.Reset,
	}

	result := digest.Run(context.Background(), digestReq, cfg, fetcher, collector)

	if result.Kind == model.ResultFatal {
		log.Error("read aborted", slog.String("error", result.FatalErr.Error()))
		return result.FatalErr
	}

	for _, ff := range result.FailedFeeds {
		log.Warn("feed fetch failed",
			slog.String("feed_url", ff.FeedURL),
			slog.String("group", ff.GroupName),
			slog.String("kind", string(ff.Kind)),
			slog.String("message", ff.Message),
		)
	}

	if cfg.MetricsFile != "" {
		if err := writeMetricsSnapshot(registry, cfg.MetricsFile); err != nil {
			log.Warn("failed to write metrics snapshot", slog.String("error", err.Error()))
		}
	}

	return renderJSON(w, result)
}

func fatalf(log *slog.Logger, format string, err error) error {
	wrapped := fmt.Errorf(format, err)
	log.Error("fatal error", slog.String("error", wrapped.Error()))
	return wrapped
}

// discoverGroups はdir直下の"<name>.json"ファイルをすべて列挙し、
// 拡張子を除いた名前をアルファベット順に返す。
func discoverGroups(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(names)
	return names, nil
}

// writeMetricsSnapshot は、長命の/metricsルートで公開しているのと同じ
// promhttpハンドラを駆動してPrometheusテキスト形式のスナップショットを
// ある時点について生成する。サーバーとして配信する代わりにバッファへ
// キャプチャする — CLIプロセスは1回の読み取り後に終了するため、
// スクレイプするサーバーが存在しない。
func writeMetricsSnapshot(gatherer prometheus.Gatherer, path string) error {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	metrics.Handler(gatherer).ServeHTTP(rec, req)
	return os.WriteFile(path, rec.Body.Bytes(), 0o644)
}

// renderJSON はread結果を単一のJSONドキュメントとして書き出す。
// 端末への完全な描画(ページャ起動、幅検出、ANSI)は呼び出し側の
// 仕事である。これは§6のコア-外部間契約に沿って、下流のフォーマッタが
// そのまま消費できる最小限の形である。
func renderJSON(w io.Writer, result model.ReadResult) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(readResultView{
		Kind:        string(result.Kind),
		Items:       result.Items,
		FailedFeeds: result.FailedFeeds,
	})
}

type readResultView struct {
	Kind        string             `json:"kind"`
	Items       []model.Item       `json:"items"`
	FailedFeeds []model.FailedFeed `json:"failed_feeds"`
}
