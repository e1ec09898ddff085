// Package digest はダイジェストエンジン(C6)を実装する: 要求された
// グループ一覧(またはアドホックなコマンドライン指定のフィード一覧)を
// ソート済み・重複排除済みの記事一覧に変換する。グループ単位の
// フェッチ間隔ゲートが「期限切れ」と判定したものだけをフェッチし、
// 副作用(グループのキャッシュヘッダー、日次スナップショット、
// seen-store、保持期間のプルーニング)を1パスですべて永続化する。
package digest

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"hysrss/internal/config"
	"hysrss/internal/fetch"
	"hysrss/internal/groupstate"
	"hysrss/internal/groupstore"
	"hysrss/internal/metrics"
	"hysrss/internal/model"
	"hysrss/internal/normalize"
	"hysrss/internal/pipeline"
	"hysrss/internal/seenstore"
	"hysrss/internal/snapshot"
)

const adHocGroupName = "main"

// Request はダイジェストエンジンの1回の呼び出しを表す。
type Request struct {
	Groups       []string // 要求されたグループ名。コマンドライン順
	CmdLineFeeds []string // アドホックなフィードURL。非空ならグループ化/重複排除/書き戻しを無効化する
	GroupsDir    string   // <group>.jsonを保持するディレクトリ
	HistoryDir   string   // <group>_<date>.jsonスナップショットとseen_ids.binを保持するディレクトリ
	Now          time.Time
	Reset        bool // trueならisCachedによる間隔ゲートを全グループで無視し、無条件に再フェッチする
}

// taggedFeed はフェッチ待ちの1フィード。結果のアイテムが引き継ぐべき
// グループタグを保持する。
type taggedFeed struct {
	feed             model.FeedConfig
	groupName        string
	groupDisplayName string
}

// Run はC6アルゴリズム全体(§4.6 手順1-7)を実行し、呼び出し側
// (app.Run)が描画する構造化された結果を返す。
func Run(ctx context.Context, req Request, cfg config.Config, fetcher *fetch.Fetcher, collector metrics.MetricsCollector) model.ReadResult {
	adHoc := len(req.CmdLineFeeds) > 0
	logicalNow := groupstate.LogicalDate(req.Now, cfg.DayStartHour)

	if adHoc {
		return runAdHoc(ctx, req, cfg, fetcher, logicalNow)
	}
	return runGrouped(ctx, req, cfg, fetcher, collector, logicalNow)
}

func runAdHoc(ctx context.Context, req Request, cfg config.Config, fetcher *fetch.Fetcher, logicalNow string) model.ReadResult {
	var tagged []taggedFeed
	for _, url := range req.CmdLineFeeds {
		tagged = append(tagged, taggedFeed{
			feed:      model.FeedConfig{URL: url, Enabled: true},
			groupName: adHocGroupName,
		})
	}

	results, failed := fetchAndParse(ctx, fetcher, cfg, tagged, nil)

	items := collectItems(results, tagged, cfg.MaxItemsPerFeed, nil, nil)
	sortItems(items, nil)

	return finalizeResult(items, failed)
}

func runGrouped(ctx context.Context, req Request, cfg config.Config, fetcher *fetch.Fetcher, collector metrics.MetricsCollector, logicalNow string) model.ReadResult {
	groups := make([]model.Group, 0, len(req.Groups))
	for _, name := range req.Groups {
		g, err := groupstore.Load(groupPath(req.GroupsDir, name), name)
		if err != nil {
			return model.ReadResult{Kind: model.ResultFatal, FatalErr: model.NewRunError(model.ErrIO, err.Error())}
		}
		groups = append(groups, g)
	}

	cached := map[string]bool{}
	fresh := make([]model.Group, 0, len(groups))
	for _, g := range groups {
		if !req.Reset && isCached(req.HistoryDir, g.Name, logicalNow, cfg.FetchIntervalDays) {
			cached[g.Name] = true
		} else {
			fresh = append(fresh, g)
		}
	}

	var tagged []taggedFeed
	for _, g := range fresh {
		for _, f := range g.EnabledFeeds() {
			tagged = append(tagged, taggedFeed{feed: f, groupName: g.Name, groupDisplayName: g.DisplayName})
		}
	}

	store := seenstore.New(filepath.Join(req.HistoryDir, "seen_ids.bin"))
	seen, err := store.Load()
	if err != nil {
		seen = map[uint64]struct{}{}
	}

	var newHashes []uint64
	results, failed := fetchAndParse(ctx, fetcher, cfg, tagged, seen)

	freshItems := collectItems(results, tagged, cfg.MaxItemsPerFeed, seen, &newHashes)

	items := make([]model.Item, len(freshItems))
	copy(items, freshItems)
	for _, g := range groups {
		if !cached[g.Name] {
			continue
		}
		latest, err := groupstate.LatestRun(req.HistoryDir, g.Name)
		if err != nil {
			continue
		}
		lastDate, ok := groupstate.LogicalDateFromSnapshotName(g.Name, latest)
		if !ok {
			continue
		}
		doc, err := snapshot.Load(groupstate.SnapshotPath(req.HistoryDir, g.Name, lastDate))
		if err != nil {
			continue
		}
		items = append(items, doc.Items...)
	}

	explicitOrder := len(req.Groups) > 1
	sortItems(items, groupOrderIndex(req.Groups, explicitOrder))

	persist(req, cfg, groups, fresh, tagged, results, freshItems, newHashes, logicalNow, store)

	if collector != nil {
		collector.RecordItemsEmitted(len(items))
	}

	return finalizeResult(items, failed)
}

func groupPath(dir, name string) string {
	return filepath.Join(dir, name+".json")
}

func isCached(historyDir, group, logicalNow string, fetchIntervalDays int) bool {
	latest, err := groupstate.LatestRun(historyDir, group)
	if err != nil || latest == "" {
		return false
	}
	lastDate, ok := groupstate.LogicalDateFromSnapshotName(group, latest)
	if !ok {
		return false
	}
	delta, ok := groupstate.DaysBetween(lastDate, logicalNow)
	if !ok || delta >= fetchIntervalDays {
		return false
	}
	if !snapshot.Exists(groupstate.SnapshotPath(historyDir, group, lastDate)) {
		return false
	}
	return true
}

// fetchAndParse はタグ付けされた各フィードに対してC5を実行する。
// 早期中断コールバックは重複排除が有効(seen != nil)なときのみ
// seen-setに結線される。
func fetchAndParse(ctx context.Context, fetcher *fetch.Fetcher, cfg config.Config, tagged []taggedFeed, seen map[uint64]struct{}) ([]pipeline.Result, []model.FailedFeed) {
	targets := make([]pipeline.Target, len(tagged))
	for i, tf := range tagged {
		targets[i] = pipeline.Target{FeedURL: tf.feed.URL, ETag: tf.feed.ETag, LastModified: tf.feed.LastModified}
	}

	var abort pipeline.EarlyAbort
	if seen != nil {
		abort = func(item model.ParsedItem) bool {
			key, has := item.IdentityKey()
			if !has {
				return false
			}
			_, known := seen[normalize.IdentityHash(key)]
			return known
		}
	}

	results := pipeline.Run(ctx, fetcher, targets, cfg.MaxFeedSizeBytes(), abort)

	var failed []model.FailedFeed
	for i, r := range results {
		if r.Err != nil {
			failed = append(failed, model.FailedFeed{
				FeedURL:   tagged[i].feed.URL,
				GroupName: tagged[i].groupName,
				Kind:      r.Err.Kind,
				Message:   r.Err.Message,
			})
		}
	}
	return results, failed
}

// collectItems は識別子ハッシュによる重複排除と、1フィードあたりの
// 上限(max-items-per-feed)を適用し、生き残った各アイテムにフィード名と
// グループ名をタグ付けする。seen/newHashesがnilのときは重複排除が
// 無効(アドホックモード)。
func collectItems(results []pipeline.Result, tagged []taggedFeed, maxPerFeed int, seen map[uint64]struct{}, newHashes *[]uint64) []model.Item {
	var items []model.Item
	for i, r := range results {
		if r.Err != nil || r.FetchSkipped {
			continue
		}
		feedName := tagged[i].feed.Text
		if feedName == "" {
			feedName = r.ParsedFeed.Title
		}

		kept := 0
		for _, pi := range r.ParsedFeed.Items {
			if maxPerFeed > 0 && kept >= maxPerFeed {
				break
			}
			if key, has := pi.IdentityKey(); has && seen != nil {
				hash := normalize.IdentityHash(key)
				if _, known := seen[hash]; known {
					continue
				}
				if newHashes != nil {
					*newHashes = append(*newHashes, hash)
				}
			}
			items = append(items, model.Item{
				Title:            pi.Title,
				Description:      pi.Description,
				Link:             pi.Link,
				PubDate:          pi.PubDate,
				Timestamp:        pi.Timestamp,
				GUID:             pi.GUID,
				FeedName:         feedName,
				GroupName:        tagged[i].groupName,
				GroupDisplayName: tagged[i].groupDisplayName,
			})
			kept++
		}
	}
	return items
}

// groupOrderIndex はグループ名からコマンドライン上の位置への対応表を
// 返す。これを第一ソートキーとして使うのは、呼び出し側が明示的な
// 複数グループの一覧を指定した場合のみ。nilマップは「アルファベット順」
// を意味する。
func groupOrderIndex(groups []string, explicit bool) map[string]int {
	if !explicit {
		return nil
	}
	idx := make(map[string]int, len(groups))
	for i, g := range groups {
		idx[g] = i
	}
	return idx
}

func sortItems(items []model.Item, order map[string]int) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.GroupName != b.GroupName {
			if order != nil {
				return order[a.GroupName] < order[b.GroupName]
			}
			return a.GroupName < b.GroupName
		}
		if a.FeedName != b.FeedName {
			return a.FeedName < b.FeedName
		}
		return a.Timestamp > b.Timestamp
	})
}

func persist(req Request, cfg config.Config, groups, fresh []model.Group, tagged []taggedFeed, results []pipeline.Result, freshItems []model.Item, newHashes []uint64, logicalNow string, store *seenstore.Store) {
	fetchedByGroup := make(map[string][]model.FeedConfig)
	for i, r := range results {
		if r.Err != nil {
			continue
		}
		fetchedByGroup[tagged[i].groupName] = append(fetchedByGroup[tagged[i].groupName], r.Feed)
	}

	for _, g := range fresh {
		fetched := fetchedByGroup[g.Name]
		if len(fetched) == 0 {
			continue
		}
		full, err := groupstore.Load(groupPath(req.GroupsDir, g.Name), g.Name)
		if err != nil {
			continue
		}
		merged := groupstore.MergeFetchedCacheHeaders(full, fetched)
		_ = groupstore.Save(groupPath(req.GroupsDir, g.Name), merged)
	}

	// itemsByGroupは、(フィードごとの生のパース出力ではなく)すでに
	// 重複排除・上限適用済みのアイテム一覧をグループ化する。こうする
	// ことで、保存されるスナップショットは手順4が「残す」と決めた
	// ものをそのまま反映する。
	itemsByGroup := make(map[string][]model.Item)
	for _, it := range freshItems {
		itemsByGroup[it.GroupName] = append(itemsByGroup[it.GroupName], it)
	}

	for _, g := range fresh {
		path := groupstate.SnapshotPath(req.HistoryDir, g.Name, logicalNow)
		groupItems := itemsByGroup[g.Name]
		if len(groupItems) == 0 && snapshot.Exists(path) {
			continue
		}
		_ = snapshot.Save(path, snapshot.Document{Timestamp: req.Now.Unix(), Items: groupItems})
	}

	if len(newHashes) > 0 {
		_ = store.Append(req.Now.Unix(), newHashes)
	}

	for _, g := range groups {
		_ = pruneHistory(req.HistoryDir, g.Name, logicalNow, cfg.RetentionDays)
	}
	_ = store.Prune(req.Now.Unix(), cfg.RetentionDays)
}

// pruneHistory はlogicalNowを基準にretentionDaysより古いgroupの
// スナップショットファイルを削除する。オフセットはretentionDaysに
// 固定したまま動かさない: 1件削除するたびに次に古いファイルが同じ
// オフセット位置へ繰り上がるため、同じオフセットを繰り返し問い合わせる
// ことで期限切れファイルを1件も飛ばさず、ちょうど1回ずつ訪問できる
// (オフセットを増やしていくと削除のたびにインデックスがずれて
// 1件おきに見逃す)。
//
// このオフセット歩行はデフォルトの日次スナップショット前提で初めて
// 暦日齢と正しく対応する。fetch_interval_daysを1より大きくすると
// スナップショットは日次より疎になり、低いオフセットのファイルが
// 暦日上はすでに期限切れでも、このオフセット基準の歩行では検査対象に
// 含まれないまま見逃される場合がある。
func pruneHistory(historyDir, group, logicalNow string, retentionDays int) error {
	for {
		name, err := groupstate.LoadRunByOffset(historyDir, group, retentionDays)
		if err != nil {
			return err
		}
		if name == "" {
			return nil
		}
		date, ok := groupstate.LogicalDateFromSnapshotName(group, name)
		if !ok {
			return nil
		}
		delta, ok := groupstate.DaysBetween(date, logicalNow)
		if !ok || delta < retentionDays {
			return nil
		}
		if err := os.Remove(filepath.Join(historyDir, name)); err != nil {
			return err
		}
	}
}

func finalizeResult(items []model.Item, failed []model.FailedFeed) model.ReadResult {
	kind := model.ResultSuccess
	if len(failed) > 0 {
		kind = model.ResultPartial
	}
	return model.ReadResult{Kind: kind, Items: items, FailedFeeds: failed}
}
