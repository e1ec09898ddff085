// Package pipeline はフェッチのバッチをパース済みアイテムへ変換する
// 調整役(§4.5)。フェッチし、完了したフェッチごとにパースワーカーを
// ディスパッチし、全ワーカーの完了後にスロット位置が安定した結果配列を
// 返す。
package pipeline

import (
	"context"
	"runtime"
	"sync"

	"hysrss/internal/feedparser"
	"hysrss/internal/fetch"
	"hysrss/internal/model"
)

// Target はフェッチ・パース対象の1フィード。ダイジェストエンジンが
// 出力をグループ/フィードへ振り分けられるだけの文脈を保持する。
type Target struct {
	FeedURL      string
	ETag         string
	LastModified string
}

// Result は1フィードの結果。パース済みフィードとフェッチで得た新しい
// キャッシュ検証子(グループファイルへ書き戻す)、または分類された
// 失敗のいずれか。
type Result struct {
	Feed         model.FeedConfig // 成功時はURLと更新後のETag/LastModified
	ParsedFeed   model.ParsedFeed
	Items        []model.ParsedItem
	Err          *model.RunError
	FetchSkipped bool // フェッチ自体がNotModifiedを返した場合true
}

// EarlyAbort はパース済みアイテムごとにフィード到着順で呼ばれ、
// そのフィードの残りのアイテム読み込みを早期に打ち切ってよいか
// (典型的にはすでにseen-setに存在するため)をパーサーへ伝える。

type EarlyAbort func(item model.ParsedItem) bool

// Run は全ターゲットのフェッチを開始し、個々の転送が完了するそばから
// (バッチ全体のフェッチ完了を待たずに)パースワーカーをディスパッチ
// する。これによりパースは他のフィードがまだダウンロード中でも並行に
// 進む。ワーカープールはハードウェアの並列度(runtime.NumCPU())に
// 合わせてサイズを決める。「フェッチのみ」から「フェッチ完了ごとに
// パースを差し込む」へ一般化した、チャネル上のセマフォによる
// スケジューリングという慣用句にならう。
//
// results[i]は常にtargets[i]に対応し、あらかじめNetworkErrorの失敗で
// 初期化しておく。ワーカー枠を得られなかったターゲット(通常は
// 起こらないが、配列は前もって確保するため)であっても一貫した値を
// 報告できるようにするため。最後のsync.WaitGroup.Wait()がリリース/
// アクワイア境界となり、各パースワーカーのresultsへの書き込みはRunの
// 完了より前に発生する。
func Run(ctx context.Context, f *fetch.Fetcher, targets []Target, maxBodyBytes int64, abort EarlyAbort) []Result {
	results := make([]Result, len(targets))
	for i, t := range targets {
		results[i] = Result{
			Feed: model.FeedConfig{URL: t.FeedURL},
			Err:  model.NewFeedError(model.ErrNetwork, t.FeedURL, "no fetch outcome recorded"),
		}
	}
	if len(targets) == 0 {
		return results
	}

	reqs := make([]fetch.Request, len(targets))
	for i, t := range targets {
		reqs[i] = fetch.Request{URL: t.FeedURL, ETag: t.ETag, LastModified: t.LastModified}
	}

	workers := runtime.NumCPU()
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var parseWG sync.WaitGroup

	onFetchComplete := func(idx int, out fetch.Outcome) {
		parseWG.Add(1)
		go func(idx int, out fetch.Outcome) {
			defer parseWG.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[idx] = parseOne(targets[idx], out, abort)
		}(idx, out)
	}

	f.FetchAll(ctx, reqs, maxFetchConcurrency, onFetchComplete)
	parseWG.Wait()
	return results
}

// maxFetchConcurrency は転送層が設定するプール予算(§4.4: 総数50/
// ホストあたり6)に合わせて、同時接続数の上限を定める。
const maxFetchConcurrency = 50

func parseOne(target Target, out fetch.Outcome, abort EarlyAbort) Result {
	feedCfg := model.FeedConfig{URL: target.FeedURL, ETag: out.ETag, LastModified: out.LastModified}

	switch out.Status {
	case fetch.StatusNotModified:
		return Result{Feed: feedCfg, FetchSkipped: true}
	case fetch.StatusFailed:
		return Result{
			Feed: model.FeedConfig{URL: target.FeedURL},
			Err:  model.NewFeedError(out.ErrKind, target.FeedURL, out.ErrMessage),
		}
	}

	var onItem func(model.ParsedItem) bool
	if abort != nil {
		onItem = abort
	}

	parsed, err := feedparser.ParseFeed(out.Body, onItem)
	if err != nil {
		if rerr, ok := err.(*model.RunError); ok {
			return Result{
				Feed: model.FeedConfig{URL: target.FeedURL},
				Err:  model.NewFeedError(rerr.Kind, target.FeedURL, rerr.Message),
			}
		}
		return Result{
			Feed: model.FeedConfig{URL: target.FeedURL},
			Err:  model.NewFeedError(model.ErrParse, target.FeedURL, err.Error()),
		}
	}

	return Result{Feed: feedCfg, ParsedFeed: parsed, Items: parsed.Items}
}
