package fetch

import (
	"context"
	"sync"
)

// OnFetchComplete はフェッチが1件完了するたびに呼ばれるコールバック。
// idxはreqs内の位置、outはその転送の結果。呼ばれるタイミングは転送の
// 完了順であり、reqsの並び順ではない。呼び出しは転送を完了させた
// goroutineから行われるため、複数の転送が同時に完了すればonComplete
// 自体も並行に呼ばれうる — 呼び出し側が共有状態に触れるなら自前で
// 同期すること。
type OnFetchComplete func(idx int, out Outcome)

// FetchAll はreqsの各要素に対してFetchを並行実行する。並行数は
// maxConcurrencyをもとにしたセマフォチャネルで制限し、結果はreqsと
// 同じ位置に対応するスライスで返す。onCompleteが非nilなら、各転送が
// 完了するそばから(バッチ全体の完了を待たずに)呼び出す — これにより
// 呼び出し側は他の転送がまだダウンロード中でもパースを開始できる。
// wg.Wait()がリリース/アクワイア境界となり、resultsへの全書き込みは
// この呼び出しの完了より前に発生するため、呼び出し側はそれ以上の
// 同期なしに完成したスライスを観測できる。
func (f *Fetcher) FetchAll(ctx context.Context, reqs []Request, maxConcurrency int, onComplete OnFetchComplete) []Outcome {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	results := make([]Outcome, len(reqs))
	sem := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup

	for i, req := range reqs {
		wg.Add(1)
		sem <- struct{}{}

		go func(idx int, r Request) {
			defer wg.Done()
			defer func() { <-sem }()
			out := f.Fetch(ctx, r)
			results[idx] = out
			if onComplete != nil {
				onComplete(idx, out)
			}
		}(i, req)
	}

	wg.Wait()
	return results
}
