// Package fetch はバッチフェッチャー(§4.4)を実装する: 条件付きGET、
// コネクションプーリング、アイテム境界を壊さない有界書き込みシンク、
// ストリーミングUTF-8検証器。
package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/http2"

	"hysrss/internal/model"
	"hysrss/internal/security"
)

const (
	userAgent       = "hys-rss/1.0"
	maxRedirects    = 10
	totalTimeout    = 30 * time.Second
	maxConnsPerHost = 6
	// maxTotalConns は「総コネクション数50まで」という予算を、FetchAll側の
	// 並行度上限として近似したもの。net/httpのTransportはホスト単位の
	// 上限(MaxConnsPerHost)しか公開しておらず、グローバルな単一上限を
	// 持たないため。
	maxTotalConns = 50

	readChunkSize = 32 * 1024
)

// Status は1フィードのフェッチ結果を分類する(§4.4/§7)。
type Status int

const (
	StatusSuccess Status = iota
	StatusNotModified
	StatusFailed
)

// Outcome は1フィードのフェッチがパイプライン調整役(C5)へ渡す結果。
type Outcome struct {
	Status       Status
	Body         []byte
	ETag         string
	LastModified string
	ErrKind      model.ErrorKind // Status == StatusFailedのときのみ意味を持つ
	ErrMessage   string
}

// Request は1フィードのフェッチ入力。前回実行のキャッシュ検証子があれば
// それを含む。
type Request struct {
	URL          string
	ETag         string
	LastModified string
}

var allowedContentTypePrefixes = []string{
	"application/rss", "application/atom", "application/xml", "application/json",
	"text/xml", "text/rss", "text/atom",
}

// Fetcher はSSRFガード済み・HTTP/2優先のクライアントに対し、有界な
// コネクションプーリングのもとで条件付きGETを発行する。
type Fetcher struct {
	client       *http.Client
	ssrfGuard    security.SSRFGuardService
	maxBodyBytes int64
}

// NewFetcher はssrfGuardの安全なクライアントをもとにFetcherを組み立て、
// §4.4が求めるリダイレクト上限とコネクションプール/HTTP2の調整を
// 追加する。safeurlが返す*http.Client.Transportは、それが素の
// *http.Transportであると判明した場合(ダイヤラーラッパーとしては
// よくあるケース)のみ再設定される。そうでない場合、非公開の具象型への
// 無検査型アサーションの危険を冒すより、プール/HTTP2の調整は諦める。
func NewFetcher(ssrfGuard security.SSRFGuardService, maxBodyBytes int64) *Fetcher {
	client := ssrfGuard.NewSafeClient(totalTimeout, maxBodyBytes)
	client.Timeout = totalTimeout
	client.CheckRedirect = limitRedirects(maxRedirects)

	if t, ok := client.Transport.(*http.Transport); ok {
		t.MaxConnsPerHost = maxConnsPerHost
		t.MaxIdleConnsPerHost = maxConnsPerHost
		_ = http2.ConfigureTransport(t)
	}

	return &Fetcher{client: client, ssrfGuard: ssrfGuard, maxBodyBytes: maxBodyBytes}
}

func limitRedirects(max int) func(*http.Request, []*http.Request) error {
	return func(_ *http.Request, via []*http.Request) error {
		if len(via) >= max {
			return fmt.Errorf("stopped after %d redirects", max)
		}
		return nil
	}
}

// Fetch は1回の条件付きGETを実行し、結果を分類する。
func (f *Fetcher) Fetch(ctx context.Context, req Request) Outcome {
	if err := f.ssrfGuard.ValidateURL(req.URL); err != nil {
		return Outcome{Status: StatusFailed, ErrKind: model.ErrInvalidURL, ErrMessage: err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return Outcome{Status: StatusFailed, ErrKind: model.ErrInvalidURL, ErrMessage: err.Error()}
	}
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set("Accept-Encoding", "")
	if req.ETag != "" {
		httpReq.Header.Set("If-None-Match", req.ETag)
	}
	if req.LastModified != "" {
		httpReq.Header.Set("If-Modified-Since", req.LastModified)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return Outcome{Status: StatusFailed, ErrKind: model.ErrNetwork, ErrMessage: err.Error()}
	}
	defer resp.Body.Close()

	etag := resp.Header.Get("ETag")
	lastModified := resp.Header.Get("Last-Modified")

	if resp.StatusCode == http.StatusNotModified {
		return Outcome{Status: StatusNotModified, ETag: etag, LastModified: lastModified}
	}
	if resp.StatusCode >= 400 {
		return Outcome{
			Status: StatusFailed, ErrKind: model.ErrHTTP,
			ErrMessage: fmt.Sprintf("http status %d", resp.StatusCode),
			ETag:       etag, LastModified: lastModified,
		}
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" && !allowedContentType(ct) {
		return Outcome{
			Status: StatusFailed, ErrKind: model.ErrHTTP,
			ErrMessage: fmt.Sprintf("disallowed content-type %q", ct),
			ETag:       etag, LastModified: lastModified,
		}
	}

	body, kind, msg, ok := readBoundedValidBody(resp.Body, f.maxBodyBytes)
	if !ok {
		return Outcome{Status: StatusFailed, ErrKind: kind, ErrMessage: msg, ETag: etag, LastModified: lastModified}
	}
	if len(body) == 0 {
		return Outcome{
			Status: StatusFailed, ErrKind: model.ErrNetwork,
			ErrMessage: "empty body on 2xx response",
			ETag:       etag, LastModified: lastModified,
		}
	}

	return Outcome{Status: StatusSuccess, Body: body, ETag: etag, LastModified: lastModified}
}

func allowedContentType(ct string) bool {
	lower := strings.ToLower(ct)
	for _, prefix := range allowedContentTypePrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// readBoundedValidBody はrをmaxBytes上限のバッファへ読み込みながら
// UTF-8を検証する。上限に達した場合は最後の完全な</item>または</entry>
// タグで切り詰める。FileTooLarageは、取得済みバイト列にそのような
// 境界が1つも無い場合にのみ返る。
func readBoundedValidBody(r io.Reader, maxBytes int64) (body []byte, kind model.ErrorKind, msg string, ok bool) {
	var buf bytes.Buffer
	validator := newUTF8Validator()
	chunk := make([]byte, readChunkSize)
	truncated := false

	for {
		n, err := r.Read(chunk)
		if n > 0 {
			take := chunk[:n]
			if remaining := maxBytes - int64(buf.Len()); int64(len(take)) > remaining {
				take = take[:remaining]
				truncated = true
			}
			if !validator.Write(take) {
				return nil, model.ErrInvalidUTF8, "invalid UTF-8 byte sequence", false
			}
			buf.Write(take)
			if truncated {
				break
			}
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, model.ErrNetwork, err.Error(), false
		}
	}

	if !truncated && !validator.Finish() {
		return nil, model.ErrInvalidUTF8, "truncated multi-byte sequence at end of stream", false
	}

	out := buf.Bytes()
	if truncated {
		boundary := lastCompleteItemBoundary(out)
		if boundary < 0 {
			return nil, model.ErrFileTooLarge, "truncated before any complete item boundary", false
		}
		out = out[:boundary]
	}
	return out, "", "", true
}

func lastCompleteItemBoundary(data []byte) int {
	lower := bytes.ToLower(data)
	best := -1
	for _, marker := range [][]byte{[]byte("</item>"), []byte("</entry>")} {
		if idx := bytes.LastIndex(lower, marker); idx >= 0 {
			if end := idx + len(marker); end > best {
				best = end
			}
		}
	}
	return best
}
