// Package normalize はGUID/リンク文字列を重複排除用の安定したキーへ
// 正規化し、そのキーから64bitハッシュを導出する。
package normalize

import (
	"net/url"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// hashSeedPrefix はxxhash.Sum64に渡す前に全入力の先頭へ付与する固定シード列。
// 実装やビルドをまたいで同一の値である必要がある。既存のseen_ids.binと
// 整合させるため、絶対に変更してはならない。
const hashSeedPrefix = "hysrss-identity-v1\x00"

// namedEntities はC1が解決する5つの名前付きHTMLエンティティ。
var namedEntities = map[string]string{
	"&amp;":  "&",
	"&lt;":   "<",
	"&gt;":   ">",
	"&quot;": `"`,
	"&apos;": "'",
}

// trackingPrefixes はクエリ全体を落とすトリガーとなる厳密な接頭辞。
// 部分一致ではなく、クエリ文字列の先頭からの一致のみが対象。
var trackingPrefixes = []string{"utm_", "fbclid=", "ref="}

// Canonicalize は生の識別子（GUIDまたはリンク）を、ハッシュ計算に使う
// 安定したバイト列へ正規化する。失敗しない: URI解析が失敗した場合は
// "https://" + 小文字化した生入力へフォールバックする。
func Canonicalize(raw string) string {
	lower := strings.ToLower(raw)
	isHTTP := strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")

	var out string
	if isHTTP {
		out = canonicalizeURL(raw)
	} else {
		out = strings.ToLower(raw)
	}

	return decodeNamedEntities(out)
}

// canonicalizeURL はステップ2〜5(spec §4.1)を適用する。解析に失敗した
// 場合は "https://" + 小文字化した生入力を返す。
func canonicalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "https://" + strings.ToLower(raw)
	}

	u.Scheme = "https"
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	if len(u.Path) > 1 && strings.HasSuffix(u.Path, "/") {
		u.Path = strings.TrimRight(u.Path, "/")
		if u.Path == "" {
			u.Path = "/"
		}
	}

	if hasTrackingPrefix(u.RawQuery) {
		u.RawQuery = ""
	}

	return u.String()
}

// hasTrackingPrefix はクエリ文字列がトラッキングパラメータの接頭辞で
// 始まっているかを判定する。部分一致ではなく先頭一致のみ。
func hasTrackingPrefix(rawQuery string) bool {
	if rawQuery == "" {
		return false
	}
	for _, prefix := range trackingPrefixes {
		if strings.HasPrefix(rawQuery, prefix) {
			return true
		}
	}
	return false
}

// decodeNamedEntities は5つの名前付きエンティティを全体にわたって
// デコードする。
func decodeNamedEntities(s string) string {
	if !strings.Contains(s, "&") {
		return s
	}
	for entity, replacement := range namedEntities {
		s = strings.ReplaceAll(s, entity, replacement)
	}
	return s
}

// Hash はCanonicalizeの出力から64bitの非暗号学的ハッシュを導出する。
// xxhashは固定シードプレフィックスと連結してSum64を取るため、決定的かつ
// 移植可能である。
func Hash(canonical string) uint64 {
	d := xxhash.New()
	_, _ = d.WriteString(hashSeedPrefix)
	_, _ = d.WriteString(canonical)
	return d.Sum64()
}

// IdentityHash はCanonicalizeとHashを合成したヘルパー。
func IdentityHash(raw string) uint64 {
	return Hash(Canonicalize(raw))
}
