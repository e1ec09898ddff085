// Package model はドメインモデルを定義する。
package model

import "fmt"

// ErrorKind は§7のエラー分類を表す。型ではなく種類（kind）として扱い、
// 呼び出し側はKindで分岐する。
type ErrorKind string

// 定義済みエラー種別。§7のタキソノミーに対応する。
const (
	// ErrNetwork は接続失敗、DNS、TLS、ストリーム中断、2xxで空ボディ。
	ErrNetwork ErrorKind = "NetworkError"
	// ErrHTTP はHTTPステータス>=400、または許可されないContent-Type。
	ErrHTTP ErrorKind = "HttpError"
	// ErrNotModified はHTTP 304。エラーではなく独立したステータス。
	ErrNotModified ErrorKind = "NotModified"
	// ErrInvalidUTF8 はストリーミングUTF-8検証器が不正列を検出した。
	ErrInvalidUTF8 ErrorKind = "InvalidUtf8"
	// ErrFileTooLarge は切り詰め後も完全なアイテム境界が得られなかった。
	ErrFileTooLarge ErrorKind = "FileTooLarge"
	// ErrInvalidURL はフェッチ前のURL検証失敗（スキーム、空白、長さ）。
	ErrInvalidURL ErrorKind = "InvalidUrl"
	// ErrParse はXMLゲート失敗、またはパーサーが0件のアイテムを返した。
	ErrParse ErrorKind = "ParseError"
	// ErrIO はファイルシステムの読み書き失敗。
	ErrIO ErrorKind = "IoError"
	// ErrOutOfMemory はメモリ確保の失敗。Goの実装ではほぼ観測されないが、
	// 呼び出し規約を揃えるために種別として残す。
	ErrOutOfMemory ErrorKind = "OutOfMemory"
)

// RunError は1件のフィード、または1回のreadに紐づくエラーを表す。
// feedmanのAPIError（Code/Message/Category/Action）と同じ「分類された
// エラー」の形を踏襲するが、向き先はユーザー向けAPI応答ではなく
// failed_feeds[]への集約であるため、対処方法(Action)の代わりに
// どのフィードで起きたかというFeedURLを持つ。
type RunError struct {
	Kind    ErrorKind
	FeedURL string // 空ならフィードに紐付かないエラー
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *RunError) Error() string {
	if e.FeedURL != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Kind, e.FeedURL, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// NewFeedError はフィードURLに紐づくRunErrorを生成する。
func NewFeedError(kind ErrorKind, feedURL, message string) *RunError {
	return &RunError{Kind: kind, FeedURL: feedURL, Message: message}
}

// NewRunError はフィードに紐付かないRunErrorを生成する。
func NewRunError(kind ErrorKind, message string) *RunError {
	return &RunError{Kind: kind, Message: message}
}

// IsNotFound はos.IsNotExist相当の「存在しない」ケースをIoErrorから
// 判別するためのヘルパー。§7: "distinguish 'not found' (silent) from
// real I/O errors (logged)"。
func (e *RunError) IsNotFound() bool {
	return e.Kind == ErrIO && e.Message == "not found"
}
