// Package model はドメインモデルを定義する。
package model

import (
	"errors"
	"fmt"
)

// ErrorKind はクロール/インデックス処理のエラー分類を表す。
// 分類によってリトライ可否と伝播方針が決まる。
type ErrorKind string

const (
	// ErrKindTransient は一時的なネットワーク障害（リトライ可能）。
	ErrKindTransient ErrorKind = "transient"
	// ErrKindPermanentHTTP はリトライ不能なHTTPエラー（304以外の4xx等）。
	ErrKindPermanentHTTP ErrorKind = "permanent_http"
	// ErrKindSizeViolation はサイズ上限超過。リトライしない。
	ErrKindSizeViolation ErrorKind = "size_violation"
	// ErrKindParse はフィードまたはマークアップのパース失敗。
	ErrKindParse ErrorKind = "parse"
	// ErrKindValidation は不正または許可されないURL等の検証失敗。リトライしない。
	ErrKindValidation ErrorKind = "validation"
	// ErrKindNotFound は対象リソースの未検出。
	ErrKindNotFound ErrorKind = "not_found"
	// ErrKindInternal は上記以外の内部エラー。
	ErrKindInternal ErrorKind = "internal"
)

// Error は分類付きのドメインエラー。
// errors.As で分類を取り出し、IsRetryable でリトライ可否を判定する。
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

// Error はerrorインターフェースを実装する。
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Msg)
}

// Unwrap はラップされた元エラーを返す。
func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable は一時的な障害としてリトライしてよいかを返す。
func (e *Error) IsRetryable() bool {
	return e.Kind == ErrKindTransient
}

// NewError は分類付きエラーを生成する。
func NewError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// WrapError は元エラーをラップした分類付きエラーを生成する。
func WrapError(kind ErrorKind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf はエラーの分類を返す。分類付きエラーでない場合はErrKindInternal。
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ErrKindInternal
}

// IsRetryable はエラーがリトライ可能な一時障害かを返す。
func IsRetryable(err error) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.IsRetryable()
	}
	return false
}
