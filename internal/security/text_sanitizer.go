// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はレビューのコメントや書誌情報からマークアップを取り除き、
// 保存されたテキストがそのまま表示されてもスクリプトが実行されないようにする。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はプレーンテキスト化のインターフェース。
type TextSanitizer interface {
	// Clean は全てのHTMLタグを取り除き、前後の空白を除去した文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Clean(raw string) string
}

// textSanitizer はbluemondayのStrictPolicyでタグを一切許可しない実装。
// StrictPolicyは並行利用しても安全。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// maxCleanPasses は実体参照で多重に包まれたタグを剥がす回数の上限。
const maxCleanPasses = 4

// Clean はタグを除去し、bluemondayが付けたHTMLエスケープを戻してから空白をトリムする。
// 保存するのはプレーンテキストであり、& や ' はそのまま検索・表示できる。
// &lt;b&gt; のように実体参照で書かれたタグは、戻した結果がタグになるため再度除去する。
func (s *textSanitizer) Clean(raw string) string {
	text := raw
	for i := 0; i < maxCleanPasses; i++ {
		next := html.UnescapeString(s.policy.Sanitize(text))
		if next == text {
			break
		}
		text = next
	}
	return strings.TrimSpace(text)
}
