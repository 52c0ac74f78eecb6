// Package security はユーザー投稿コンテンツの無害化を提供する。
//
// 投稿・コメント・質問・回答・お知らせの本文は限定的なHTMLを許可し、
// ニックネームのような表示名はタグをすべて除去する。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizer はbluemondayの許可リストポリシーでユーザー入力を無害化する。
// ポリシーは生成後に変更しないため、複数のgoroutineから同時に使用できる。
type ContentSanitizer struct {
	rich  *bluemonday.Policy
	plain *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerを生成する。
// 本文ポリシーの内容:
//   - 許可タグ: p, br, ul, ol, li, blockquote, pre, code, strong, em, del, a
//   - aのhrefは http/https/mailto のみ、相対URLは不可
//   - 外部リンクには target="_blank" と rel="nofollow noopener noreferrer" を付与
func NewContentSanitizer() *ContentSanitizer {
	rich := bluemonday.NewPolicy()
	rich.AllowElements(
		"p", "br", "ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em", "del",
	)

	rich.AllowAttrs("href").OnElements("a")
	rich.AllowURLSchemes("http", "https", "mailto")
	rich.AllowRelativeURLs(false)
	rich.RequireParseableURLs(true)
	rich.RequireNoFollowOnLinks(true)
	rich.RequireNoReferrerOnLinks(true)
	rich.AddTargetBlankToFullyQualifiedLinks(true)

	return &ContentSanitizer{
		rich:  rich,
		plain: bluemonday.StrictPolicy(),
	}
}

// Sanitize は本文用のHTMLを無害化して返す。
func (s *ContentSanitizer) Sanitize(rawHTML string) string {
	return s.rich.Sanitize(rawHTML)
}

// StripTags はすべてのタグを除去し、前後の空白を取り除いた文字列を返す。
func (s *ContentSanitizer) StripTags(raw string) string {
	return strings.TrimSpace(s.plain.Sanitize(raw))
}
