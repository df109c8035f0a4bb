// Package security は入力値の無害化と検証を提供する。
//
// DescriptionSanitizer はアプリ説明文のHTMLを許可リスト方式で無害化する。
// bluemondayのポリシーで基本的な書式タグとhttpsリンクのみを通過させる。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer はテキストを保存前に無害化する。
type Sanitizer interface {
	// Sanitize は安全なHTMLを返す。同一入力に対して常に同一出力を返す。
	Sanitize(raw string) string
}

// DescriptionSanitizer はアプリ説明文向けのSanitizer実装。
// ポリシーはスレッドセーフであり、共有して使用できる。
type DescriptionSanitizer struct {
	policy *bluemonday.Policy
}

// NewDescriptionSanitizer はDescriptionSanitizerを生成する。
// ポリシーの内容:
//   - 許可タグ: p, br, ul, ol, li, strong, em, code, a
//   - aタグ: httpsのhrefのみ、target="_blank" と rel="noopener noreferrer" を付与
//   - 上記以外のタグ（script, iframe, style, img等）と全てのon*属性は除去
func NewDescriptionSanitizer() *DescriptionSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements("p", "br", "ul", "ol", "li", "strong", "em", "code")

	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("https")
	p.AllowRelativeURLs(false)
	p.RequireParseableURLs(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	return &DescriptionSanitizer{policy: p}
}

// Sanitize は説明文を無害化し、前後の空白を除去する。
func (s *DescriptionSanitizer) Sanitize(raw string) string {
	return strings.TrimSpace(s.policy.Sanitize(raw))
}

// compile-time interface check
var _ Sanitizer = (*DescriptionSanitizer)(nil)
