package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// maxSanitizePasses はエンティティの多重エスケープを展開する回数の上限。
const maxSanitizePasses = 5

// TextSanitizer はユーザー入力のプレーンテキスト（表示名など）からHTMLを除去する。
// bluemondayのStrictPolicyは全タグを除去するため、結果は常にプレーンテキストになる。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグを除去し、エスケープを戻し、連続する空白を1つにまとめる。
// アンエスケープで&lt;img&gt;のようなタグが復元されるため、出力が変わらなくなるまで除去を繰り返す。
// 上限回数で収束しない入力は山括弧を取り除く。
func (s *TextSanitizer) Sanitize(raw string) string {
	cleaned := raw
	converged := false
	for i := 0; i < maxSanitizePasses; i++ {
		next := html.UnescapeString(s.policy.Sanitize(cleaned))
		if next == cleaned {
			converged = true
			break
		}
		cleaned = next
	}
	if !converged {
		cleaned = strings.NewReplacer("<", "", ">", "").Replace(cleaned)
	}
	return strings.Join(strings.Fields(cleaned), " ")
}
