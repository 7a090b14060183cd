// Package contenthash はレシピの重複検出用ダイジェスト計算を提供する。
//
// タイトルとマークアップ本文を正規化してからSHA-256を計算することで、
// ソースごとの整形ノイズ（空白、コメント、空行）に影響されない
// 安定したダイジェストを得る。異なるフィードから届いた意味的に同一の
// レシピは同じダイジェストを持ち、ダイジェスト検索で重複として
// 表示できる（保存自体は抑止しない）。
package contenthash

import (
	"crypto/sha256"
	"fmt"
	"regexp"
	"strings"
)

var (
	// blockCommentRe はマークアップのブロックコメント [- ... -] にマッチする。
	blockCommentRe = regexp.MustCompile(`(?s)\[-.*?-\]`)
	// lineCommentRe は行コメント -- から行末までにマッチする。
	lineCommentRe = regexp.MustCompile(`(?m)--.*$`)
	// whitespaceRe は連続する空白文字にマッチする。
	whitespaceRe = regexp.MustCompile(`\s+`)
	// blankRunRe は3つ以上連続する改行にマッチする。
	blankRunRe = regexp.MustCompile(`\n{3,}`)
)

// Calculate はタイトルと本文から重複検出用ダイジェストを計算する。
// contentがnilの場合は正規化済みタイトルのみでダイジェストを計算する。
func Calculate(title string, content *string) string {
	normalized := NormalizeTitle(title)
	if content != nil {
		normalized += "\n" + NormalizeContent(*content)
	}

	sum := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("%x", sum)
}

// NormalizeTitle はタイトルを小文字化し、連続する空白を1つに畳む。
func NormalizeTitle(title string) string {
	lower := strings.ToLower(title)
	collapsed := whitespaceRe.ReplaceAllString(lower, " ")
	return strings.TrimSpace(collapsed)
}

// NormalizeContent はマークアップ本文から整形ノイズを取り除く。
// ブロックコメントと行コメントを除去し、空白のみの行を空行に正規化し、
// 3つ以上連続する改行を2つに畳む。材料や手順のトークン自体は変更しない。
func NormalizeContent(content string) string {
	s := blockCommentRe.ReplaceAllString(content, "")
	s = lineCommentRe.ReplaceAllString(s, "")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		trimmed := strings.TrimRight(line, " \t")
		if strings.TrimSpace(trimmed) == "" {
			trimmed = ""
		}
		lines[i] = trimmed
	}
	s = strings.Join(lines, "\n")

	s = blankRunRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
