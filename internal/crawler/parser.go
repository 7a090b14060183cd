package crawler

import (
	"bytes"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/cookfed/internal/model"
)

// ParseFeed はRSS/Atomフィードのバイト列をパースして正規化する。
// フォーマットの自動判別はgofeedが行う。
func ParseFeed(body []byte) (*model.ParsedFeed, error) {
	parser := gofeed.NewParser()
	feed, err := parser.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, model.WrapError(model.ErrKindParse, "フィードのパースに失敗", err)
	}

	parsed := &model.ParsedFeed{
		Title:   feed.Title,
		Updated: feed.UpdatedParsed,
	}
	if len(feed.Authors) > 0 && feed.Authors[0] != nil {
		parsed.Author = feed.Authors[0].Name
	}

	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		parsed.Entries = append(parsed.Entries, convertItem(item))
	}

	return parsed, nil
}

// convertItem はgofeedのアイテムをParsedEntryに変換する。
func convertItem(item *gofeed.Item) model.ParsedEntry {
	entry := model.ParsedEntry{
		Title:       item.Title,
		Summary:     item.Description,
		SourceURL:   item.Link,
		PublishedAt: item.PublishedParsed,
		UpdatedAt:   item.UpdatedParsed,
	}

	// 同一性の鍵: guid/id、欠落時はリンクをフォールバックにする
	if item.GUID != "" {
		entry.ID = item.GUID
	} else {
		entry.ID = item.Link
	}

	entry.EnclosureURL = pickEnclosureURL(item)

	// ID・リンクともに欠落している場合、エンクロージャURLを鍵にする
	if entry.ID == "" {
		entry.ID = entry.EnclosureURL
	}

	for _, cat := range item.Categories {
		if strings.TrimSpace(cat) != "" {
			entry.Tags = append(entry.Tags, cat)
		}
	}

	entry.ImageURL = pickImageURL(item)

	return entry
}

// pickEnclosureURL はレシピマークアップ本体へのリンクを選択する。
// メディアタイプがtext/plainか、URLが.cookで終わるエンクロージャのみを
// レシピ本体とみなす（画像等のエンクロージャを本文として取り込まない）。
// 該当するエンクロージャがなければ.cookで終わるリンクを使用する。
func pickEnclosureURL(item *gofeed.Item) string {
	for _, enc := range item.Enclosures {
		if enc == nil || enc.URL == "" {
			continue
		}
		if enc.Type == "text/plain" || strings.HasSuffix(enc.URL, ".cook") {
			return enc.URL
		}
	}
	if strings.HasSuffix(item.Link, ".cook") {
		return item.Link
	}
	return ""
}

// pickImageURL はエントリの画像URLを選択する。優先順:
// フィード標準のimage要素 → cooklang:image拡張要素 →
// media:content / media:thumbnail → 画像タイプのエンクロージャ。
func pickImageURL(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	if exts, ok := item.Extensions["cooklang"]; ok {
		if images, ok := exts["image"]; ok && len(images) > 0 {
			return strings.TrimSpace(images[0].Value)
		}
	}
	if url := pickMediaImageURL(item); url != "" {
		return url
	}
	for _, enc := range item.Enclosures {
		if enc == nil || enc.URL == "" {
			continue
		}
		if strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}
	return ""
}

// pickMediaImageURL はmedia名前空間の拡張要素から画像URLを取り出す。
// media:contentのurl属性を優先し、なければmedia:thumbnailを参照する。
func pickMediaImageURL(item *gofeed.Item) string {
	exts, ok := item.Extensions["media"]
	if !ok {
		return ""
	}
	for _, name := range []string{"content", "thumbnail"} {
		for _, ext := range exts[name] {
			if url := strings.TrimSpace(ext.Attrs["url"]); url != "" {
				return url
			}
		}
	}
	return ""
}
