package crawler

import (
	"testing"
)

func TestParseFeed_RSS(t *testing.T) {
	parsed, err := ParseFeed([]byte(feedXML))
	if err != nil {
		t.Fatalf("ParseFeedに失敗: %v", err)
	}

	if parsed.Title != "Home Cooking" {
		t.Errorf("フィードタイトルが不正: %q", parsed.Title)
	}
	if len(parsed.Entries) != 2 {
		t.Fatalf("エントリ数が不正: got %d, want 2", len(parsed.Entries))
	}

	e := parsed.Entries[0]
	if e.ID != "entry-1" {
		t.Errorf("IDが不正: %q", e.ID)
	}
	if e.Title != "Spicy Curry" {
		t.Errorf("タイトルが不正: %q", e.Title)
	}
	if e.EnclosureURL != "https://example.com/recipes/curry.cook" {
		t.Errorf("エンクロージャURLが不正: %q", e.EnclosureURL)
	}
	if e.PublishedAt == nil {
		t.Error("公開日時がパースされていません")
	}
	if len(e.Tags) != 1 || e.Tags[0] != "dinner" {
		t.Errorf("タグが不正: %v", e.Tags)
	}
}

func TestParseFeed_GUIDFallbackToLink(t *testing.T) {
	xml := `<?xml version="1.0"?>
<rss version="2.0"><channel><title>t</title>
  <item>
    <title>no guid</title>
    <link>https://example.com/recipes/soup</link>
    <enclosure url="https://example.com/recipes/soup.cook" type="text/plain" length="10"/>
  </item>
</channel></rss>`

	parsed, err := ParseFeed([]byte(xml))
	if err != nil {
		t.Fatalf("ParseFeedに失敗: %v", err)
	}
	if len(parsed.Entries) != 1 {
		t.Fatalf("エントリ数が不正: %d", len(parsed.Entries))
	}
	if parsed.Entries[0].ID != "https://example.com/recipes/soup" {
		t.Errorf("guid欠落時のIDフォールバックが不正: %q", parsed.Entries[0].ID)
	}
}

func TestParseFeed_CooklangImageExtension(t *testing.T) {
	xml := `<?xml version="1.0"?>
<rss version="2.0" xmlns:cooklang="https://cooklang.org/rss">
<channel><title>t</title>
  <item>
    <title>with image</title>
    <guid>g1</guid>
    <enclosure url="https://example.com/r.cook" type="text/plain" length="10"/>
    <cooklang:image>https://example.com/r.jpg</cooklang:image>
  </item>
</channel></rss>`

	parsed, err := ParseFeed([]byte(xml))
	if err != nil {
		t.Fatalf("ParseFeedに失敗: %v", err)
	}
	if got := parsed.Entries[0].ImageURL; got != "https://example.com/r.jpg" {
		t.Errorf("拡張要素の画像URLが取得できていません: %q", got)
	}
}

func TestParseFeed_CookLinkWithoutEnclosure(t *testing.T) {
	xml := `<?xml version="1.0"?>
<rss version="2.0"><channel><title>t</title>
  <item>
    <title>direct link</title>
    <guid>g1</guid>
    <link>https://example.com/recipes/stew.cook</link>
  </item>
</channel></rss>`

	parsed, err := ParseFeed([]byte(xml))
	if err != nil {
		t.Fatalf("ParseFeedに失敗: %v", err)
	}
	if got := parsed.Entries[0].EnclosureURL; got != "https://example.com/recipes/stew.cook" {
		t.Errorf(".cookリンクのフォールバックが不正: %q", got)
	}
}

func TestParseFeed_ImageEnclosureIsNotMarkup(t *testing.T) {
	// 画像エンクロージャしかないエントリはレシピ本体を持たない。
	// 画像はImageURLのフォールバックとしてのみ使われる
	xml := `<?xml version="1.0"?>
<rss version="2.0"><channel><title>t</title>
  <item>
    <title>photo only</title>
    <guid>g1</guid>
    <enclosure url="https://example.com/dish.jpg" type="image/jpeg" length="90000"/>
  </item>
</channel></rss>`

	parsed, err := ParseFeed([]byte(xml))
	if err != nil {
		t.Fatalf("ParseFeedに失敗: %v", err)
	}
	e := parsed.Entries[0]
	if e.EnclosureURL != "" {
		t.Errorf("画像エンクロージャがレシピ本体として選択されています: %q", e.EnclosureURL)
	}
	if e.ImageURL != "https://example.com/dish.jpg" {
		t.Errorf("画像エンクロージャのフォールバックが不正: %q", e.ImageURL)
	}
}

func TestParseFeed_MarkupEnclosurePrecedesImage(t *testing.T) {
	// 画像と本体のエンクロージャが混在する場合、本体はtext/plainか
	// .cookサフィックスのものを選ぶ
	xml := `<?xml version="1.0"?>
<rss version="2.0"><channel><title>t</title>
  <item>
    <title>mixed</title>
    <guid>g1</guid>
    <enclosure url="https://example.com/dish.jpg" type="image/jpeg" length="90000"/>
    <enclosure url="https://example.com/dish.cook" type="application/octet-stream" length="200"/>
  </item>
</channel></rss>`

	parsed, err := ParseFeed([]byte(xml))
	if err != nil {
		t.Fatalf("ParseFeedに失敗: %v", err)
	}
	e := parsed.Entries[0]
	if e.EnclosureURL != "https://example.com/dish.cook" {
		t.Errorf("レシピ本体の選択が不正: %q", e.EnclosureURL)
	}
	if e.ImageURL != "https://example.com/dish.jpg" {
		t.Errorf("画像URLが不正: %q", e.ImageURL)
	}
}

func TestParseFeed_MediaContentImage(t *testing.T) {
	xml := `<?xml version="1.0"?>
<rss version="2.0" xmlns:media="http://search.yahoo.com/mrss/">
<channel><title>t</title>
  <item>
    <title>with media</title>
    <guid>g1</guid>
    <enclosure url="https://example.com/r.cook" type="text/plain" length="10"/>
    <media:content url="https://example.com/hero.jpg" type="image/jpeg"/>
  </item>
</channel></rss>`

	parsed, err := ParseFeed([]byte(xml))
	if err != nil {
		t.Fatalf("ParseFeedに失敗: %v", err)
	}
	if got := parsed.Entries[0].ImageURL; got != "https://example.com/hero.jpg" {
		t.Errorf("media:contentの画像URLが取得できていません: %q", got)
	}
}

func TestParseFeed_MediaThumbnailImage(t *testing.T) {
	xml := `<?xml version="1.0"?>
<rss version="2.0" xmlns:media="http://search.yahoo.com/mrss/">
<channel><title>t</title>
  <item>
    <title>with thumbnail</title>
    <guid>g1</guid>
    <enclosure url="https://example.com/r.cook" type="text/plain" length="10"/>
    <media:thumbnail url="https://example.com/thumb.jpg"/>
  </item>
</channel></rss>`

	parsed, err := ParseFeed([]byte(xml))
	if err != nil {
		t.Fatalf("ParseFeedに失敗: %v", err)
	}
	if got := parsed.Entries[0].ImageURL; got != "https://example.com/thumb.jpg" {
		t.Errorf("media:thumbnailの画像URLが取得できていません: %q", got)
	}
}

func TestParseFeed_Invalid(t *testing.T) {
	if _, err := ParseFeed([]byte("not a feed")); err == nil {
		t.Error("不正なフィードでエラーが返されませんでした")
	}
}

func TestParseFeed_Atom(t *testing.T) {
	xml := `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Atom Recipes</title>
  <updated>2025-06-01T00:00:00Z</updated>
  <entry>
    <title>Baked Fish</title>
    <id>urn:uuid:1</id>
    <updated>2025-06-01T00:00:00Z</updated>
    <link rel="enclosure" href="https://example.com/fish.cook"/>
  </entry>
</feed>`

	parsed, err := ParseFeed([]byte(xml))
	if err != nil {
		t.Fatalf("ParseFeedに失敗: %v", err)
	}
	if parsed.Title != "Atom Recipes" {
		t.Errorf("フィードタイトルが不正: %q", parsed.Title)
	}
	e := parsed.Entries[0]
	if e.ID != "urn:uuid:1" {
		t.Errorf("IDが不正: %q", e.ID)
	}
	if e.UpdatedAt == nil {
		t.Error("updatedがパースされていません")
	}
	if e.EnclosureURL != "https://example.com/fish.cook" {
		t.Errorf("Atomエンクロージャリンクが不正: %q", e.EnclosureURL)
	}
}
