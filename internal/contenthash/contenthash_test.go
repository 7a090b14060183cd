package contenthash

import "testing"

func strPtr(s string) *string { return &s }

func TestCalculate_StableAcrossTitleCaseAndWhitespace(t *testing.T) {
	content := "@flour{500%g}\n@sugar{200%g}\n\nMix ingredients."

	h1 := Calculate("Chocolate Cake", strPtr(content))
	h2 := Calculate("chocolate  cake", strPtr(content))
	h3 := Calculate("  CHOCOLATE CAKE  ", strPtr(content))

	if h1 != h2 {
		t.Errorf("大文字小文字と空白の差のみのタイトルは同一ハッシュになるべき: %s != %s", h1, h2)
	}
	if h1 != h3 {
		t.Errorf("前後空白の差のみのタイトルは同一ハッシュになるべき: %s != %s", h1, h3)
	}
}

func TestCalculate_StableAcrossComments(t *testing.T) {
	base := "@flour{500%g}\n@sugar{200%g}\n\nMix ingredients."
	withLineComment := "@flour{500%g} -- use strong flour\n@sugar{200%g}\n\nMix ingredients."
	withBlockComment := "[- draft note -]@flour{500%g}\n@sugar{200%g}\n\nMix ingredients."

	h1 := Calculate("Chocolate Cake", strPtr(base))
	h2 := Calculate("Chocolate Cake", strPtr(withLineComment))
	h3 := Calculate("Chocolate Cake", strPtr(withBlockComment))

	if h1 != h2 {
		t.Errorf("行コメントの差のみの本文は同一ハッシュになるべき: %s != %s", h1, h2)
	}
	if h1 != h3 {
		t.Errorf("ブロックコメントの差のみの本文は同一ハッシュになるべき: %s != %s", h1, h3)
	}
}

func TestCalculate_StableAcrossBlankLineRuns(t *testing.T) {
	sparse := "@flour{500%g}\n\nMix ingredients."
	verySparse := "@flour{500%g}\n\n\n\n\nMix ingredients."

	h1 := Calculate("Cake", strPtr(sparse))
	h2 := Calculate("Cake", strPtr(verySparse))

	if h1 != h2 {
		t.Errorf("連続空行数の差のみの本文は同一ハッシュになるべき: %s != %s", h1, h2)
	}
}

func TestCalculate_DiffersWhenQuantityDiffers(t *testing.T) {
	h1 := Calculate("Chocolate Cake", strPtr("@flour{500%g}\n@sugar{200%g}"))
	h2 := Calculate("Chocolate Cake", strPtr("@flour{400%g}\n@sugar{200%g}"))

	if h1 == h2 {
		t.Error("材料の分量が異なる本文は異なるハッシュになるべき")
	}
}

func TestCalculate_DiffersWhenTitleDiffers(t *testing.T) {
	content := "@flour{500%g}"

	h1 := Calculate("Chocolate Cake", strPtr(content))
	h2 := Calculate("Vanilla Cake", strPtr(content))

	if h1 == h2 {
		t.Error("タイトルが異なるレシピは異なるハッシュになるべき")
	}
}

func TestCalculate_NilContent(t *testing.T) {
	h1 := Calculate("Chocolate Cake", nil)
	h2 := Calculate("Chocolate Cake", nil)
	h3 := Calculate("Chocolate Cake", strPtr(""))

	if h1 != h2 {
		t.Error("content=nilでも決定的なハッシュを返すべき")
	}
	if h1 == h3 {
		t.Error("nilと空文字列のcontentは区別されるべき")
	}
}

func TestNormalizeContent_RemovesTrailingWhitespace(t *testing.T) {
	got := NormalizeContent("Mix ingredients.   \nBake.")
	want := "Mix ingredients.\nBake."
	if got != want {
		t.Errorf("NormalizeContent = %q, want %q", got, want)
	}
}

func TestNormalizeContent_MultilineBlockComment(t *testing.T) {
	got := NormalizeContent("Mix.\n[- this\nspans\nlines -]\nBake.")
	want := "Mix.\n\nBake."
	if got != want {
		t.Errorf("NormalizeContent = %q, want %q", got, want)
	}
}
