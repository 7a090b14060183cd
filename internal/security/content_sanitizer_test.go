package security

import (
	"strings"
	"testing"
)

func TestSanitize_RemovesScript(t *testing.T) {
	s := NewContentSanitizer()

	input := `<p>おいしいカレーの作り方</p><script>alert("xss")</script>`
	got := s.Sanitize(input)

	if strings.Contains(got, "script") {
		t.Errorf("scriptタグが除去されていません: %q", got)
	}
	if !strings.Contains(got, "おいしいカレーの作り方") {
		t.Errorf("本文テキストが失われています: %q", got)
	}
}

func TestSanitize_RemovesEventAttributes(t *testing.T) {
	s := NewContentSanitizer()

	input := `<p onclick="evil()">手順</p>`
	got := s.Sanitize(input)

	if strings.Contains(got, "onclick") {
		t.Errorf("on*イベント属性が除去されていません: %q", got)
	}
}

func TestSanitize_ImgHTTPSOnly(t *testing.T) {
	s := NewContentSanitizer()

	tests := []struct {
		name    string
		input   string
		wantSrc bool
	}{
		{"httpsのsrcは許可", `<img src="https://example.com/curry.jpg" alt="カレー">`, true},
		{"httpのsrcは拒否", `<img src="http://example.com/curry.jpg">`, false},
		{"javascriptスキームは拒否", `<img src="javascript:alert(1)">`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.Sanitize(tt.input)
			hasSrc := strings.Contains(got, "src=")
			if hasSrc != tt.wantSrc {
				t.Errorf("Sanitize(%q) = %q, src有無 got %v, want %v", tt.input, got, hasSrc, tt.wantSrc)
			}
		})
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	s := NewContentSanitizer()

	input := `<p>焼き時間は<strong>30分</strong></p><iframe src="https://evil.example"></iframe>`
	once := s.Sanitize(input)
	twice := s.Sanitize(once)

	if once != twice {
		t.Errorf("サニタイズが冪等ではありません: once=%q twice=%q", once, twice)
	}
}

func TestSanitize_Empty(t *testing.T) {
	s := NewContentSanitizer()
	if got := s.Sanitize(""); got != "" {
		t.Errorf("空入力に対して空文字列以外が返されました: %q", got)
	}
}
