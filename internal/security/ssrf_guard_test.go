package security

import (
	"testing"
	"time"
)

func TestValidateURL(t *testing.T) {
	g := NewSSRFGuard()

	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"通常のhttps URL", "https://recipes.example.com/feed.xml", false},
		{"通常のhttp URL", "http://recipes.example.com/feed.xml", false},
		{"空URL", "", true},
		{"ftpスキーム", "ftp://example.com/feed.xml", true},
		{"fileスキーム", "file:///etc/passwd", true},
		{"localhost", "http://localhost/feed.xml", true},
		{"ループバックIP", "http://127.0.0.1/feed.xml", true},
		{"プライベートIP 10系", "http://10.0.0.5/feed.xml", true},
		{"プライベートIP 192.168系", "http://192.168.1.1/feed.xml", true},
		{"リンクローカル（メタデータIP）", "http://169.254.169.254/latest/meta-data/", true},
		{"IPv6ループバック", "http://[::1]/feed.xml", true},
		{"ホストなし", "https:///feed.xml", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestNewSafeClient(t *testing.T) {
	g := NewSSRFGuard()

	client := g.NewSafeClient(10 * time.Second)
	if client == nil {
		t.Fatal("NewSafeClientがnilを返しました")
	}
	if client.Timeout != 10*time.Second {
		t.Errorf("タイムアウトが設定されていません: got %v", client.Timeout)
	}
}
