package github

import (
	"testing"

	"github.com/hitoshi/cookfed/internal/model"
)

func TestParseRepositoryURL(t *testing.T) {
	tests := []struct {
		name      string
		url       string
		wantOwner string
		wantRepo  string
		wantErr   bool
	}{
		{
			name:      "標準的なリポジトリURL",
			url:       "https://github.com/alice/recipes",
			wantOwner: "alice",
			wantRepo:  "recipes",
		},
		{
			name:      "末尾の.gitを除去する",
			url:       "https://github.com/alice/recipes.git",
			wantOwner: "alice",
			wantRepo:  "recipes",
		},
		{
			name:      "末尾スラッシュを許容する",
			url:       "https://github.com/alice/recipes/",
			wantOwner: "alice",
			wantRepo:  "recipes",
		},
		{
			name:      "サブパスつきURLはowner/repoのみ取り出す",
			url:       "https://github.com/alice/recipes/tree/main/breakfast",
			wantOwner: "alice",
			wantRepo:  "recipes",
		},
		{
			name:      "前後の空白は無視する",
			url:       "  https://github.com/alice/recipes  ",
			wantOwner: "alice",
			wantRepo:  "recipes",
		},
		{
			name:    "github.com以外のホストは拒否する",
			url:     "https://gitlab.com/alice/recipes",
			wantErr: true,
		},
		{
			name:    "owner単独のパスは拒否する",
			url:     "https://github.com/alice",
			wantErr: true,
		},
		{
			name:    "ssh形式は拒否する",
			url:     "git@github.com:alice/recipes.git",
			wantErr: true,
		},
		{
			name:    "空文字列は拒否する",
			url:     "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			owner, repo, err := ParseRepositoryURL(tt.url)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("エラーが返るべきですが nil でした: %s", tt.url)
				}
				if model.KindOf(err) != model.ErrKindValidation {
					t.Errorf("エラー種別が期待と異なります: got=%s", model.KindOf(err))
				}
				return
			}
			if err != nil {
				t.Fatalf("予期しないエラー: %v", err)
			}
			if owner != tt.wantOwner || repo != tt.wantRepo {
				t.Errorf("解析結果が期待と異なります: got=%s/%s want=%s/%s",
					owner, repo, tt.wantOwner, tt.wantRepo)
			}
		})
	}
}
