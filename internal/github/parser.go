package github

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/hitoshi/cookfed/internal/model"
)

// ParseRepositoryURL はGitHubリポジトリURLからowner/repoを取り出す。
// https://github.com/owner/repo 形式のみ受け付け、末尾の.gitは除去する。
func ParseRepositoryURL(rawURL string) (owner, repo string, err error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", "", model.WrapError(model.ErrKindValidation, "リポジトリURLのパースに失敗しました", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return "", "", model.NewError(model.ErrKindValidation,
			fmt.Sprintf("サポートされていないスキームです: %s", rawURL))
	}
	if !strings.EqualFold(u.Hostname(), "github.com") {
		return "", "", model.NewError(model.ErrKindValidation,
			fmt.Sprintf("github.com以外のホストはサポートしていません: %s", u.Hostname()))
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", model.NewError(model.ErrKindValidation,
			fmt.Sprintf("owner/repo形式のパスではありません: %s", u.Path))
	}

	owner = parts[0]
	repo = strings.TrimSuffix(parts[1], ".git")
	if repo == "" {
		return "", "", model.NewError(model.ErrKindValidation,
			fmt.Sprintf("リポジトリ名が空です: %s", rawURL))
	}
	return owner, repo, nil
}
