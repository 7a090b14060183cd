package github

// Repository はGitHub APIのリポジトリ表現。必要なフィールドのみ保持する。
type Repository struct {
	ID            int64  `json:"id"`
	FullName      string `json:"full_name"`
	Description   string `json:"description"`
	DefaultBranch string `json:"default_branch"`
	Archived      bool   `json:"archived"`
	HTMLURL       string `json:"html_url"`
	Owner         Owner  `json:"owner"`
}

// Owner はリポジトリの所有者。
type Owner struct {
	Login string `json:"login"`
}

// Commit はコミットAPIのレスポンス。
type Commit struct {
	SHA    string       `json:"sha"`
	Commit CommitDetail `json:"commit"`
}

// CommitDetail はコミットのメタデータ。
type CommitDetail struct {
	Message string  `json:"message"`
	Tree    TreeRef `json:"tree"`
}

// TreeRef はツリーオブジェクトへの参照。
type TreeRef struct {
	SHA string `json:"sha"`
}

// Tree はgit treeオブジェクト。recursive=1で取得するとサブディレクトリ配下の
// エントリもフラットに含まれる。
type Tree struct {
	SHA       string      `json:"sha"`
	Truncated bool        `json:"truncated"`
	Entries   []TreeEntry `json:"tree"`
}

// TreeEntry はツリー内の1エントリ。Typeはblob/tree/commitのいずれか。
type TreeEntry struct {
	Path string `json:"path"`
	Mode string `json:"mode"`
	Type string `json:"type"`
	SHA  string `json:"sha"`
	Size int64  `json:"size"`
}
