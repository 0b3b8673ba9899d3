package engine

import (
	"context"
	"errors"
)

// 搜索错误类型，调用方使用 errors.Is 区分
var (
	// ErrSearchUnavailable 搜索引擎不可达或返回非 2xx 状态
	ErrSearchUnavailable = errors.New("search engine unavailable")
	// ErrParseFailed 页面可获取但预期的结果结构不存在（引擎改版）
	ErrParseFailed = errors.New("search result markup not recognized")
)

// SearchResult 搜索结果，按引擎排名排序
type SearchResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Source  string `json:"source,omitempty"`
	Engine  string `json:"engine"`
}

// SearchQuery 一次搜索请求的参数
type SearchQuery struct {
	Text      string
	Limit     int
	Region    string // 地区代码，如 wt-wt / us-en / pl-pl
	TimeLimit string // 时间范围：d/w/m/y，空表示不限
}

// SearchEngine 搜索引擎接口
type SearchEngine interface {
	// Name 返回引擎名称
	Name() string
	// Search 执行搜索，最多返回 q.Limit 条结果
	Search(ctx context.Context, q SearchQuery) ([]SearchResult, error)
}
