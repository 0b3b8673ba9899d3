package engine

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog/log"
)

// BrowserGoogleEngine 使用无头浏览器的 Google 搜索引擎
// Google 的静态页面对无 JS 客户端返回验证页，必须走浏览器
type BrowserGoogleEngine struct {
	proxyURL string
	headless bool
	timeout  time.Duration
}

// NewBrowserGoogleEngine 创建浏览器版 Google 搜索引擎
func NewBrowserGoogleEngine(proxyURL string, headless bool) *BrowserGoogleEngine {
	return &BrowserGoogleEngine{
		proxyURL: proxyURL,
		headless: headless,
		timeout:  60 * time.Second,
	}
}

// Name 返回引擎名称
func (e *BrowserGoogleEngine) Name() string {
	return "browser_google"
}

// Search 使用浏览器执行 Google 搜索
// Region 和 TimeLimit 参数不支持，直接忽略
func (e *BrowserGoogleEngine) Search(ctx context.Context, q SearchQuery) ([]SearchResult, error) {
	bm := GetBrowserManager()
	if err := bm.Initialize(e.proxyURL, e.headless); err != nil {
		return nil, fmt.Errorf("%w: browser init failed: %v", ErrSearchUnavailable, err)
	}

	var allResults []SearchResult
	page := 0

	for len(allResults) < q.Limit && page < 3 {
		results, err := e.searchPage(ctx, q.Text, page)
		if err != nil {
			if len(allResults) > 0 {
				break
			}
			return nil, err
		}

		if len(results) == 0 {
			break
		}

		allResults = append(allResults, results...)
		page++
	}

	if len(allResults) > q.Limit {
		allResults = allResults[:q.Limit]
	}

	return allResults, nil
}

// searchPage 抓取单页
func (e *BrowserGoogleEngine) searchPage(ctx context.Context, query string, page int) ([]SearchResult, error) {
	bm := GetBrowserManager()

	tabCtx, cancel := bm.NewTabContext(e.timeout)
	defer cancel()

	searchURL := fmt.Sprintf("https://www.google.com/search?q=%s&start=%d&hl=en",
		url.QueryEscape(query), page*10)

	var html string

	log.Debug().Str("url", searchURL).Msg("🌐 [BrowserGoogle] Navigating")

	err := chromedp.Run(tabCtx,
		chromedp.Navigate(searchURL),

		// 等待搜索结果容器
		chromedp.WaitReady("#search", chromedp.ByID),
		chromedp.Sleep(2*time.Second),

		// 滚动触发懒加载
		chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight / 2)`, nil),
		chromedp.Sleep(500*time.Millisecond),

		chromedp.OuterHTML("html", &html),
	)

	if err != nil {
		return nil, fmt.Errorf("%w: browser navigation failed: %v", ErrSearchUnavailable, err)
	}

	results, err := e.parseHTML(html)
	if err != nil {
		return nil, err
	}

	log.Info().Int("page", page).Int("count", len(results)).Msg("✅ [BrowserGoogle] page parsed")
	return results, nil
}

// parseHTML 解析 HTML 提取搜索结果
func (e *BrowserGoogleEngine) parseHTML(html string) ([]SearchResult, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailed, err)
	}

	var results []SearchResult

	// Google 结果容器有多种形态
	selectors := []string{
		"div.g",
		"div[data-ved]",
		"div.Gx5Zad",
	}

	for _, selector := range selectors {
		doc.Find(selector).Each(func(i int, s *goquery.Selection) {
			// 避免嵌套容器重复
			if s.Find("div.g").Length() > 0 && selector != "div.g" {
				return
			}

			linkEl := s.Find("a[href]").First()
			if linkEl.Length() == 0 {
				return
			}

			href, exists := linkEl.Attr("href")
			if !exists {
				return
			}

			// 过滤 Google 内部链接
			if !strings.HasPrefix(href, "http") ||
				strings.Contains(href, "google.com") ||
				strings.Contains(href, "webcache.googleusercontent.com") {
				return
			}

			title := ""
			if titleEl := s.Find("h3"); titleEl.Length() > 0 {
				title = strings.TrimSpace(titleEl.First().Text())
			}
			if title == "" {
				return
			}

			snippet := ""
			descSelectors := []string{
				"div[data-sncf]",
				"div.VwiC3b",
				"span.aCOpRe",
				"div.IsZvec",
			}
			for _, descSel := range descSelectors {
				descEl := s.Find(descSel)
				if descEl.Length() > 0 {
					snippet = strings.TrimSpace(descEl.First().Text())
					if snippet != "" {
						break
					}
				}
			}

			source := ""
			if citeEl := s.Find("cite"); citeEl.Length() > 0 {
				source = strings.TrimSpace(citeEl.First().Text())
			}

			results = append(results, SearchResult{
				Title:   title,
				URL:     href,
				Snippet: snippet,
				Source:  source,
				Engine:  "browser_google",
			})
		})

		if len(results) > 0 {
			break
		}
	}

	// 去重
	seen := make(map[string]bool)
	uniqueResults := make([]SearchResult, 0, len(results))
	for _, r := range results {
		if !seen[r.URL] {
			seen[r.URL] = true
			uniqueResults = append(uniqueResults, r)
		}
	}

	return uniqueResults, nil
}
