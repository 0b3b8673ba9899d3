package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
)

// BingEngine Bing 搜索引擎实现（静态页面抓取）
type BingEngine struct {
	client *http.Client
}

// NewBingEngine 创建 Bing 搜索引擎实例
func NewBingEngine(proxyURL string) *BingEngine {
	jar, _ := cookiejar.New(nil)

	transport := &http.Transport{}
	if proxyURL != "" {
		if proxy, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(proxy)
		}
	}

	return &BingEngine{
		client: &http.Client{
			Timeout:   30 * time.Second,
			Jar:       jar,
			Transport: transport,
		},
	}
}

// Name 返回引擎名称
func (e *BingEngine) Name() string {
	return "bing"
}

// Search 执行 Bing 搜索，结果不足时翻页
// Region 和 TimeLimit 参数不支持，直接忽略
func (e *BingEngine) Search(ctx context.Context, q SearchQuery) ([]SearchResult, error) {
	var allResults []SearchResult
	page := 0

	for len(allResults) < q.Limit {
		results, err := e.searchPage(ctx, q.Text, page)
		if err != nil {
			if len(allResults) > 0 {
				// 已经拿到部分结果就直接返回
				break
			}
			return nil, err
		}

		if len(results) == 0 {
			break
		}

		allResults = append(allResults, results...)
		page++

		if page > 5 {
			break
		}
	}

	if len(allResults) > q.Limit {
		allResults = allResults[:q.Limit]
	}

	return allResults, nil
}

// searchPage 抓取单页结果
func (e *BingEngine) searchPage(ctx context.Context, query string, page int) ([]SearchResult, error) {
	// 使用国际版避免地区重定向
	searchURL := fmt.Sprintf("https://www.bing.com/search?q=%s&first=%d&setlang=en",
		url.QueryEscape(query), 1+page*10)

	req, err := http.NewRequestWithContext(ctx, "GET", searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}

	e.setHeaders(req)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: unexpected status code %d", ErrSearchUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body failed: %v", ErrSearchUnavailable, err)
	}

	bodyStr := string(body)
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(bodyStr))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailed, err)
	}

	results := e.parseResults(doc)

	// 标准解析没有结果时尝试正则提取
	if len(results) == 0 && doc.Find("#b_results").Length() == 0 {
		log.Warn().Int("page", page).Msg("⚠️ Bing standard parsing found no results, trying regex extraction")
		results = e.extractResultsWithRegex(bodyStr)
		if len(results) == 0 {
			return nil, fmt.Errorf("%w: no result containers in %d bytes of markup", ErrParseFailed, len(body))
		}
	}

	log.Info().Int("page", page).Int("count", len(results)).Msg("🔍 Bing page parsed")
	return results, nil
}

// setHeaders 设置浏览器化请求头
func (e *BingEngine) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("Sec-Fetch-Dest", "document")
	req.Header.Set("Sec-Fetch-Mode", "navigate")
	req.Header.Set("Sec-Fetch-Site", "none")
	req.Header.Set("Sec-Fetch-User", "?1")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
}

// parseResults 解析搜索结果
func (e *BingEngine) parseResults(doc *goquery.Document) []SearchResult {
	var results []SearchResult

	// 尝试多种选择器
	selectors := []string{
		"li.b_algo",
		"#b_results > li.b_algo",
		".b_algo",
	}

	for _, selector := range selectors {
		doc.Find(selector).Each(func(i int, s *goquery.Selection) {
			titleEl := s.Find("h2")
			linkEl := s.Find("h2 a")

			if titleEl.Length() == 0 || linkEl.Length() == 0 {
				return
			}

			href, exists := linkEl.Attr("href")
			if !exists || !strings.HasPrefix(href, "http") {
				return
			}

			snippet := ""
			descSelectors := []string{".b_caption p", "p", ".b_algoSlug"}
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
			citeEl := s.Find("cite")
			if citeEl.Length() > 0 {
				source = strings.TrimSpace(citeEl.First().Text())
			}

			results = append(results, SearchResult{
				Title:   strings.TrimSpace(titleEl.Text()),
				URL:     href,
				Snippet: snippet,
				Source:  source,
				Engine:  "bing",
			})
		})

		if len(results) > 0 {
			break
		}
	}

	return results
}

// extractResultsWithRegex 使用正则表达式提取结果（备用方案）
func (e *BingEngine) extractResultsWithRegex(html string) []SearchResult {
	var results []SearchResult

	urlPattern := regexp.MustCompile(`<a[^>]*href="(https?://[^"]+)"[^>]*>([^<]+)</a>`)
	matches := urlPattern.FindAllStringSubmatch(html, -1)

	seen := make(map[string]bool)
	for _, match := range matches {
		if len(match) < 3 {
			continue
		}

		href := match[1]
		title := strings.TrimSpace(match[2])

		// 过滤掉 Bing 自身的链接和空标题
		if strings.Contains(href, "bing.com") ||
			strings.Contains(href, "microsoft.com") ||
			title == "" ||
			seen[href] {
			continue
		}

		if !strings.HasPrefix(href, "http") {
			continue
		}

		seen[href] = true
		results = append(results, SearchResult{
			Title:  title,
			URL:    href,
			Engine: "bing",
		})

		if len(results) >= 10 {
			break
		}
	}

	return results
}
