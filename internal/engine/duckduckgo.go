package engine

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
)

// DuckDuckGoEngine DuckDuckGo HTML 版搜索引擎（默认引擎）
type DuckDuckGoEngine struct {
	client  *http.Client
	baseURL string
}

// NewDuckDuckGoEngine 创建 DuckDuckGo 搜索引擎实例
func NewDuckDuckGoEngine(proxyURL string) *DuckDuckGoEngine {
	jar, _ := cookiejar.New(nil)

	transport := &http.Transport{}
	if proxyURL != "" {
		if proxy, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(proxy)
		}
	}

	return &DuckDuckGoEngine{
		client: &http.Client{
			Timeout:   30 * time.Second,
			Jar:       jar,
			Transport: transport,
		},
		baseURL: "https://html.duckduckgo.com/html/",
	}
}

// Name 返回引擎名称
func (e *DuckDuckGoEngine) Name() string {
	return "duckduckgo"
}

// Search 执行 DuckDuckGo 搜索
func (e *DuckDuckGoEngine) Search(ctx context.Context, q SearchQuery) ([]SearchResult, error) {
	params := url.Values{}
	params.Set("q", q.Text)
	if q.Region != "" {
		params.Set("kl", q.Region)
	}
	if q.TimeLimit != "" {
		params.Set("df", q.TimeLimit)
	}
	searchURL := e.baseURL + "?" + params.Encode()

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

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseFailed, err)
	}

	// 页面结构完全对不上（没有结果容器也没有空结果标记）说明引擎改版了
	if doc.Find(".result").Length() == 0 && doc.Find(".serp__results, #links, .no-results").Length() == 0 &&
		doc.Find("body").Length() > 0 && strings.TrimSpace(doc.Find("body").Text()) != "" {
		log.Warn().Int("body_size", len(body)).Msg("⚠️ DuckDuckGo page layout not recognized")
		return nil, fmt.Errorf("%w: no result containers in %d bytes of markup", ErrParseFailed, len(body))
	}

	results := e.parseResults(doc, q.Limit)
	log.Info().Str("query", q.Text).Int("count", len(results)).Msg("🔍 DuckDuckGo search done")

	return results, nil
}

// setHeaders 设置浏览器化请求头
func (e *DuckDuckGoEngine) setHeaders(req *http.Request) {
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Cache-Control", "no-cache")
}

// parseResults 解析搜索结果
func (e *DuckDuckGoEngine) parseResults(doc *goquery.Document, limit int) []SearchResult {
	var results []SearchResult

	doc.Find(".result").Each(func(i int, s *goquery.Selection) {
		if len(results) >= limit {
			return
		}

		titleEl := s.Find(".result__title")
		linkEl := s.Find(".result__a")

		if titleEl.Length() == 0 || linkEl.Length() == 0 {
			return
		}

		href, exists := linkEl.Attr("href")
		if !exists {
			return
		}

		href = decodeRedirectURL(href)
		if href == "" || !strings.HasPrefix(href, "http") {
			return
		}

		snippet := ""
		if descEl := s.Find(".result__snippet"); descEl.Length() > 0 {
			snippet = strings.TrimSpace(descEl.Text())
		}

		source := ""
		if sourceEl := s.Find(".result__url"); sourceEl.Length() > 0 {
			source = strings.TrimSpace(sourceEl.Text())
		}

		results = append(results, SearchResult{
			Title:   strings.TrimSpace(titleEl.Text()),
			URL:     href,
			Snippet: snippet,
			Source:  source,
			Engine:  "duckduckgo",
		})
	})

	return results
}

// decodeRedirectURL 解码 DuckDuckGo 的 uddg 跳转链接
func decodeRedirectURL(href string) string {
	if !strings.Contains(href, "uddg=") {
		return href
	}

	raw := href
	if strings.HasPrefix(raw, "//") {
		raw = "https:" + raw
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return href
	}
	if target := parsed.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}
