// Package extract 从网页中提取可读正文，去除导航、广告等模板内容。
// 提取是尽力而为的：任何失败都返回零值，不向调用方报错。
package extract

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"

	"github.com/cliffyan/local-websearch-mcp/internal/config"
)

// PageContent 单个页面的提取结果
type PageContent struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Text        string `json:"text,omitempty"`
}

// IsEmpty 是否没有提取到任何内容
func (p PageContent) IsEmpty() bool {
	return p.Title == "" && p.Description == "" && p.Text == ""
}

// Extractor 页面正文提取器
type Extractor struct {
	client               *http.Client
	minContentLength     int
	maxContentLength     int
	maxDescriptionLength int
}

// 噪音节点，主提取和兜底提取前都先删掉
var boilerplateSelectors = []string{
	"script", "style", "noscript", "template",
	"nav", "header", "footer", "aside", "form", "iframe",
	"[role=navigation]", "[role=banner]", "[role=complementary]",
	".sidebar", ".advertisement", ".ads", ".cookie-banner",
}

// 正文容器候选，按优先级尝试
var contentSelectors = []string{
	"article",
	"main",
	"[role=main]",
	"#content",
	".post-content",
	".entry-content",
	".article-body",
}

// New 创建提取器
func New(cfg config.ExtractConfig, proxyURL string) *Extractor {
	transport := &http.Transport{}
	if proxyURL != "" {
		if proxy, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(proxy)
		}
	}

	return &Extractor{
		client: &http.Client{
			Timeout:   time.Duration(cfg.TimeoutSeconds) * time.Second,
			Transport: transport,
		},
		minContentLength:     cfg.MinContentLength,
		maxContentLength:     cfg.MaxContentLength,
		maxDescriptionLength: cfg.MaxDescriptionLength,
	}
}

// Extract 抓取页面并提取正文。失败时返回零值 PageContent，不返回错误
func (x *Extractor) Extract(ctx context.Context, pageURL string) PageContent {
	html, err := x.fetch(ctx, pageURL)
	if err != nil {
		log.Warn().Err(err).Str("url", pageURL).Msg("⚠️ Content fetch failed")
		return PageContent{}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		log.Warn().Err(err).Str("url", pageURL).Msg("⚠️ Content parse failed")
		return PageContent{}
	}

	doc.Find(strings.Join(boilerplateSelectors, ", ")).Remove()

	content := PageContent{
		Title:       strings.TrimSpace(doc.Find("title").First().Text()),
		Description: x.metaDescription(doc),
	}

	// 主提取：正文容器内按文本密度收集段落
	content.Text = x.extractMainText(doc)

	// 主提取内容太少时用结构化兜底（标题 + meta 描述 + 前几段）
	if len(content.Text) < x.minContentLength {
		fallback := x.extractFallbackText(doc)
		if len(fallback) > len(content.Text) {
			log.Debug().Str("url", pageURL).Int("primary_len", len(content.Text)).Msg("📄 Falling back to structural extraction")
			content.Text = fallback
		}
	}

	content.Description = truncate(content.Description, x.maxDescriptionLength)
	content.Text = truncate(content.Text, x.maxContentLength)

	return content
}

// fetch 抓取页面 HTML
func (x *Extractor) fetch(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := x.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("unexpected status code %d", resp.StatusCode)
	}

	// 限制读取体积，避免超大页面撑爆内存
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", err
	}

	return string(body), nil
}

// metaDescription 读取 meta 描述
func (x *Extractor) metaDescription(doc *goquery.Document) string {
	for _, sel := range []string{`meta[name=description]`, `meta[property="og:description"]`} {
		if val, ok := doc.Find(sel).First().Attr("content"); ok {
			if v := strings.TrimSpace(val); v != "" {
				return v
			}
		}
	}
	return ""
}

// extractMainText 主提取：在正文容器内收集低链接密度的文本块
func (x *Extractor) extractMainText(doc *goquery.Document) string {
	root := doc.Selection
	for _, sel := range contentSelectors {
		if found := doc.Find(sel); found.Length() > 0 {
			root = found.First()
			break
		}
	}

	var parts []string
	root.Find("p, h1, h2, h3, li, blockquote, pre").Each(func(i int, s *goquery.Selection) {
		text := collapseWhitespace(s.Text())
		if len(text) < 25 {
			return
		}
		if linkDensity(s) > 0.5 {
			// 链接占比过高的块多半是导航或推荐位
			return
		}
		parts = append(parts, text)
	})

	return strings.Join(parts, "\n")
}

// extractFallbackText 结构化兜底：全文前几个段落
func (x *Extractor) extractFallbackText(doc *goquery.Document) string {
	var parts []string
	doc.Find("p").EachWithBreak(func(i int, s *goquery.Selection) bool {
		text := collapseWhitespace(s.Text())
		if text != "" {
			parts = append(parts, text)
		}
		return len(parts) < 3
	})
	return strings.Join(parts, " ")
}

// linkDensity 文本块中链接文字占比
func linkDensity(s *goquery.Selection) float64 {
	total := len(strings.TrimSpace(s.Text()))
	if total == 0 {
		return 0
	}
	linked := 0
	s.Find("a").Each(func(i int, a *goquery.Selection) {
		linked += len(strings.TrimSpace(a.Text()))
	})
	return float64(linked) / float64(total)
}

// collapseWhitespace 压缩连续空白
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncate 按字符截断，避免把多字节字符切坏
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
