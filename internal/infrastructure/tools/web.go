package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/Nyukimin/taskrelay/internal/domain/llm"
	"github.com/Nyukimin/taskrelay/internal/infrastructure/retry"
)

const (
	WebSearchTool = "web_search"
	WebFetchTool  = "web_fetch"

	defaultSearchURL  = "https://html.duckduckgo.com/html/"
	defaultMaxResults = 5
	userAgent         = "Mozilla/5.0 (compatible; taskrelay/1.0)"
)

// SearchResult は検索結果1件
type SearchResult struct {
	Title   string
	URL     string
	Snippet string
}

type webSearchInput struct {
	Query string `json:"query" jsonschema:"required" jsonschema_description:"Search query"`
}

type webFetchInput struct {
	URL string `json:"url" jsonschema:"required" jsonschema_description:"Absolute http(s) URL to fetch"`
}

// WebTools はWeb検索とページ取得のツール
type WebTools struct {
	client     *http.Client
	searchURL  string
	maxResults int
}

// NewWebTools は新しいWebToolsを作成（searchURLが空ならDuckDuckGo HTML版）
func NewWebTools(searchURL string, maxResults int) *WebTools {
	if searchURL == "" {
		searchURL = defaultSearchURL
	}
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	return &WebTools{
		client:     &http.Client{Timeout: 15 * time.Second},
		searchURL:  searchURL,
		maxResults: maxResults,
	}
}

// Register はweb_searchとweb_fetchをrunnerに登録
func (w *WebTools) Register(r *ToolRunner) {
	def := w.SearchDefinition()
	r.Register(def.Name, def.Description, def.InputSchema, w.ExecuteSearch)
	r.Register(WebFetchTool, "Fetch a web page and return its readable text.", schemaFor(&webFetchInput{}), w.executeFetch)
}

// SearchDefinition はweb_searchのツール定義
func (w *WebTools) SearchDefinition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        WebSearchTool,
		Description: "Search the web and return the top results with titles, URLs and snippets.",
		InputSchema: schemaFor(&webSearchInput{}),
	}
}

// ExecuteSearch はweb_searchツールを実行
func (w *WebTools) ExecuteSearch(ctx context.Context, input json.RawMessage) (string, error) {
	var in webSearchInput
	if err := json.Unmarshal(input, &in); err != nil || strings.TrimSpace(in.Query) == "" {
		return "", fmt.Errorf("'query' argument is required and must be a string")
	}
	results, err := w.Search(ctx, in.Query)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "No results found.", nil
	}

	var b strings.Builder
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(&b, "   %s\n", r.Snippet)
		}
	}
	return b.String(), nil
}

// Search はDuckDuckGo HTML版を検索する
func (w *WebTools) Search(ctx context.Context, query string) ([]SearchResult, error) {
	u := w.searchURL + "?q=" + url.QueryEscape(query)
	doc, err := w.get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("web search: %w", err)
	}

	var results []SearchResult
	doc.Find(".result").EachWithBreak(func(i int, s *goquery.Selection) bool {
		link := s.Find("a.result__a").First()
		title := strings.TrimSpace(link.Text())
		href, _ := link.Attr("href")
		if title == "" || href == "" {
			return true
		}
		results = append(results, SearchResult{
			Title:   title,
			URL:     resolveResultURL(href),
			Snippet: collapseSpaces(s.Find(".result__snippet").Text()),
		})
		return len(results) < w.maxResults
	})
	return results, nil
}

// executeFetch はページを取得して本文テキストを返す
func (w *WebTools) executeFetch(ctx context.Context, input json.RawMessage) (string, error) {
	var in webFetchInput
	if err := json.Unmarshal(input, &in); err != nil || in.URL == "" {
		return "", fmt.Errorf("'url' argument is required and must be a string")
	}
	parsed, err := url.Parse(in.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return "", fmt.Errorf("invalid url: %s", in.URL)
	}

	doc, err := w.get(ctx, in.URL)
	if err != nil {
		return "", fmt.Errorf("web fetch: %w", err)
	}
	doc.Find("script, style, noscript, nav, footer").Remove()

	title := strings.TrimSpace(doc.Find("title").First().Text())
	text := collapseSpaces(doc.Find("body").Text())
	if title != "" {
		text = title + "\n\n" + text
	}
	return truncate(text), nil
}

func (w *WebTools) get(ctx context.Context, u string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, retry.NewStatusError(resp.StatusCode, resp.Header, fmt.Errorf("unexpected status from %s", req.URL.Host))
	}
	return goquery.NewDocumentFromReader(resp.Body)
}

// resolveResultURL はDuckDuckGoのリダイレクトURLから実URLを取り出す
func resolveResultURL(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
