package tools

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nyukimin/taskrelay/internal/infrastructure/retry"
)

const searchPage = `<html><body>
<div class="result">
  <a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2Fdoc%2F&rut=x">Go Documentation</a>
  <a class="result__snippet">The Go   programming language docs.</a>
</div>
<div class="result">
  <a class="result__a" href="https://pkg.go.dev/">Go Packages</a>
  <a class="result__snippet">Discover packages.</a>
</div>
<div class="result">
  <a class="result__a" href="https://example.com/third">Third</a>
</div>
</body></html>`

func TestWebTools_Search(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "golang docs", r.URL.Query().Get("q"))
		w.Write([]byte(searchPage))
	}))
	defer server.Close()

	web := NewWebTools(server.URL, 2)
	results, err := web.Search(context.Background(), "golang docs")
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, "Go Documentation", results[0].Title)
	assert.Equal(t, "https://go.dev/doc/", results[0].URL)
	assert.Equal(t, "The Go programming language docs.", results[0].Snippet)
	assert.Equal(t, "https://pkg.go.dev/", results[1].URL)
}

func TestWebTools_ExecuteSearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(searchPage))
	}))
	defer server.Close()

	web := NewWebTools(server.URL, 0)
	out, err := web.ExecuteSearch(context.Background(), raw(map[string]string{"query": "go"}))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "1. Go Documentation"))
	assert.Contains(t, out, "3. Third")

	_, err = web.ExecuteSearch(context.Background(), raw(map[string]string{"query": " "}))
	assert.Error(t, err)
}

func TestWebTools_SearchRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := NewWebTools(server.URL, 0).Search(context.Background(), "x")
	require.Error(t, err)

	var se *retry.StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusTooManyRequests, se.StatusCode)
}

func TestWebTools_Fetch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>Release Notes</title><script>var x=1;</script></head>
<body><nav>menu</nav><h1>Go 1.25</h1><p>Faster   builds.</p><footer>links</footer></body></html>`))
	}))
	defer server.Close()

	runner, _ := newTestRunner(t)
	NewWebTools(server.URL, 0).Register(runner)

	out, err := runner.Execute(context.Background(), WebFetchTool, raw(map[string]string{"url": server.URL}))
	require.NoError(t, err)

	assert.Equal(t, "Release Notes\n\nGo 1.25 Faster builds.", out)
	assert.True(t, runner.Has(WebSearchTool))
}

func TestWebTools_FetchRejectsNonHTTP(t *testing.T) {
	runner, _ := newTestRunner(t)
	NewWebTools("", 0).Register(runner)

	_, err := runner.Execute(context.Background(), WebFetchTool, raw(map[string]string{"url": "file:///etc/passwd"}))
	assert.Error(t, err)
}
