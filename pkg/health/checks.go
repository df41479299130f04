package health

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// EndpointCheck はHTTPエンドポイントに到達できるかを確認
// 認証なしのGETなので4xxは到達扱い、5xxは異常とする
func EndpointCheck(baseURL string, timeout time.Duration) CheckFunc {
	client := &http.Client{Timeout: timeout}
	return func() (bool, string) {
		resp, err := client.Get(baseURL)
		if err != nil {
			return false, fmt.Sprintf("unreachable: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= http.StatusInternalServerError {
			return false, fmt.Sprintf("status %d", resp.StatusCode)
		}
		return true, "ok"
	}
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// OllamaModelsCheck はOllamaに必要なモデルが入っているかを確認
// baseURLはOpenAI互換の/v1付きでもよい
func OllamaModelsCheck(baseURL string, timeout time.Duration, required []string) CheckFunc {
	client := &http.Client{Timeout: timeout}
	root := strings.TrimSuffix(strings.TrimSuffix(baseURL, "/"), "/v1")
	tagsURL := root + "/api/tags"

	return func() (bool, string) {
		resp, err := client.Get(tagsURL)
		if err != nil {
			return false, fmt.Sprintf("unreachable: %v", err)
		}
		defer resp.Body.Close()

		var tags ollamaTagsResponse
		if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
			return false, fmt.Sprintf("decode error: %v", err)
		}

		installed := make(map[string]bool)
		for _, m := range tags.Models {
			installed[m.Name] = true
			installed[strings.TrimSuffix(m.Name, ":latest")] = true
		}

		var missing []string
		for _, name := range required {
			if !installed[name] {
				missing = append(missing, name)
			}
		}

		if len(missing) > 0 {
			return false, fmt.Sprintf("not installed: %s", strings.Join(missing, ", "))
		}

		return true, fmt.Sprintf("%d/%d models ok", len(required), len(required))
	}
}
