package profile

import "regexp"

// Triggers は高速分類に使うトリガー情報
type Triggers struct {
	Keywords []string
	Patterns []*regexp.Regexp
}

// ToolProfile はツール束とトリガーをまとめた名前付きプロファイル
type ToolProfile struct {
	ID          string
	Description string
	ToolIDs     []string
	Triggers    Triggers
}

// HasTool はプロファイルが指定ツールを含むかを判定
func (p ToolProfile) HasTool(id string) bool {
	for _, t := range p.ToolIDs {
		if t == id {
			return true
		}
	}
	return false
}
