package profile

import (
	"fmt"
	"regexp"
	"sort"
)

// ConnectionType はツール接続の種別
type ConnectionType string

const (
	ConnectionRemoteHTTP ConnectionType = "remote-http"
	ConnectionSubprocess ConnectionType = "subprocess"
)

// IsValid は定義済みの接続種別かを判定
func (c ConnectionType) IsValid() bool {
	return c == ConnectionRemoteHTTP || c == ConnectionSubprocess
}

var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ToolDescriptor はツール接続の記述子
type ToolDescriptor struct {
	ID               string
	Type             ConnectionType
	URL              string            // remote-http
	Headers          map[string]string // remote-http
	Command          string            // subprocess
	Args             []string          // subprocess
	Env              map[string]string // subprocess
	AuthPlaceholders []string          // 解決必須の環境変数名
}

// Validate は記述子の妥当性を検証
func (d ToolDescriptor) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("tool id is required")
	}
	switch d.Type {
	case ConnectionRemoteHTTP:
		if d.URL == "" {
			return fmt.Errorf("tool %s: url is required for %s", d.ID, d.Type)
		}
	case ConnectionSubprocess:
		if d.Command == "" {
			return fmt.Errorf("tool %s: command is required for %s", d.ID, d.Type)
		}
	default:
		return fmt.Errorf("tool %s: unknown type %q", d.ID, d.Type)
	}
	return nil
}

// Resolve は${VAR}プレースホルダーをenvで置換した新しい記述子を返す
// 未定義の変数名はmissingとして返す（記述子自体は置換可能な範囲で解決済み）
func (d ToolDescriptor) Resolve(env map[string]string) (ToolDescriptor, []string) {
	missingSet := make(map[string]struct{})
	sub := func(s string) string {
		return placeholderPattern.ReplaceAllStringFunc(s, func(m string) string {
			name := placeholderPattern.FindStringSubmatch(m)[1]
			v, ok := env[name]
			if !ok {
				missingSet[name] = struct{}{}
				return m
			}
			return v
		})
	}

	out := d
	out.URL = sub(d.URL)
	out.Command = sub(d.Command)
	if d.Args != nil {
		out.Args = make([]string, len(d.Args))
		for i, a := range d.Args {
			out.Args[i] = sub(a)
		}
	}
	out.Headers = subMap(d.Headers, sub)
	out.Env = subMap(d.Env, sub)

	for _, name := range d.AuthPlaceholders {
		if _, ok := env[name]; !ok {
			missingSet[name] = struct{}{}
		}
	}

	missing := make([]string, 0, len(missingSet))
	for name := range missingSet {
		missing = append(missing, name)
	}
	sort.Strings(missing)
	return out, missing
}

func subMap(in map[string]string, sub func(string) string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = sub(v)
	}
	return out
}
