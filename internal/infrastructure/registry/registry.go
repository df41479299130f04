// Package registry はツールプロファイルとツール記述子のレジストリを提供する
package registry

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/Nyukimin/taskrelay/internal/domain/profile"
	"github.com/Nyukimin/taskrelay/pkg/logger"
)

// DefaultMaxToolsPerProfile はプロファイルあたりのツール数上限のデフォルト値
const DefaultMaxToolsPerProfile = 10

// fileFormat はレジストリYAMLのフォーマット
type fileFormat struct {
	DefaultProfile     string                   `yaml:"defaultProfile"`
	MaxToolsPerProfile int                      `yaml:"maxToolsPerProfile"`
	Profiles           map[string]profileFormat `yaml:"profiles"`
	Tools              map[string]toolFormat    `yaml:"tools"`
}

type profileFormat struct {
	Description string   `yaml:"description"`
	ToolIDs     []string `yaml:"toolIds"`
	Triggers    struct {
		Keywords []string `yaml:"keywords"`
		Patterns []string `yaml:"patterns"`
	} `yaml:"triggers"`
}

type toolFormat struct {
	Type             string            `yaml:"type"`
	URL              string            `yaml:"url"`
	Headers          map[string]string `yaml:"headers"`
	Command          string            `yaml:"command"`
	Args             []string          `yaml:"args"`
	Env              map[string]string `yaml:"env"`
	AuthPlaceholders []string          `yaml:"authPlaceholders"`
}

// Registry はプロファイルとツールの読み取り専用レジストリ
type Registry struct {
	defaultProfile     string
	maxToolsPerProfile int
	profiles           map[string]profile.ToolProfile
	profileIDs         []string
	tools              map[string]profile.ToolDescriptor
}

// Load はYAMLファイルからレジストリを読み込む
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry file: %w", err)
	}
	return Parse(data)
}

// Parse はYAMLデータからレジストリを構築
// 不正なパターン・記述子は警告を出してスキップする
func Parse(data []byte) (*Registry, error) {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse registry: %w", err)
	}

	r := &Registry{
		defaultProfile:     strings.TrimSpace(f.DefaultProfile),
		maxToolsPerProfile: f.MaxToolsPerProfile,
		profiles:           make(map[string]profile.ToolProfile, len(f.Profiles)),
		tools:              make(map[string]profile.ToolDescriptor, len(f.Tools)),
	}
	if r.maxToolsPerProfile <= 0 {
		r.maxToolsPerProfile = DefaultMaxToolsPerProfile
	}

	for id, tf := range f.Tools {
		d := profile.ToolDescriptor{
			ID:               id,
			Type:             profile.ConnectionType(tf.Type),
			URL:              tf.URL,
			Headers:          tf.Headers,
			Command:          tf.Command,
			Args:             tf.Args,
			Env:              tf.Env,
			AuthPlaceholders: tf.AuthPlaceholders,
		}
		if err := d.Validate(); err != nil {
			logger.WarnCF("registry", "Skipping invalid tool descriptor", map[string]interface{}{
				"tool":  id,
				"error": err.Error(),
			})
			continue
		}
		r.tools[id] = d
	}

	for id, pf := range f.Profiles {
		r.profiles[id] = r.buildProfile(id, pf)
		r.profileIDs = append(r.profileIDs, id)
	}
	sort.Strings(r.profileIDs)

	if r.defaultProfile == "" {
		return nil, fmt.Errorf("registry: defaultProfile is required")
	}
	if _, ok := r.profiles[r.defaultProfile]; !ok {
		return nil, fmt.Errorf("registry: defaultProfile %q is not defined", r.defaultProfile)
	}

	logger.InfoCF("registry", "Registry loaded", map[string]interface{}{
		"profiles":        len(r.profiles),
		"tools":           len(r.tools),
		"default_profile": r.defaultProfile,
	})
	return r, nil
}

func (r *Registry) buildProfile(id string, pf profileFormat) profile.ToolProfile {
	toolIDs := make([]string, 0, len(pf.ToolIDs))
	for _, t := range pf.ToolIDs {
		if t = strings.TrimSpace(t); t != "" {
			toolIDs = append(toolIDs, t)
		}
	}
	if len(toolIDs) > r.maxToolsPerProfile {
		logger.WarnCF("registry", "Profile exceeds max tools, truncating", map[string]interface{}{
			"profile": id,
			"tools":   len(toolIDs),
			"max":     r.maxToolsPerProfile,
		})
		toolIDs = toolIDs[:r.maxToolsPerProfile]
	}

	keywords := make([]string, 0, len(pf.Triggers.Keywords))
	for _, k := range pf.Triggers.Keywords {
		if k = strings.TrimSpace(k); k != "" {
			keywords = append(keywords, k)
		}
	}

	patterns := make([]*regexp.Regexp, 0, len(pf.Triggers.Patterns))
	for _, p := range pf.Triggers.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			logger.WarnCF("registry", "Skipping invalid trigger pattern", map[string]interface{}{
				"profile": id,
				"pattern": p,
				"error":   err.Error(),
			})
			continue
		}
		patterns = append(patterns, re)
	}

	return profile.ToolProfile{
		ID:          id,
		Description: pf.Description,
		ToolIDs:     toolIDs,
		Triggers:    profile.Triggers{Keywords: keywords, Patterns: patterns},
	}
}

// DefaultProfileID はデフォルトプロファイルIDを返す
func (r *Registry) DefaultProfileID() string {
	return r.defaultProfile
}

// DefaultProfile はデフォルトプロファイルを返す
func (r *Registry) DefaultProfile() profile.ToolProfile {
	return r.profiles[r.defaultProfile]
}

// Profile はIDでプロファイルを取得
func (r *Registry) Profile(id string) (profile.ToolProfile, bool) {
	p, ok := r.profiles[id]
	return p, ok
}

// Profiles はID順のプロファイル一覧を返す
func (r *Registry) Profiles() []profile.ToolProfile {
	out := make([]profile.ToolProfile, 0, len(r.profileIDs))
	for _, id := range r.profileIDs {
		out = append(out, r.profiles[id])
	}
	return out
}

// Tool はIDでツール記述子を取得
func (r *Registry) Tool(id string) (profile.ToolDescriptor, bool) {
	d, ok := r.tools[id]
	return d, ok
}

// Tools はID順のツール記述子一覧を返す
func (r *Registry) Tools() []profile.ToolDescriptor {
	ids := make([]string, 0, len(r.tools))
	for id := range r.tools {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]profile.ToolDescriptor, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.tools[id])
	}
	return out
}

// Resolve はツールIDを記述子に解決し、${VAR}をenvで置換する
// 未登録IDと未定義変数を参照する記述子はskippedとして返す
func (r *Registry) Resolve(ids []string, env map[string]string) ([]profile.ToolDescriptor, []string) {
	var resolved []profile.ToolDescriptor
	var skipped []string
	seen := make(map[string]bool, len(ids))

	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true

		d, ok := r.tools[id]
		if !ok {
			skipped = append(skipped, id)
			continue
		}
		out, missing := d.Resolve(env)
		if len(missing) > 0 {
			logger.WarnCF("registry", "Tool references unset variables", map[string]interface{}{
				"tool":    id,
				"missing": strings.Join(missing, ","),
			})
			skipped = append(skipped, id)
			continue
		}
		resolved = append(resolved, out)
	}
	return resolved, skipped
}

// EnvMap はKEY=VALUE形式の環境変数一覧をマップに変換
func EnvMap(environ []string) map[string]string {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}
