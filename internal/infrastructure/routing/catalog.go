package routing

import "github.com/Nyukimin/taskrelay/internal/domain/profile"

// Catalog はルーティングが参照するプロファイル一覧
type Catalog interface {
	DefaultProfileID() string
	Profile(id string) (profile.ToolProfile, bool)
	Profiles() []profile.ToolProfile
}
