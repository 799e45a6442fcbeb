package gateway

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/pong42/platform/internal/config"
)

// apiPrefix はサービス名の直前に置かれる固定の接頭辞。
const apiPrefix = "/api/"

// ErrServiceNotFound はパスに対応するサービスが存在しないことを表す。
var ErrServiceNotFound = errors.New("サービスが見つかりません")

// Service はGatewayが転送できる内部サービス。
// 列挙に無い名前は必ず ErrServiceNotFound になり、暗黙に転送されることはない。
type Service int

const (
	// ServiceAuth は認証・2FAサービス。
	ServiceAuth Service = iota + 1
	// ServiceUser はユーザー・フレンド・対戦履歴サービス。
	ServiceUser
	// ServiceDatabase は永続化サービス。
	ServiceDatabase
	// ServiceI18n は翻訳文字列サービス。
	ServiceI18n
)

// Services は全てのサービスを定義順に並べたもの。
var Services = []Service{ServiceAuth, ServiceUser, ServiceDatabase, ServiceI18n}

// String はURLに現れるサービス名を返す。
func (s Service) String() string {
	switch s {
	case ServiceAuth:
		return "auth"
	case ServiceUser:
		return "user"
	case ServiceDatabase:
		return "database"
	case ServiceI18n:
		return "i18n"
	default:
		return fmt.Sprintf("Service(%d)", int(s))
	}
}

// ParseService はURLのセグメントからサービスを解決する。
func ParseService(name string) (Service, bool) {
	switch name {
	case "auth":
		return ServiceAuth, true
	case "user":
		return ServiceUser, true
	case "database":
		return ServiceDatabase, true
	case "i18n":
		return ServiceI18n, true
	default:
		return 0, false
	}
}

// Route はサービスと上流のベースURLの組。起動後は変更しない。
type Route struct {
	// Service は転送先のサービス。
	Service Service
	// Upstream は上流サービスのベースURL。
	Upstream *url.URL
}

// Target は残りのパスとクエリ文字列から転送先URLを組み立てる。
func (r Route) Target(remainder, rawQuery string) string {
	target := strings.TrimSuffix(r.Upstream.String(), "/") + remainder
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	return target
}

// Registry はサービスから上流への静的な対応表。
// 生成後は読み取り専用のため、並行に参照しても同期は不要。
type Registry struct {
	routes map[Service]Route
}

// NewRegistry は設定から対応表を生成する。
// いずれかのサービスのURLが欠けている、または絶対URLでない場合はエラーを返す。
func NewRegistry(cfg config.ServicesConfig) (*Registry, error) {
	raw := map[Service]string{
		ServiceAuth:     cfg.Auth,
		ServiceUser:     cfg.User,
		ServiceDatabase: cfg.Database,
		ServiceI18n:     cfg.I18n,
	}

	routes := make(map[Service]Route, len(Services))
	for _, s := range Services {
		u, err := url.Parse(raw[s])
		if err != nil {
			return nil, fmt.Errorf("%s サービスのURLが不正です: %w", s, err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("%s サービスのURLが絶対URLではありません: %q", s, raw[s])
		}
		routes[s] = Route{Service: s, Upstream: u}
	}
	return &Registry{routes: routes}, nil
}

// Resolve はパスから転送先のルートと、上流に渡す残りのパスを返す。
// パスは /api/<service>/<rest> の形式で、残りのパスは /<rest> としてそのまま返す。
func (r *Registry) Resolve(path string) (Route, string, error) {
	rest, ok := strings.CutPrefix(path, apiPrefix)
	if !ok {
		return Route{}, "", ErrServiceNotFound
	}

	name, remainder, found := strings.Cut(rest, "/")
	remainder = "/" + remainder
	if !found {
		remainder = "/"
	}

	s, ok := ParseService(name)
	if !ok {
		return Route{}, "", fmt.Errorf("%w: %q", ErrServiceNotFound, name)
	}
	route, ok := r.routes[s]
	if !ok {
		return Route{}, "", fmt.Errorf("%w: %q", ErrServiceNotFound, name)
	}
	return route, remainder, nil
}

// Route はサービスに対応するルートを返す。
func (r *Registry) Route(s Service) (Route, bool) {
	route, ok := r.routes[s]
	return route, ok
}

// Routes は全てのルートをサービスの定義順に返す。
func (r *Registry) Routes() []Route {
	routes := make([]Route, 0, len(r.routes))
	for _, s := range Services {
		if route, ok := r.routes[s]; ok {
			routes = append(routes, route)
		}
	}
	return routes
}
