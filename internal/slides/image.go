package slides

import (
	"net/url"
	"strings"
)

// ImageRule 图片地址改写规则: 是否走后端代理, 以及缓存破坏参数。
type ImageRule struct {
	// Proxy 判断原始地址是否需要经由代理加载; nil 表示从不代理。
	Proxy func(original string) bool
	// ProxyPath 代理端点, 原始地址作为 url 查询参数传入。
	ProxyPath string
}

// SchemePredicate 按协议前缀判断是否代理 (大小写不敏感)。
func SchemePredicate(schemes []string) func(string) bool {
	set := make(map[string]struct{}, len(schemes))
	for _, s := range schemes {
		set[strings.ToLower(strings.TrimSuffix(strings.TrimSpace(s), "://"))] = struct{}{}
	}
	return func(original string) bool {
		u, err := url.Parse(strings.TrimSpace(original))
		if err != nil || u.Scheme == "" {
			return false
		}
		_, ok := set[strings.ToLower(u.Scheme)]
		return ok
	}
}

// Resolve 由原始地址推导请求地址。重试时传入新的 nonce 即可重新生成。
// data: URI 与空地址不做改写。
func (r ImageRule) Resolve(original, nonce string) string {
	original = strings.TrimSpace(original)
	if original == "" || strings.HasPrefix(strings.ToLower(original), "data:") {
		return original
	}

	target := original
	if r.Proxy != nil && r.ProxyPath != "" && r.Proxy(original) {
		target = r.ProxyPath + "?url=" + url.QueryEscape(original)
	}
	if nonce == "" {
		return target
	}
	sep := "?"
	if strings.Contains(target, "?") {
		sep = "&"
	}
	return target + sep + "t=" + url.QueryEscape(nonce)
}
