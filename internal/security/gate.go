package security

import (
	"crypto/subtle"
	"net/http"
)

const (
	ProxyKeyHeader = "X-Proxy-Key"
	ProxyKeyQuery  = "key"
)

// Authorize 仅当 supplied 与 expected 完全一致时返回 true；任一为空都视为失败
func Authorize(supplied, expected string) bool {
	if supplied == "" || expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(supplied), []byte(expected)) == 1
}

// SuppliedKey 读取调用方提供的密钥；allowQuery 为 true 时也接受 ?key=，请求头优先
func SuppliedKey(r *http.Request, allowQuery bool) string {
	if key := r.Header.Get(ProxyKeyHeader); key != "" {
		return key
	}
	if allowQuery {
		return r.URL.Query().Get(ProxyKeyQuery)
	}
	return ""
}
