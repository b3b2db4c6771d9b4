package proxy

import (
	"path"
	"strings"
)

// AllowList valida endpoints contra patrones glob de path (deny by default).
// Es la única barrera entre el caller y la superficie completa de la API del
// proveedor con una credencial que el caller nunca ve.
type AllowList struct {
	patterns []string
}

func NewAllowList(patterns []string) *AllowList {
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		out = append(out, p)
	}
	return &AllowList{patterns: out}
}

// Allowed reporta si el endpoint matchea algún patrón. Un patrón terminado en
// "/*" acepta cualquier subpath (no sólo un segmento).
func (a *AllowList) Allowed(endpoint string) bool {
	endpoint = normalize(endpoint)
	if endpoint == "" {
		return false
	}
	for _, p := range a.patterns {
		if ok, _ := path.Match(p, endpoint); ok {
			return true
		}
		if strings.HasSuffix(p, "/*") {
			base := strings.TrimSuffix(p, "/*")
			// el patrón cubre también la raíz de la colección: "/contacts/"
			// normaliza a "/contacts"
			if endpoint == base || strings.HasPrefix(endpoint, base+"/") {
				return true
			}
		}
	}
	return false
}

// normalize limpia el path y corta el query string; ".." queda neutralizado
// por path.Clean antes de comparar contra los patrones.
func normalize(endpoint string) string {
	if i := strings.IndexByte(endpoint, '?'); i >= 0 {
		endpoint = endpoint[:i]
	}
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return ""
	}
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}
	return path.Clean(endpoint)
}
