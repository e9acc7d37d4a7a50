package http

import (
	"mime"
	"path/filepath"
	"strings"
)

var builtinMIMETypes = map[string]string{
	".html":  "text/html; charset=utf-8",
	".htm":   "text/html; charset=utf-8",
	".css":   "text/css; charset=utf-8",
	".js":    "application/javascript; charset=utf-8",
	".json":  "application/json; charset=utf-8",
	".xml":   "application/xml; charset=utf-8",
	".txt":   "text/plain; charset=utf-8",
	".map":   "application/json; charset=utf-8",
	".jpg":   "image/jpeg",
	".jpeg":  "image/jpeg",
	".png":   "image/png",
	".gif":   "image/gif",
	".svg":   "image/svg+xml",
	".ico":   "image/x-icon",
	".webp":  "image/webp",
	".pdf":   "application/pdf",
	".zip":   "application/zip",
	".gz":    "application/gzip",
	".wasm":  "application/wasm",
	".mp4":   "video/mp4",
	".woff":  "font/woff",
	".woff2": "font/woff2",
}

// MIMETypeForExtension returns the MIME type for a file name or extension.
// overrides, keyed by lowercase extension including the dot, take precedence.
func MIMETypeForExtension(name string, overrides map[string]string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return DefaultMIMEType
	}
	if t, ok := overrides[ext]; ok {
		return t
	}
	if t, ok := builtinMIMETypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return DefaultMIMEType
}
