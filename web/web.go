// Package web 内嵌的页面模板
package web

import "embed"

// Templates layouts/ 与 pages/ 下的 HTML 模板
//
//go:embed templates
var Templates embed.FS
