package client

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const defaultStaticBase = "http://localhost:8000"

// FullAvatarURL 把后端返回的头像路径转成可访问的地址
//
// 绝对地址原样返回；以 / 开头的路径拼接到 API 根地址（去掉 /api 后缀）；
// 仅有文件名时视为 /static/avatars/ 下的文件。
func FullAvatarURL(apiBase, avatar string) string {
	if avatar == "" {
		return ""
	}
	if strings.HasPrefix(avatar, "http://") || strings.HasPrefix(avatar, "https://") {
		return avatar
	}
	base := strings.TrimSuffix(strings.TrimRight(apiBase, "/"), "/api")
	if base == "" {
		base = defaultStaticBase
	}
	if strings.HasPrefix(avatar, "/") {
		return base + avatar
	}
	return base + "/static/avatars/" + avatar
}

// AvatarInitial 头像占位字母，默认 U
func AvatarInitial(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "U"
	}
	r, _ := utf8.DecodeRuneInString(name)
	return string(unicode.ToUpper(r))
}
