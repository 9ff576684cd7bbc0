package utils

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"mediaportal/internal/model"
)

// DetectMediaType 本地文件的声明类型：优先看扩展名，其次嗅探内容
func DetectMediaType(name string, data []byte) string {
	if ext := filepath.Ext(name); ext != "" {
		if t := mime.TypeByExtension(strings.ToLower(ext)); t != "" {
			return stripParams(t)
		}
	}
	return stripParams(mimetype.Detect(data).String())
}

// ClassifyMedia maps a declared media type to a kind; ok is false for
// anything that is neither image nor video.
func ClassifyMedia(contentType string) (model.MediaKind, bool) {
	t := strings.ToLower(strings.TrimSpace(contentType))
	switch {
	case strings.HasPrefix(t, "image/"):
		return model.MediaImage, true
	case strings.HasPrefix(t, "video/"):
		return model.MediaVideo, true
	default:
		return "", false
	}
}

func stripParams(t string) string {
	if i := strings.IndexByte(t, ';'); i >= 0 {
		return strings.TrimSpace(t[:i])
	}
	return t
}

// ExtensionFor 按媒体类型给出保存结果时用的扩展名，未知类型返回 ".bin"
func ExtensionFor(contentType string) string {
	if m := mimetype.Lookup(stripParams(contentType)); m != nil && m.Extension() != "" {
		return m.Extension()
	}
	return ".bin"
}
