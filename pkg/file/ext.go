package file

import (
	"mime"
	"path/filepath"
	"strings"
)

// Ext returns the lowercased extension of name including the dot, or "" when
// name has none. A leading dot (".env") is not an extension.
func Ext(name string) string {
	base := filepath.Base(name)
	lastDot := strings.LastIndex(base, ".")
	if lastDot <= 0 || lastDot == len(base)-1 {
		return ""
	}
	ext := strings.ToLower(base[lastDot:])
	if ext == ".jpeg" {
		return ".jpg"
	}
	return ext
}

// ContentType guesses a MIME type from the extension of name.
func ContentType(name string) string {
	if ext := Ext(name); ext != "" {
		if t := mime.TypeByExtension(ext); t != "" {
			return t
		}
	}
	return "application/octet-stream"
}
