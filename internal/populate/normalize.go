package populate

import (
	"path/filepath"
	"strings"
)

const maxFilenameLen = 255

// NormalizeFilename derives a safe display filename from a springname,
// keeping the extension of the original upload. Lowercase, restricted to
// [a-z0-9_.-]; everything else becomes '_'.
func NormalizeFilename(springname, srcPath string) string {
	ext := filepath.Ext(srcPath)

	var b strings.Builder
	b.Grow(len(springname))
	for _, r := range strings.ToLower(springname) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	name := b.String() + ext
	if len(name) > maxFilenameLen {
		name = name[:maxFilenameLen]
	}
	return name
}
