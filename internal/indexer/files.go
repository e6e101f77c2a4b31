package indexer

import (
	"io/fs"
	"path/filepath"
	"strings"
)

var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"__pycache__":  true,
	"venv":         true,
	".venv":        true,
	"dist":         true,
	"build":        true,
	".next":        true,
	"coverage":     true,
	".cache":       true,
	"vendor":       true,
	"target":       true,
}

var skipSuffixes = []string{
	".pyc", ".pyo", ".so", ".dll", ".exe", ".bin",
	".jpg", ".jpeg", ".png", ".gif", ".ico", ".svg",
	".woff", ".woff2", ".ttf", ".eot",
	".mp3", ".mp4", ".avi", ".mov",
	".pdf", ".doc", ".docx", ".xls", ".xlsx",
	".zip", ".tar", ".gz", ".rar", ".7z",
	".lock", ".min.js", ".min.css",
}

const maxFileSize = 500_000

// isIndexablePath checks the relative path against directory and filename
// rules. Size is checked separately because it needs a stat.
func isIndexablePath(relPath string) bool {
	for _, part := range strings.Split(filepath.ToSlash(relPath), "/") {
		if skipDirs[part] {
			return false
		}
	}

	name := filepath.Base(relPath)
	if strings.HasPrefix(name, ".") {
		return false
	}

	lower := strings.ToLower(name)
	for _, suffix := range skipSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return false
		}
	}
	return true
}

// isIndexableFile applies the full set of rules to a walked file
func isIndexableFile(relPath string, entry fs.DirEntry) bool {
	if entry.IsDir() {
		return false
	}
	if !isIndexablePath(relPath) {
		return false
	}
	info, err := entry.Info()
	if err != nil {
		return false
	}
	return info.Size() <= maxFileSize
}
