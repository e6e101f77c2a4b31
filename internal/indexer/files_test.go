package indexer

import "testing"

func TestIsIndexablePath(t *testing.T) {
	tests := []struct {
		path     string
		expected bool
	}{
		{"main.go", true},
		{"src/app.py", true},
		{"docs/guide.md", true},
		{"node_modules/pkg/index.js", false},
		{"src/node_modules/pkg/index.js", false},
		{".git/config", false},
		{"vendor/lib/lib.go", false},
		{"__pycache__/mod.pyc", false},
		{".env", false},
		{"src/.hidden", false},
		{"assets/logo.png", false},
		{"fonts/main.woff2", false},
		{"yarn.lock", false},
		{"dist/bundle.min.js", false},
		{"styles/app.min.css", false},
		{"archive.tar.gz", false},
		{"report.pdf", false},
		{"IMAGE.PNG", false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := isIndexablePath(tt.path); got != tt.expected {
				t.Errorf("isIndexablePath(%q) = %v, expected %v", tt.path, got, tt.expected)
			}
		})
	}
}
