package testing

// WithFiles pre-populates the host's filesystem with files.
// Keys are paths, values are file contents.
func WithFiles(h *MockHost, files map[string]string) {
	for path, content := range files {
		_ = h.GetFS().WriteFile(path, []byte(content))
	}
}

// WithDirs pre-populates the host's filesystem with directories.
func WithDirs(h *MockHost, dirs []string) {
	for _, dir := range dirs {
		_ = h.GetFS().MkdirAll(dir)
	}
}
