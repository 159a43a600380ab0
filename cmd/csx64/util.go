package main

import "path/filepath"

// rootDirFor returns the directory a relative INCBIN path should resolve
// against by default: the directory containing the given source file.
func rootDirFor(srcPath string) string {
	return filepath.Dir(srcPath)
}
