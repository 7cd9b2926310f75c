package util

import (
	"path"
	"path/filepath"
	"strings"
)

// LocalToRemote maps absLocalPath below localBase onto remoteBase using POSIX
// separators. Paths outside localBase map to remoteBase joined with their
// base name.
func LocalToRemote(localBase, remoteBase, absLocalPath string) string {
	rel, err := filepath.Rel(localBase, absLocalPath)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		rel = filepath.Base(absLocalPath)
	}
	relPosix := path.Clean(filepath.ToSlash(rel))
	if remoteBase == "" || remoteBase == "." {
		return relPosix
	}
	if relPosix == "." {
		return path.Clean(remoteBase)
	}
	return path.Join(remoteBase, relPosix)
}
