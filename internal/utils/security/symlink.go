package security

import (
	"fmt"
	"os"
	"path/filepath"
)

// SymlinkPolicy defines how to handle symlinks when reading or writing files.
type SymlinkPolicy int

const (
	// RejectSymlinks - reject any symlinks and return an error
	RejectSymlinks SymlinkPolicy = iota
	// ResolveSymlinks - resolve symlinks and use the target path
	ResolveSymlinks
	// AllowSymlinks - allow symlinks without any checks (unsafe)
	AllowSymlinks
)

// SafeFileInfo contains information about a file after symlink checks
type SafeFileInfo struct {
	OriginalPath string
	ResolvedPath string
	IsSymlink    bool
	FileInfo     os.FileInfo
}

// CheckSymlink validates a file path according to the specified policy.
func CheckSymlink(path string, policy SymlinkPolicy) (*SafeFileInfo, error) {
	if policy < RejectSymlinks || policy > AllowSymlinks {
		return nil, fmt.Errorf("invalid symlink policy: %d", policy)
	}

	fileInfo, err := os.Lstat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get file info for %s: %w", path, err)
	}

	isSymlink := fileInfo.Mode()&os.ModeSymlink != 0

	result := &SafeFileInfo{
		OriginalPath: path,
		ResolvedPath: path,
		IsSymlink:    isSymlink,
		FileInfo:     fileInfo,
	}

	if !isSymlink {
		return result, nil
	}

	switch policy {
	case RejectSymlinks:
		return nil, fmt.Errorf("symlinks are not allowed: %s", path)

	case ResolveSymlinks:
		resolvedPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve symlink %s: %w", path, err)
		}

		targetInfo, err := os.Stat(resolvedPath)
		if err != nil {
			return nil, fmt.Errorf("failed to access symlink target %s: %w", resolvedPath, err)
		}

		result.ResolvedPath = resolvedPath
		result.FileInfo = targetInfo
		return result, nil

	case AllowSymlinks:
		return result, nil

	default:
		return nil, fmt.Errorf("invalid symlink policy: %d", policy)
	}
}

// SafeReadFile reads a file after performing symlink checks
func SafeReadFile(path string, policy SymlinkPolicy) ([]byte, error) {
	safeInfo, err := CheckSymlink(path, policy)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(safeInfo.ResolvedPath)
}

// SafeWriteFile writes to a file after performing symlink checks on the file
// and its parent directory.
func SafeWriteFile(path string, data []byte, perm os.FileMode, policy SymlinkPolicy) error {
	if _, err := os.Lstat(path); err == nil {
		safeInfo, err := CheckSymlink(path, policy)
		if err != nil {
			return fmt.Errorf("existing file symlink check failed: %w", err)
		}
		path = safeInfo.ResolvedPath
	}

	dir := filepath.Dir(path)
	if dir != "." && dir != "/" {
		if _, err := os.Stat(dir); err == nil {
			safeInfo, err := CheckSymlink(dir, policy)
			if err != nil {
				return fmt.Errorf("parent directory symlink check failed: %w", err)
			}
			if safeInfo.ResolvedPath != dir {
				path = filepath.Join(safeInfo.ResolvedPath, filepath.Base(path))
			}
		}
	}

	return os.WriteFile(path, data, perm)
}
