// Package utils provides utility functions
package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// FileSystemUtils provides file system operations
type FileSystemUtils struct{}

// NewFileSystemUtils creates a new filesystem utils instance
func NewFileSystemUtils() *FileSystemUtils {
	return &FileSystemUtils{}
}

// Exists checks if a path exists, counting dangling symlinks
func (f *FileSystemUtils) Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// IsDirectory checks if a path is a directory
func (f *FileSystemUtils) IsDirectory(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// CreateDirectory creates a directory with all parents
func (f *FileSystemUtils) CreateDirectory(path string) error {
	return os.MkdirAll(path, 0755)
}

// RemoveAll removes a path and all its contents; a missing path is not an error
func (f *FileSystemUtils) RemoveAll(path string) error {
	return os.RemoveAll(path)
}

// Copy copies a file or a directory tree from src to dst, preserving
// permissions and modification times
func (f *FileSystemUtils) Copy(src, dst string) error {
	info, err := os.Lstat(src)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return CopyDirectory(src, dst)
	}
	return f.CopyFile(src, dst)
}

// CopyFile copies a file from src to dst
func (f *FileSystemUtils) CopyFile(src, dst string) error {
	sourceInfo, err := os.Lstat(src)
	if err != nil {
		return err
	}

	// Create destination directory if needed
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	if sourceInfo.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(src)
		if err != nil {
			return err
		}
		os.Remove(dst)
		return os.Symlink(target, dst)
	}

	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, sourceInfo.Mode().Perm())
	if err != nil {
		return err
	}

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		destFile.Close()
		return err
	}
	if err := destFile.Close(); err != nil {
		return err
	}

	// O_CREATE is subject to umask, so apply the mode explicitly
	if err := os.Chmod(dst, sourceInfo.Mode().Perm()); err != nil {
		return err
	}
	return os.Chtimes(dst, sourceInfo.ModTime(), sourceInfo.ModTime())
}

// CopyDirectory copies a directory recursively
func CopyDirectory(src, dst string) error {
	utils := &FileSystemUtils{}
	var dirs []string

	err := filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		dstPath := filepath.Join(dst, relPath)

		if info.IsDir() {
			dirs = append(dirs, path)
			return os.MkdirAll(dstPath, info.Mode().Perm()|0700)
		}

		return utils.CopyFile(path, dstPath)
	})
	if err != nil {
		return err
	}

	// Directory times change while their entries are written, restore them last
	for i := len(dirs) - 1; i >= 0; i-- {
		info, err := os.Stat(dirs[i])
		if err != nil {
			return err
		}
		relPath, _ := filepath.Rel(src, dirs[i])
		dstPath := filepath.Join(dst, relPath)
		if err := os.Chtimes(dstPath, info.ModTime(), info.ModTime()); err != nil {
			return fmt.Errorf("failed to restore times of %s: %w", dstPath, err)
		}
	}

	return nil
}

// FileExists checks if a regular file exists
func FileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

// DirectoryExists checks if a directory exists
func DirectoryExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// RemoveEmptyParents removes empty directories from dir upwards, stopping at stop
func RemoveEmptyParents(dir, stop string) {
	stop = filepath.Clean(stop)
	for dir = filepath.Clean(dir); dir != stop && len(dir) > len(stop); dir = filepath.Dir(dir) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
	}
}
