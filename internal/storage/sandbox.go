// Package storage confines file writes to a configured directory tree.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// ErrPathEscapes is returned for paths that resolve outside the sandbox.
var ErrPathEscapes = errors.New("path escapes sandbox")

// Sandbox performs file operations rooted at a base directory.
type Sandbox struct {
	baseDir string
}

// NewSandbox creates a Sandbox rooted at baseDir, creating the directory if needed.
func NewSandbox(baseDir string) (*Sandbox, error) {
	absPath, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("getting absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0o750); err != nil {
		return nil, fmt.Errorf("creating base directory: %w", err)
	}
	return &Sandbox{baseDir: absPath}, nil
}

// BaseDir returns the absolute sandbox root.
func (s *Sandbox) BaseDir() string {
	return s.baseDir
}

// ResolvePath resolves a relative path inside the sandbox. Absolute paths and
// paths climbing out of the root are rejected.
func (s *Sandbox) ResolvePath(relativePath string) (string, error) {
	if filepath.IsAbs(relativePath) {
		return "", fmt.Errorf("%w: %s (absolute paths not allowed)", ErrPathEscapes, relativePath)
	}

	absPath, err := filepath.Abs(filepath.Join(s.baseDir, filepath.Clean(relativePath)))
	if err != nil {
		return "", fmt.Errorf("getting absolute path: %w", err)
	}
	if absPath != s.baseDir && !strings.HasPrefix(absPath, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, relativePath)
	}
	return absPath, nil
}

// Exists reports whether a path exists inside the sandbox.
func (s *Sandbox) Exists(relativePath string) (bool, error) {
	path, err := s.ResolvePath(relativePath)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking path: %w", err)
	}
	return true, nil
}

// AtomicWrite writes data through a temporary file and rename, so readers
// never see a partial file.
func (s *Sandbox) AtomicWrite(relativePath string, data []byte) error {
	targetPath, err := s.ResolvePath(relativePath)
	if err != nil {
		return err
	}

	dir := filepath.Dir(targetPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}

	tempPath := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(targetPath), uuid.NewString()[:8]))
	if err := os.WriteFile(tempPath, data, 0o640); err != nil {
		return fmt.Errorf("writing temporary file: %w", err)
	}
	if err := os.Rename(tempPath, targetPath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("renaming to target: %w", err)
	}
	return nil
}

// ReadFile reads a file inside the sandbox.
func (s *Sandbox) ReadFile(relativePath string) ([]byte, error) {
	path, err := s.ResolvePath(relativePath)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// List returns the names of regular files in a directory, sorted. A missing
// directory lists as empty.
func (s *Sandbox) List(relativePath string) ([]string, error) {
	path, err := s.ResolvePath(relativePath)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("listing directory: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && !strings.HasPrefix(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}

// Remove deletes a file inside the sandbox. Missing files are not an error.
func (s *Sandbox) Remove(relativePath string) error {
	path, err := s.ResolvePath(relativePath)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing file: %w", err)
	}
	return nil
}

// SubSandbox returns a Sandbox rooted at a subdirectory.
func (s *Sandbox) SubSandbox(relativePath string) (*Sandbox, error) {
	path, err := s.ResolvePath(relativePath)
	if err != nil {
		return nil, err
	}
	return NewSandbox(path)
}
