package imaging

import (
	"fmt"
	"os"
	"path/filepath"
)

// CacheDirName is the directory scanner output is written to inside the cache root
const CacheDirName = "document_scanner"

// Storage defines the interface for scanner output storage
type Storage interface {
	// Save saves a file and returns its absolute path
	Save(filename string, data []byte) (string, error)

	// Get retrieves a file by name
	Get(filename string) ([]byte, error)

	// Delete removes a file
	Delete(filename string) error
}

// LocalStorage implements the Storage interface using the local filesystem.
// The directory is created on first write.
type LocalStorage struct {
	basePath string
}

// NewLocalStorage creates a LocalStorage writing to <cacheRoot>/document_scanner
func NewLocalStorage(cacheRoot string) (*LocalStorage, error) {
	abs, err := filepath.Abs(filepath.Join(cacheRoot, CacheDirName))
	if err != nil {
		return nil, fmt.Errorf("resolving cache directory: %w", err)
	}
	return &LocalStorage{basePath: abs}, nil
}

// Dir returns the absolute directory files are written to
func (l *LocalStorage) Dir() string {
	return l.basePath
}

// Save writes a file to the cache directory, creating it if absent
func (l *LocalStorage) Save(filename string, data []byte) (string, error) {
	path, err := l.resolve(filename)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(l.basePath, 0755); err != nil {
		return "", fmt.Errorf("creating cache directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing file: %w", err)
	}
	return path, nil
}

// Get retrieves a file from the cache directory
func (l *LocalStorage) Get(filename string) ([]byte, error) {
	path, err := l.resolve(filename)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return data, nil
}

// Delete removes a file from the cache directory
func (l *LocalStorage) Delete(filename string) error {
	path, err := l.resolve(filename)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("deleting file: %w", err)
	}
	return nil
}

// resolve accepts either a bare file name or an absolute path inside the cache directory
func (l *LocalStorage) resolve(filename string) (string, error) {
	if filepath.IsAbs(filename) && filepath.Dir(filename) == l.basePath {
		filename = filepath.Base(filename)
	}
	if filename == "" || filename == "." || filename == ".." || filepath.Base(filename) != filename {
		return "", fmt.Errorf("invalid file name %q", filename)
	}
	return filepath.Join(l.basePath, filename), nil
}
