package blob

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var ErrInvalidKey = errors.New("invalid blob key")

// LocalFS stores result payloads as files below Root.
type LocalFS struct {
	Root string
}

// Put writes r under key and returns the cleaned key.
func (l LocalFS) Put(key string, r io.Reader) (string, error) {
	clean, abs, err := l.resolve(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(filepath.Dir(abs), ".put-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), abs); err != nil {
		return "", err
	}
	return filepath.ToSlash(clean), nil
}

func (l LocalFS) Open(key string) (*os.File, error) {
	_, abs, err := l.resolve(key)
	if err != nil {
		return nil, err
	}
	return os.Open(abs)
}

func (l LocalFS) Exists(key string) bool {
	_, abs, err := l.resolve(key)
	if err != nil {
		return false
	}
	_, err = os.Stat(abs)
	return err == nil
}

// resolve rejects keys that would land outside Root.
func (l LocalFS) resolve(key string) (string, string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(key, "/")))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", "", ErrInvalidKey
	}
	return clean, filepath.Join(l.Root, clean), nil
}
