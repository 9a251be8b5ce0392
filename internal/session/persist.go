package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoValue is returned by Load when nothing is stored under the key.
var ErrNoValue = errors.New("no value stored")

// Persister is the client-local key/value storage the session survives restarts in.
type Persister interface {
	Load(key string) ([]byte, error)
	Save(key string, data []byte) error
	Delete(key string) error
}

// FilePersister keeps one JSON document per key inside a directory.
type FilePersister struct {
	Dir string
}

func NewFilePersister(dir string) *FilePersister {
	return &FilePersister{Dir: dir}
}

func (p *FilePersister) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	return filepath.Join(p.Dir, key+".json"), nil
}

func (p *FilePersister) Load(key string) ([]byte, error) {
	path, err := p.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoValue
	}
	return data, err
}

// Save replaces the document atomically so a crash never leaves half a session on disk.
func (p *FilePersister) Save(key string, data []byte) error {
	path, err := p.path(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(p.Dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(p.Dir, key+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func (p *FilePersister) Delete(key string) error {
	path, err := p.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
