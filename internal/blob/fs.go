package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Filesystem maps keys to files under a root directory. The content type
// is inferred from the file extension on read.
type Filesystem struct {
	root string
}

func NewFilesystem(root string) (*Filesystem, error) {
	if root == "" {
		root = "./exports"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &Filesystem{root: root}, nil
}

func (f *Filesystem) path(key string) (string, string, error) {
	clean, err := cleanKey(key)
	if err != nil {
		return "", "", err
	}
	return clean, filepath.Join(f.root, filepath.FromSlash(clean)), nil
}

func (f *Filesystem) Put(_ context.Context, key string, r io.Reader, contentType string) (Info, error) {
	clean, full, err := f.path(key)
	if err != nil {
		return Info{}, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return Info{}, fmt.Errorf("create blob dir: %w", err)
	}
	file, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return Info{}, fmt.Errorf("%s: %w", clean, ErrExists)
		}
		return Info{}, fmt.Errorf("create blob: %w", err)
	}
	if _, err := io.Copy(file, r); err != nil {
		_ = file.Close()
		_ = os.Remove(full)
		return Info{}, fmt.Errorf("write blob: %w", err)
	}
	if err := file.Close(); err != nil {
		return Info{}, fmt.Errorf("close blob: %w", err)
	}
	info, err := f.stat(clean, full)
	if err != nil {
		return Info{}, err
	}
	if contentType != "" {
		info.ContentType = contentType
	}
	return info, nil
}

func (f *Filesystem) Get(_ context.Context, key string) (Info, io.ReadCloser, error) {
	clean, full, err := f.path(key)
	if err != nil {
		return Info{}, nil, err
	}
	info, err := f.stat(clean, full)
	if err != nil {
		return Info{}, nil, err
	}
	file, err := os.Open(full)
	if err != nil {
		return Info{}, nil, fmt.Errorf("open blob: %w", err)
	}
	return info, file, nil
}

func (f *Filesystem) List(_ context.Context, prefix string) ([]Info, error) {
	var out []Info
	err := filepath.WalkDir(f.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(f.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := f.stat(key, p)
		if err != nil {
			return err
		}
		out = append(out, info)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list blobs: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (f *Filesystem) stat(key, full string) (Info, error) {
	st, err := os.Stat(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Info{}, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return Info{}, fmt.Errorf("stat blob: %w", err)
	}
	return Info{
		Key:          key,
		Size:         st.Size(),
		ContentType:  mime.TypeByExtension(filepath.Ext(full)),
		LastModified: st.ModTime().UTC(),
	}, nil
}
