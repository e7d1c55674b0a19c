package objectstore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LocalFileStore implements ObjectStore over a local directory hierarchy,
// one file per key with '/' mapped to the OS path separator. It backs the
// "local" Event Trace Store mode, the default for single-process workers
// that don't have an S3-compatible bucket available.
type LocalFileStore struct {
	root string
}

// NewLocalFileStore creates a LocalFileStore rooted at dir, creating it if
// it doesn't already exist.
func NewLocalFileStore(dir string) (*LocalFileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return &LocalFileStore{root: abs}, nil
}

func (s *LocalFileStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *LocalFileStore) Get(ctx context.Context, key string) (io.ReadCloser, ObjectAttrs, error) {
	if err := validateKey(key); err != nil {
		return nil, ObjectAttrs{}, err
	}
	f, err := os.Open(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ObjectAttrs{}, ErrNotFound
		}
		return nil, ObjectAttrs{}, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, ObjectAttrs{}, err
	}
	return f, ObjectAttrs{Key: key, Size: info.Size(), LastModified: info.ModTime()}, nil
}

func (s *LocalFileStore) Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	full := s.path(key)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", err
	}
	tmp := full + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return "", err
	}
	h := md5.New()
	if _, err := io.Copy(io.MultiWriter(f, h), r); err != nil {
		f.Close()
		os.Remove(tmp)
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, full); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func (s *LocalFileStore) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *LocalFileStore) List(ctx context.Context, opts ListOptions) (ListResult, error) {
	var keys []string
	err := filepath.Walk(s.root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasSuffix(key, ".tmp") {
			return nil
		}
		if opts.Prefix != "" && !strings.HasPrefix(key, opts.Prefix) {
			return nil
		}
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		return ListResult{}, err
	}
	sort.Strings(keys)

	result := ListResult{}
	seenPrefixes := map[string]bool{}
	for _, key := range keys {
		if opts.Delimiter != "" {
			rest := strings.TrimPrefix(key, opts.Prefix)
			if idx := strings.Index(rest, opts.Delimiter); idx >= 0 {
				p := opts.Prefix + rest[:idx+len(opts.Delimiter)]
				if !seenPrefixes[p] {
					seenPrefixes[p] = true
					result.CommonPrefixes = append(result.CommonPrefixes, p)
				}
				continue
			}
		}
		full := filepath.Join(s.root, filepath.FromSlash(key))
		info, err := os.Stat(full)
		if err != nil {
			continue
		}
		result.Objects = append(result.Objects, ObjectAttrs{Key: key, Size: info.Size(), LastModified: info.ModTime()})
	}

	if opts.MaxKeys > 0 && len(result.Objects) > opts.MaxKeys {
		result.Objects = result.Objects[:opts.MaxKeys]
		result.IsTruncated = true
	}
	return result, nil
}

func (s *LocalFileStore) Head(ctx context.Context, key string) (ObjectAttrs, error) {
	if err := validateKey(key); err != nil {
		return ObjectAttrs{}, err
	}
	info, err := os.Stat(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return ObjectAttrs{}, ErrNotFound
		}
		return ObjectAttrs{}, err
	}
	return ObjectAttrs{Key: key, Size: info.Size(), LastModified: info.ModTime()}, nil
}

func (s *LocalFileStore) Copy(ctx context.Context, srcKey, dstKey string) error {
	r, _, err := s.Get(ctx, srcKey)
	if err != nil {
		return err
	}
	defer r.Close()
	_, err = s.Put(ctx, dstKey, r, PutOptions{})
	return err
}

func (s *LocalFileStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Head(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *LocalFileStore) Ping(ctx context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return ErrBucketMissing
	}
	if !info.IsDir() {
		return ErrBucketMissing
	}
	return nil
}

func validateKey(key string) error {
	if key == "" || strings.Contains(key, "..") {
		return ErrInvalidKey
	}
	return nil
}

var _ ObjectStore = (*LocalFileStore)(nil)
