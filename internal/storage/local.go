package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
)

// LocalStore はローカルディスクに保存するBlobStore実装。
// 保存したファイルはpublicPrefix配下のURLで参照される。
type LocalStore struct {
	root         string
	publicPrefix string
}

// NewLocalStore はrootディレクトリを作成してLocalStoreを生成する。
func NewLocalStore(root, publicPrefix string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload directory: %w", err)
	}
	return &LocalStore{root: root, publicPrefix: publicPrefix}, nil
}

// Root は保存先ディレクトリを返す。
func (s *LocalStore) Root() string {
	return s.root
}

// Put はファイルを一時ファイルに書き込んでから所定のパスへ移動する。
func (s *LocalStore) Put(_ context.Context, key string, body io.Reader, _ int64, _ string) (string, error) {
	if err := validKey(key); err != nil {
		return "", err
	}
	dst := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, body); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("failed to move file: %w", err)
	}
	return path.Join(s.publicPrefix, key), nil
}

// Delete はファイルを削除する。
func (s *LocalStore) Delete(_ context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	err := os.Remove(filepath.Join(s.root, filepath.FromSlash(key)))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// compile-time interface check
var _ BlobStore = (*LocalStore)(nil)
