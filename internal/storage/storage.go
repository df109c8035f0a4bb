// Package storage はアップロードされたファイルの保存先を提供する。
package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
)

// BlobStore はオブジェクトの保存先を表す。
type BlobStore interface {
	// Put はbodyをkeyに保存し、参照用URLを返す。
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error)
	// Delete はkeyのオブジェクトを削除する。存在しない場合はエラーにしない。
	Delete(ctx context.Context, key string) error
}

// ObjectKey はアプリIDと元のファイル名からオブジェクトキーを生成する。
// ファイル名のディレクトリ部分は破棄し、衝突しないようUUIDを付与する。
func ObjectKey(appID int64, filename string) string {
	base := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if base == "." || base == "/" || base == ".." {
		base = "file"
	}
	return fmt.Sprintf("apps/%d/%s-%s", appID, uuid.NewString(), base)
}

// validKey はキーが保存先のルート外を指さないことを確認する。
func validKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty object key")
	}
	clean := path.Clean("/" + key)
	if clean != "/"+key || strings.Contains(key, "..") {
		return fmt.Errorf("invalid object key: %q", key)
	}
	return nil
}
