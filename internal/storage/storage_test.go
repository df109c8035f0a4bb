package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectKey(t *testing.T) {
	key := ObjectKey(42, "../../etc/passwd")
	assert.True(t, strings.HasPrefix(key, "apps/42/"))
	assert.True(t, strings.HasSuffix(key, "-passwd"))
	assert.NoError(t, validKey(key))

	winKey := ObjectKey(1, `C:\builds\app.apk`)
	assert.True(t, strings.HasSuffix(winKey, "-app.apk"))

	assert.NotEqual(t, ObjectKey(1, "a.apk"), ObjectKey(1, "a.apk"))
}

func TestValidKey(t *testing.T) {
	assert.NoError(t, validKey("apps/1/x.apk"))
	for _, bad := range []string{"", "../x", "apps/../../x", "/abs", "apps//x"} {
		assert.Error(t, validKey(bad), bad)
	}
}

func TestLocalStore_PutAndDelete(t *testing.T) {
	root := t.TempDir()
	store, err := NewLocalStore(root, "/uploads")
	require.NoError(t, err)
	ctx := context.Background()

	url, err := store.Put(ctx, "apps/1/build.apk", strings.NewReader("apk-bytes"), 9, "application/vnd.android.package-archive")
	require.NoError(t, err)
	assert.Equal(t, "/uploads/apps/1/build.apk", url)

	data, err := os.ReadFile(filepath.Join(root, "apps", "1", "build.apk"))
	require.NoError(t, err)
	assert.Equal(t, "apk-bytes", string(data))

	require.NoError(t, store.Delete(ctx, "apps/1/build.apk"))
	_, err = os.Stat(filepath.Join(root, "apps", "1", "build.apk"))
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, store.Delete(ctx, "apps/1/build.apk"), "deleting a missing file is not an error")
}

func TestLocalStore_RejectsTraversal(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "/uploads")
	require.NoError(t, err)

	_, err = store.Put(context.Background(), "../escape.txt", strings.NewReader("x"), 1, "")
	assert.Error(t, err)
}

// fakeS3 はPUT/DELETEされたオブジェクトを記録するS3互換サーバー。
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]string
	types   map[string]string
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[r.URL.Path] = string(body)
		f.types[r.URL.Path] = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	case http.MethodDelete:
		delete(f.objects, r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestS3Store_PutAndDelete(t *testing.T) {
	fake := &fakeS3{objects: map[string]string{}, types: map[string]string{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	store, err := NewS3Store(S3Config{
		Bucket:          "uploads",
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	})
	require.NoError(t, err)
	ctx := context.Background()

	url, err := store.Put(ctx, "apps/7/icon.png", strings.NewReader("png"), 3, "image/png")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/uploads/apps/7/icon.png", url)

	fake.mu.Lock()
	assert.Equal(t, "png", fake.objects["/uploads/apps/7/icon.png"])
	assert.Equal(t, "image/png", fake.types["/uploads/apps/7/icon.png"])
	fake.mu.Unlock()

	require.NoError(t, store.Delete(ctx, "apps/7/icon.png"))
	fake.mu.Lock()
	assert.Empty(t, fake.objects)
	fake.mu.Unlock()
}

func TestS3Store_DefaultURL(t *testing.T) {
	store, err := NewS3Store(S3Config{Bucket: "assets", Region: "ap-northeast-1"})
	require.NoError(t, err)
	assert.Equal(t, "https://assets.s3.ap-northeast-1.amazonaws.com/apps/1/a.png", store.objectURL("apps/1/a.png"))

	_, err = NewS3Store(S3Config{Region: "us-east-1"})
	assert.Error(t, err)
}
