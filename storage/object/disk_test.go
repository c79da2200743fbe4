package object

import (
	"bytes"
	"io/ioutil"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iteamsociety/iteam/core"
)

// minimal valid PNG header; DetectContentType only needs the signature
var pngBytes = []byte("\x89PNG\r\n\x1a\n" + strings.Repeat("\x00", 16))

func newTestStore(t *testing.T) *Store {
	t.Helper()
	conf := &core.Config{}
	conf.Upload.MediaRoot = t.TempDir()
	conf.Upload.MediaBaseURL = "/media/"
	conf.Upload.MaxSize = 1 << 20
	conf.Upload.ContentTypes = []string{"image/png", "application/pdf"}
	return NewDiskStore(conf)
}

func TestStoreSaveAndOpen(t *testing.T) {
	store := newTestStore(t)

	storagePath, publicURL, err := store.Save("evidence", "receipt.png", int64(len(pngBytes)), bytes.NewReader(pngBytes))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(storagePath, "evidence/"))
	assert.True(t, strings.HasSuffix(storagePath, ".png"))
	assert.Equal(t, "/media/"+storagePath, publicURL)

	f, err := store.Open(storagePath)
	require.NoError(t, err)
	defer f.Close()
	data, err := ioutil.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, data)
}

func TestStoreSaveRejectsOversizedFile(t *testing.T) {
	store := newTestStore(t)

	_, _, err := store.Save("evidence", "huge.png", 2<<20, bytes.NewReader(pngBytes))
	vErr, ok := err.(*core.ValidationError)
	require.True(t, ok, "expected a validation error, got %v", err)
	assert.Contains(t, vErr.Fields[0].Error, "maximum size")
}

func TestStoreSaveRejectsDisallowedContentType(t *testing.T) {
	store := newTestStore(t)

	payload := []byte("just some plain text, not an image")
	_, _, err := store.Save("evidence", "notes.png", int64(len(payload)), bytes.NewReader(payload))
	vErr, ok := err.(*core.ValidationError)
	require.True(t, ok, "expected a validation error, got %v", err)
	assert.Contains(t, vErr.Fields[0].Error, "not accepted")
}

func TestStoreDelete(t *testing.T) {
	store := newTestStore(t)

	storagePath, _, err := store.Save("evidence", "receipt.png", int64(len(pngBytes)), bytes.NewReader(pngBytes))
	require.NoError(t, err)

	require.NoError(t, store.Delete(storagePath))
	_, err = store.Open(storagePath)
	assert.Error(t, err)

	// deleting again is not an error
	assert.NoError(t, store.Delete(storagePath))
}
