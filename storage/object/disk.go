// Package object stores uploaded files on local disk under the configured
// media root and serves them back by public URL.
package object

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/iteamsociety/iteam/core"
)

type Store struct {
	root         string
	baseURL      string
	maxSize      int64
	contentTypes []string
}

func NewDiskStore(conf *core.Config) *Store {
	return &Store{
		root:         conf.Upload.MediaRoot,
		baseURL:      strings.TrimRight(conf.Upload.MediaBaseURL, "/"),
		maxSize:      conf.Upload.MaxSize,
		contentTypes: conf.Upload.ContentTypes,
	}
}

// Save validates and writes an uploaded file under prefix, returning its
// storage path and public URL. The stored name is randomized; only the
// original extension is kept.
func (s *Store) Save(prefix, filename string, size int64, src io.Reader) (storagePath, publicURL string, err error) {
	if size > s.maxSize {
		return "", "", core.NewValidationError(nil, core.FieldError{
			Field: "file",
			Error: fmt.Sprintf("file exceeds the maximum size of %d bytes", s.maxSize),
		})
	}

	// sniff the content type from the first bytes rather than trusting the
	// client-provided header
	head := make([]byte, 512)
	n, err := io.ReadFull(src, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", "", errors.Wrap(err, "reading upload")
	}
	head = head[:n]
	if ctype := http.DetectContentType(head); !s.allowed(ctype) {
		return "", "", core.NewValidationError(nil, core.FieldError{
			Field: "file",
			Error: fmt.Sprintf("%s files are not accepted; use one of %s", ctype, strings.Join(s.contentTypes, ", ")),
		})
	}

	name := uuid.New().String() + strings.ToLower(filepath.Ext(filename))
	storagePath = path.Join(prefix, name)
	dst := filepath.Join(s.root, filepath.FromSlash(storagePath))
	if err = os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", "", errors.Wrap(err, "creating media directory")
	}

	f, err := os.Create(dst)
	if err != nil {
		return "", "", errors.Wrap(err, "creating media file")
	}
	defer func() { _ = f.Close() }()

	if _, err = f.Write(head); err != nil {
		return "", "", errors.Wrap(err, "writing media file")
	}
	if _, err = io.Copy(f, io.LimitReader(src, s.maxSize)); err != nil {
		return "", "", errors.Wrap(err, "writing media file")
	}
	return storagePath, s.PublicURL(storagePath), nil
}

// PublicURL maps a storage path to the URL it is served under.
func (s *Store) PublicURL(storagePath string) string {
	return s.baseURL + "/" + strings.TrimLeft(storagePath, "/")
}

// Open reads a stored file back.
func (s *Store) Open(storagePath string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(s.root, filepath.FromSlash(storagePath)))
	return f, errors.Wrap(err, "opening media file")
}

// Delete removes a stored file. Missing files are not an error.
func (s *Store) Delete(storagePath string) error {
	err := os.Remove(filepath.Join(s.root, filepath.FromSlash(storagePath)))
	if os.IsNotExist(err) {
		return nil
	}
	return errors.Wrap(err, "deleting media file")
}

func (s *Store) allowed(ctype string) bool {
	// DetectContentType may append parameters, e.g. "text/plain; charset=utf-8"
	if i := strings.Index(ctype, ";"); i >= 0 {
		ctype = ctype[:i]
	}
	for _, ct := range s.contentTypes {
		if ct == ctype {
			return true
		}
	}
	return false
}
