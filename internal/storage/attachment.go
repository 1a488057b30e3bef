// Package storage implements the attachment store: opaque bytes in, opaque
// URL reference out. The workflow core only forwards the reference and never
// inspects content.
package storage

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"portal/pkg/apperr"

	"github.com/google/uuid"
	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
)

// AttachmentStore persists uploaded attachment bytes and returns a public
// URL reference for the stored object.
type AttachmentStore interface {
	Put(ctx context.Context, filename string, data []byte) (string, error)
}

type attachmentStore struct {
	fs        afs.Service
	baseURL   string // storage location, e.g. file:///var/portal/uploads
	publicURL string // prefix clients can fetch from, e.g. http://host/uploads
}

// NewAttachmentStore stores attachments under baseURL and returns references
// prefixed with publicURL.
func NewAttachmentStore(baseURL, publicURL string) AttachmentStore {
	return &attachmentStore{
		fs:        afs.New(),
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		publicURL: strings.TrimSuffix(publicURL, "/"),
	}
}

func (s *attachmentStore) Put(ctx context.Context, filename string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", apperr.InvalidTransition("attachment is empty")
	}

	// Object name is generated server-side; only the extension survives from
	// the client-supplied filename.
	ext := filepath.Ext(filename)
	name := fmt.Sprintf("%s%s", uuid.New(), ext)

	dest := url.Join(s.baseURL, name)
	if err := s.fs.Upload(ctx, dest, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return "", apperr.Unavailable(err, "failed to store attachment %s", name)
	}

	return s.publicURL + "/" + name, nil
}
