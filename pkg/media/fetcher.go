// Package media downloads attachment payloads referenced by inbound
// events into durable local storage.
package media

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/copperline/chatvault/pkg/model"
)

// Ref points at a remote media payload carried by an inbound event.
// Open is supplied by the transport that produced the event.
type Ref struct {
	Kind model.ContentKind
	MIME string
	Open func(ctx context.Context) (io.ReadCloser, error)
}

// FetchError reports a failed media download. Callers must not record
// a message referencing the media when Fetch fails.
type FetchError struct {
	Kind model.ContentKind
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("media fetch (%s): %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher streams remote payloads into a local directory, one file per
// payload, named by a random uuid with an extension inferred from the
// reported MIME type.
type Fetcher struct {
	dir string
}

func NewFetcher(dir string) *Fetcher {
	return &Fetcher{dir: dir}
}

// Dir returns the storage directory.
func (f *Fetcher) Dir() string { return f.dir }

// Fetch downloads the payload and returns the stored file name and its
// content kind. The file is fully written before Fetch returns; on any
// failure the partial file is removed and a *FetchError is returned.
func (f *Fetcher) Fetch(ctx context.Context, ref Ref) (string, model.ContentKind, error) {
	if ref.Open == nil {
		return "", "", &FetchError{Kind: ref.Kind, Err: fmt.Errorf("no payload source")}
	}
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return "", "", &FetchError{Kind: ref.Kind, Err: err}
	}

	body, err := ref.Open(ctx)
	if err != nil {
		return "", "", &FetchError{Kind: ref.Kind, Err: err}
	}
	defer body.Close()

	name := uuid.New().String() + extensionFor(ref.MIME)
	path := filepath.Join(f.dir, name)

	out, err := os.Create(path)
	if err != nil {
		return "", "", &FetchError{Kind: ref.Kind, Err: err}
	}

	if _, err := io.Copy(out, body); err != nil {
		out.Close()
		os.Remove(path)
		return "", "", &FetchError{Kind: ref.Kind, Err: err}
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return "", "", &FetchError{Kind: ref.Kind, Err: err}
	}

	return name, ref.Kind, nil
}

// extensionFor maps a MIME type to a file extension, preferring the
// short conventional forms over what the mime package reports.
func extensionFor(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "video/mp4":
		return ".mp4"
	case "audio/m4a", "audio/x-m4a", "audio/mp4":
		return ".m4a"
	case "audio/ogg":
		return ".ogg"
	case "application/pdf":
		return ".pdf"
	}
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}
