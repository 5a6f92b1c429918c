package storage

import (
	"context"
)

// Uploader pushes a locally staged file to durable object storage.
//
// Upload takes the path of a file already written to local disk by the upload
// middleware and returns its public URL. Any transport or service failure is
// returned as an error; callers decide whether the missing URL is fatal (the
// avatar) or tolerated (the cover image).
type Uploader interface {
	Upload(ctx context.Context, localPath string) (string, error)
}
