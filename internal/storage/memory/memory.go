package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
)

// Uploader implements storage.Uploader with an in-memory record of uploads.
// It is used in tests and local development without an object store.
type Uploader struct {
	mu        sync.Mutex
	baseURL   string
	uploads   []string
	failAll   bool
	failAfter int
}

// New creates a new in-memory uploader.
func New(baseURL string) *Uploader {
	return &Uploader{baseURL: baseURL}
}

// FailUploads makes every subsequent Upload return an error. Used to simulate
// object-store outages in tests.
func (u *Uploader) FailUploads(fail bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.failAll = fail
}

// FailAfter lets the next n uploads succeed and fails every one after that.
func (u *Uploader) FailAfter(n int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.failAfter = n
}

// Upload records the staged path and returns a URL derived from the file name.
func (u *Uploader) Upload(_ context.Context, localPath string) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.failAll || (u.failAfter > 0 && len(u.uploads) >= u.failAfter) {
		return "", fmt.Errorf("upload %s: storage unavailable", localPath)
	}

	u.uploads = append(u.uploads, localPath)
	return fmt.Sprintf("%s/media/%s", u.baseURL, filepath.Base(localPath)), nil
}

// Uploads returns the staged paths seen so far.
func (u *Uploader) Uploads() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]string, len(u.uploads))
	copy(out, u.uploads)
	return out
}
