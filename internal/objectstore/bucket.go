// Package objectstore stores uploaded job files in a named bucket on an afero filesystem.
package objectstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// JobFilesBucket is the bucket that holds photos attached to time entries.
const JobFilesBucket = "job-files"

var (
	// ErrInvalidObjectPath indicates a path outside the bucket or without a job scope.
	ErrInvalidObjectPath = errors.New("objectstore: invalid object path")
	errMissingFilesystem = errors.New("objectstore: filesystem required")
)

// BucketConfig configures a Bucket.
type BucketConfig struct {
	Filesystem    afero.Fs
	Name          string
	PublicBaseURL string
	Clock         func() time.Time
	Random        io.Reader
}

// Bucket is a flat object namespace rooted at <Name>/ inside the filesystem.
type Bucket struct {
	fs            afero.Fs
	name          string
	publicBaseURL string
	clock         func() time.Time
	random        io.Reader
}

// NewBucket constructs a Bucket and ensures its root directory exists.
func NewBucket(cfg BucketConfig) (*Bucket, error) {
	if cfg.Filesystem == nil {
		return nil, errMissingFilesystem
	}
	name := strings.Trim(strings.TrimSpace(cfg.Name), "/")
	if name == "" {
		name = JobFilesBucket
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	random := cfg.Random
	if random == nil {
		random = rand.Reader
	}
	if err := cfg.Filesystem.MkdirAll(name, 0o755); err != nil {
		return nil, fmt.Errorf("objectstore: create bucket %s: %w", name, err)
	}
	return &Bucket{
		fs:            cfg.Filesystem,
		name:          name,
		publicBaseURL: strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/"),
		clock:         clock,
		random:        random,
	}, nil
}

// ObjectPath returns a fresh object path of the form <jobID>/<unixMillis>_<random>.<ext>.
func (b *Bucket) ObjectPath(jobID, filename string) (string, error) {
	scope := strings.TrimSpace(jobID)
	if scope == "" || strings.ContainsAny(scope, `/\`) || scope == "." || scope == ".." {
		return "", fmt.Errorf("%w: job id %q", ErrInvalidObjectPath, jobID)
	}
	suffix := make([]byte, 4)
	if _, err := io.ReadFull(b.random, suffix); err != nil {
		return "", err
	}
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(filename)), ".")
	if ext == "" {
		ext = "bin"
	}
	return fmt.Sprintf("%s/%d_%s.%s", scope, b.clock().UnixMilli(), hex.EncodeToString(suffix), ext), nil
}

// Upload writes body under objectPath.
func (b *Bucket) Upload(ctx context.Context, objectPath string, body io.Reader) error {
	fullPath, err := b.resolve(objectPath)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.fs.MkdirAll(path.Dir(fullPath), 0o755); err != nil {
		return err
	}
	file, err := b.fs.Create(fullPath)
	if err != nil {
		return err
	}
	if _, err := io.Copy(file, body); err != nil {
		_ = file.Close()
		_ = b.fs.Remove(fullPath)
		return err
	}
	return file.Close()
}

// PublicURL returns the URL that serves objectPath.
func (b *Bucket) PublicURL(objectPath string) string {
	return fmt.Sprintf("%s/files/%s/%s", b.publicBaseURL, b.name, strings.TrimLeft(objectPath, "/"))
}

// Open reads an object.
func (b *Bucket) Open(objectPath string) (afero.File, error) {
	fullPath, err := b.resolve(objectPath)
	if err != nil {
		return nil, err
	}
	return b.fs.Open(fullPath)
}

// FileSystem exposes the bucket as an http.FileSystem rooted at the bucket directory.
func (b *Bucket) FileSystem() http.FileSystem {
	return afero.NewHttpFs(afero.NewBasePathFs(b.fs, b.name))
}

// Name returns the bucket name.
func (b *Bucket) Name() string {
	return b.name
}

func (b *Bucket) resolve(objectPath string) (string, error) {
	cleaned := path.Clean("/" + strings.TrimSpace(objectPath))
	if cleaned == "/" || !strings.Contains(strings.TrimPrefix(cleaned, "/"), "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidObjectPath, objectPath)
	}
	return path.Join(b.name, cleaned), nil
}
