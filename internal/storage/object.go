package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"

	"attache/internal/keys"
	"attache/internal/mimes"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	// DefaultEndpoint is used when ObjectConfig.Endpoint is empty.
	DefaultEndpoint = "s3.amazonaws.com"
	// DefaultRegion is used when ObjectConfig.Region is empty.
	DefaultRegion = "us-east-1"

	cannedACLHeader = "x-amz-acl"
	publicReadACL   = "public-read"
)

// ObjectConfig configures an ObjectStore.
type ObjectConfig struct {
	Endpoint  string `toml:"endpoint" yaml:"endpoint"`
	Region    string `toml:"region" yaml:"region"`
	Bucket    string `toml:"bucket" yaml:"bucket"`
	AccessKey string `toml:"access_key" yaml:"access_key"`
	SecretKey string `toml:"secret_key" yaml:"secret_key"`
	UseSSL    bool   `toml:"use_ssl" yaml:"use_ssl"`
	PathStyle bool   `toml:"path_style" yaml:"path_style"`

	// PublicURL overrides the base URL used to build object URLs, for
	// example a CDN in front of the bucket.
	PublicURL string `toml:"public_url" yaml:"public_url"`
}

// ObjectStore is a BlobStore backed by an S3-compatible bucket. Every
// stored object is publicly readable.
type ObjectStore struct {
	cfg      ObjectConfig
	detector mimes.Detector

	mu     sync.Mutex
	client *minio.Client
}

// NewObjectStore creates an ObjectStore. No connection is made until the
// first operation that needs one.
func NewObjectStore(cfg ObjectConfig) (*ObjectStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("object storage bucket must not be empty")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}

	// minio wants a bare host[:port].
	if u, err := url.Parse(cfg.Endpoint); err == nil && u.Host != "" {
		cfg.Endpoint = u.Host
		cfg.UseSSL = u.Scheme == "https"
	}
	cfg.PublicURL = strings.TrimSuffix(cfg.PublicURL, "/")

	return &ObjectStore{cfg: cfg, detector: mimes.Sniffer{}}, nil
}

func (s *ObjectStore) Driver() Driver { return DriverS3 }

// Bucket returns the configured bucket name.
func (s *ObjectStore) Bucket() string { return s.cfg.Bucket }

// connect returns the shared client, creating it on first use. Creating a
// minio client performs no network I/O.
func (s *ObjectStore) connect() (*minio.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return s.client, nil
	}

	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(s.cfg.AccessKey, s.cfg.SecretKey, ""),
		Secure: s.cfg.UseSSL,
		Region: s.cfg.Region,
	}
	if s.cfg.PathStyle {
		opts.BucketLookup = minio.BucketLookupPath
	}

	client, err := minio.New(s.cfg.Endpoint, opts)
	if err != nil {
		return nil, fmt.Errorf("create object storage client: %w", err)
	}

	s.client = client
	return client, nil
}

// EnsureBucket checks if the bucket exists, and creates it if it does not.
func (s *ObjectStore) EnsureBucket(ctx context.Context) error {
	client, err := s.connect()
	if err != nil {
		return &Error{Op: "ensure-bucket", Err: err}
	}

	exists, err := client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return &Error{Op: "ensure-bucket", Err: fmt.Errorf("check bucket existence: %w", err)}
	}

	if !exists {
		if err := client.MakeBucket(ctx, s.cfg.Bucket, minio.MakeBucketOptions{Region: s.cfg.Region}); err != nil {
			return &Error{Op: "ensure-bucket", Err: fmt.Errorf("create bucket %q: %w", s.cfg.Bucket, err)}
		}
		slog.Info("Created bucket", "bucket", s.cfg.Bucket)
	}
	return nil
}

// Put uploads the file at sourcePath as a public-read object. The canned
// ACL travels with the upload request so no second round trip is needed.
func (s *ObjectStore) Put(ctx context.Context, key string, sourcePath string, contentType string) error {
	client, err := s.connect()
	if err != nil {
		return &Error{Op: "put", Key: key, Err: err}
	}

	objectKey := keys.ObjectKey(key)

	if contentType == "" {
		if contentType, err = s.detector.Detect(sourcePath); err != nil {
			return &Error{Op: "put", Key: key, Err: err}
		}
	}

	f, err := os.Open(sourcePath)
	if err != nil {
		return &Error{Op: "put", Key: key, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return &Error{Op: "put", Key: key, Err: err}
	}

	_, err = client.PutObject(ctx, s.cfg.Bucket, objectKey, f, info.Size(), minio.PutObjectOptions{
		ContentType:  contentType,
		UserMetadata: map[string]string{cannedACLHeader: publicReadACL},
	})
	if err != nil {
		return &Error{Op: "put", Key: key, Err: fmt.Errorf("upload object %q to bucket %q: %w", objectKey, s.cfg.Bucket, err)}
	}

	slog.Debug("Uploaded object", "bucket", s.cfg.Bucket, "object", objectKey, "size", info.Size())
	return nil
}

// URL returns the object's public URL without contacting the backend.
func (s *ObjectStore) URL(key string) string {
	objectKey := keys.ObjectKey(key)

	segments := strings.Split(objectKey, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	escaped := strings.Join(segments, "/")

	if s.cfg.PublicURL != "" {
		return s.cfg.PublicURL + "/" + escaped
	}

	scheme := "http"
	if s.cfg.UseSSL {
		scheme = "https"
	}

	if s.cfg.PathStyle || !s.virtualHostStyle() {
		return fmt.Sprintf("%s://%s/%s/%s", scheme, s.cfg.Endpoint, url.PathEscape(s.cfg.Bucket), escaped)
	}
	return fmt.Sprintf("%s://%s.%s/%s", scheme, s.cfg.Bucket, s.cfg.Endpoint, escaped)
}

// virtualHostStyle mirrors minio's automatic lookup: only AWS endpoints get
// bucket-as-subdomain URLs, and never for dotted bucket names over TLS.
func (s *ObjectStore) virtualHostStyle() bool {
	if !strings.HasSuffix(s.cfg.Endpoint, "amazonaws.com") {
		return false
	}
	return !(s.cfg.UseSSL && strings.Contains(s.cfg.Bucket, "."))
}

// Contents probes for the object before reading it, so a missing object is
// reported as ErrNotFound rather than as a transport failure.
func (s *ObjectStore) Contents(ctx context.Context, key string) ([]byte, error) {
	client, err := s.connect()
	if err != nil {
		return nil, &Error{Op: "contents", Key: key, Err: err}
	}

	objectKey := keys.ObjectKey(key)

	exists, err := s.objectExists(ctx, client, objectKey)
	if err != nil {
		return nil, &Error{Op: "contents", Key: key, Err: err}
	}
	if !exists {
		return nil, ErrNotFound
	}

	obj, err := client.GetObject(ctx, s.cfg.Bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, &Error{Op: "contents", Key: key, Err: err}
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, &Error{Op: "contents", Key: key, Err: err}
	}
	return data, nil
}

// Delete removes the object. A missing bucket or object counts as success.
func (s *ObjectStore) Delete(ctx context.Context, key string) error {
	client, err := s.connect()
	if err != nil {
		return &Error{Op: "delete", Key: key, Err: err}
	}

	objectKey := keys.ObjectKey(key)

	bucketExists, err := client.BucketExists(ctx, s.cfg.Bucket)
	if err != nil {
		return &Error{Op: "delete", Key: key, Err: fmt.Errorf("check bucket existence: %w", err)}
	}
	if !bucketExists {
		return nil
	}

	exists, err := s.objectExists(ctx, client, objectKey)
	if err != nil {
		return &Error{Op: "delete", Key: key, Err: err}
	}
	if !exists {
		return nil
	}

	if err := client.RemoveObject(ctx, s.cfg.Bucket, objectKey, minio.RemoveObjectOptions{}); err != nil {
		if isNotFound(err) {
			return nil
		}
		return &Error{Op: "delete", Key: key, Err: err}
	}

	slog.Debug("Removed object", "bucket", s.cfg.Bucket, "object", objectKey)
	return nil
}

// List enumerates the bucket recursively. Keys come back as stored, which
// is the ObjectKey form of what was passed to Put. That mapping drops
// characters, so a listed key can differ from the one originally written.
func (s *ObjectStore) List(ctx context.Context, prefix string) ([]Info, error) {
	client, err := s.connect()
	if err != nil {
		return nil, &Error{Op: "list", Key: prefix, Err: err}
	}

	opts := minio.ListObjectsOptions{
		Prefix:    keys.ObjectKey(prefix),
		Recursive: true,
	}

	var infos []Info
	for obj := range client.ListObjects(ctx, s.cfg.Bucket, opts) {
		if obj.Err != nil {
			if isNotFound(obj.Err) {
				return nil, nil
			}
			return nil, &Error{Op: "list", Key: prefix, Err: obj.Err}
		}

		infos = append(infos, Info{Key: obj.Key, Size: obj.Size, LastModified: obj.LastModified.UTC()})
	}
	return infos, nil
}

func (s *ObjectStore) objectExists(ctx context.Context, client *minio.Client, objectKey string) (bool, error) {
	_, err := client.StatObject(ctx, s.cfg.Bucket, objectKey, minio.StatObjectOptions{})
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat object %q: %w", objectKey, err)
}

func isNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return true
	}
	return resp.StatusCode == http.StatusNotFound
}
