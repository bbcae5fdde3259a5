// Package s3test provides an in-memory S3-compatible server for tests. It
// implements just the bucket and object calls the object store issues and
// records the canned ACL sent with each upload.
package s3test

import (
	"bufio"
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// Object is a stored object.
type Object struct {
	Data         []byte
	ContentType  string
	ACL          string
	ETag         string
	LastModified time.Time
}

// Server is an in-memory S3 endpoint. The zero value is not usable; call
// NewServer.
type Server struct {
	mu      sync.Mutex
	buckets map[string]map[string]*Object
	failPut map[string]bool
	log     []string
}

// NewServer returns an empty server.
func NewServer() *Server {
	return &Server{
		buckets: make(map[string]map[string]*Object),
		failPut: make(map[string]bool),
	}
}

// Start runs a new Server behind an httptest.Server that is closed when the
// test ends. The returned endpoint is a bare host:port.
func Start(tb testing.TB) (*Server, string) {
	tb.Helper()

	srv := NewServer()
	httpSrv := httptest.NewServer(srv.Handler())
	tb.Cleanup(httpSrv.Close)

	return srv, strings.TrimPrefix(httpSrv.URL, "http://")
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	return mux
}

// CreateBucket creates bucket if it does not already exist.
func (s *Server) CreateBucket(bucket string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.buckets[bucket]; !ok {
		s.buckets[bucket] = make(map[string]*Object)
	}
}

// Object returns a copy of the stored object.
func (s *Server) Object(bucket, key string) (Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.buckets[bucket][key]
	if !ok {
		return Object{}, false
	}
	return *obj, true
}

// Keys returns the keys stored in bucket.
func (s *Server) Keys(bucket string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.buckets[bucket]))
	for k := range s.buckets[bucket] {
		keys = append(keys, k)
	}
	return keys
}

// FailPuts makes uploads of key fail with AccessDenied until cleared. The
// error is not one clients retry.
func (s *Server) FailPuts(key string, fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failPut[key] = fail
}

// Log returns the object-level operations seen so far, formatted as
// "METHOD key".
func (s *Server) Log() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.log...)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	bucket, key := parseBucketAndKey(r.URL.Path)
	if bucket == "" {
		writeS3Error(w, r, "NotImplemented", "A header you provided implies functionality that is not implemented.", http.StatusNotImplemented)
		return
	}

	if key == "" {
		switch r.Method {
		case http.MethodHead:
			s.handleHeadBucket(w, r, bucket)
		case http.MethodPut:
			s.handleCreateBucket(w, r, bucket)
		case http.MethodGet:
			if _, ok := r.URL.Query()["location"]; ok {
				s.handleBucketLocation(w, r, bucket)
				return
			}
			s.handleListObjects(w, r, bucket)
		case http.MethodDelete:
			s.handleDeleteBucket(w, r, bucket)
		default:
			writeS3Error(w, r, "MethodNotAllowed", "The specified method is not allowed against this resource.", http.StatusMethodNotAllowed)
		}
		return
	}

	s.mu.Lock()
	s.log = append(s.log, r.Method+" "+key)
	s.mu.Unlock()

	switch r.Method {
	case http.MethodPut:
		s.handlePutObject(w, r, bucket, key)
	case http.MethodGet, http.MethodHead:
		s.handleGetObject(w, r, bucket, key)
	case http.MethodDelete:
		s.handleDeleteObject(w, r, bucket, key)
	default:
		writeS3Error(w, r, "MethodNotAllowed", "The specified method is not allowed against this resource.", http.StatusMethodNotAllowed)
	}
}

func parseBucketAndKey(path string) (bucket, key string) {
	clean := strings.TrimPrefix(path, "/")
	if clean == "" {
		return "", ""
	}
	bucket, key, _ = strings.Cut(clean, "/")
	return bucket, key
}

func (s *Server) handleHeadBucket(w http.ResponseWriter, r *http.Request, bucket string) {
	s.mu.Lock()
	_, ok := s.buckets[bucket]
	s.mu.Unlock()

	if !ok {
		writeS3Error(w, r, "NoSuchBucket", "The specified bucket does not exist.", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleCreateBucket(w http.ResponseWriter, r *http.Request, bucket string) {
	_, _ = io.Copy(io.Discard, r.Body)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.buckets[bucket]; ok {
		writeS3Error(w, r, "BucketAlreadyOwnedByYou", "Your previous request to create the named bucket succeeded and you already own it.", http.StatusConflict)
		return
	}
	s.buckets[bucket] = make(map[string]*Object)
	w.Header().Set("Location", "/"+bucket)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDeleteBucket(w http.ResponseWriter, r *http.Request, bucket string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	objects, ok := s.buckets[bucket]
	if !ok {
		writeS3Error(w, r, "NoSuchBucket", "The specified bucket does not exist.", http.StatusNotFound)
		return
	}
	if len(objects) > 0 {
		writeS3Error(w, r, "BucketNotEmpty", "The bucket you tried to delete is not empty.", http.StatusConflict)
		return
	}
	delete(s.buckets, bucket)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBucketLocation(w http.ResponseWriter, r *http.Request, bucket string) {
	s.mu.Lock()
	_, ok := s.buckets[bucket]
	s.mu.Unlock()

	if !ok {
		writeS3Error(w, r, "NoSuchBucket", "The specified bucket does not exist.", http.StatusNotFound)
		return
	}

	type locationConstraint struct {
		XMLName xml.Name `xml:"http://s3.amazonaws.com/doc/2006-03-01/ LocationConstraint"`
		Value   string   `xml:",chardata"`
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_ = xml.NewEncoder(w).Encode(locationConstraint{})
}

type listBucketResult struct {
	XMLName     xml.Name        `xml:"http://s3.amazonaws.com/doc/2006-03-01/ ListBucketResult"`
	Name        string          `xml:"Name"`
	Prefix      string          `xml:"Prefix"`
	KeyCount    int             `xml:"KeyCount"`
	MaxKeys     int             `xml:"MaxKeys"`
	IsTruncated bool            `xml:"IsTruncated"`
	Contents    []objectSummary `xml:"Contents"`
}

type objectSummary struct {
	Key          string `xml:"Key"`
	LastModified string `xml:"LastModified"`
	ETag         string `xml:"ETag"`
	Size         int64  `xml:"Size"`
	StorageClass string `xml:"StorageClass"`
}

// handleListObjects answers ListObjects (v1 and v2) with every matching key
// in a single untruncated page.
func (s *Server) handleListObjects(w http.ResponseWriter, r *http.Request, bucket string) {
	prefix := r.URL.Query().Get("prefix")

	s.mu.Lock()
	objects, ok := s.buckets[bucket]
	var summaries []objectSummary
	for key, obj := range objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		summaries = append(summaries, objectSummary{
			Key:          key,
			LastModified: obj.LastModified.UTC().Format(time.RFC3339),
			ETag:         obj.ETag,
			Size:         int64(len(obj.Data)),
			StorageClass: "STANDARD",
		})
	}
	s.mu.Unlock()

	if !ok {
		writeS3Error(w, r, "NoSuchBucket", "The specified bucket does not exist.", http.StatusNotFound)
		return
	}

	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Key < summaries[j].Key })

	resp := listBucketResult{
		Name:     bucket,
		Prefix:   prefix,
		KeyCount: len(summaries),
		MaxKeys:  1000,
		Contents: summaries,
	}

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	if err := xml.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("Encode list objects XML", "bucket", bucket, "err", err)
	}
}

func (s *Server) handlePutObject(w http.ResponseWriter, r *http.Request, bucket, key string) {
	var (
		data []byte
		err  error
	)
	if isStreaming(r) {
		data, err = decodeStreamingPayload(r.Body)
	} else {
		data, err = io.ReadAll(r.Body)
	}
	if err != nil {
		slog.Error("Read upload body", "bucket", bucket, "key", key, "err", err)
		writeS3Error(w, r, "IncompleteBody", "You did not provide the number of bytes specified by the Content-Length HTTP header.", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	objects, ok := s.buckets[bucket]
	if !ok {
		writeS3Error(w, r, "NoSuchBucket", "The specified bucket does not exist.", http.StatusNotFound)
		return
	}
	if s.failPut[key] {
		writeS3Error(w, r, "AccessDenied", "Access Denied.", http.StatusForbidden)
		return
	}

	sum := md5.Sum(data)
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	obj := &Object{
		Data:         data,
		ContentType:  contentType,
		ACL:          r.Header.Get("X-Amz-Acl"),
		ETag:         hex.EncodeToString(sum[:]),
		LastModified: time.Now().UTC().Truncate(time.Second),
	}
	objects[key] = obj

	w.Header().Set("ETag", fmt.Sprintf("\"%s\"", obj.ETag))
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleGetObject(w http.ResponseWriter, r *http.Request, bucket, key string) {
	s.mu.Lock()
	objects, bucketOK := s.buckets[bucket]
	var obj *Object
	if bucketOK {
		obj = objects[key]
	}
	s.mu.Unlock()

	switch {
	case !bucketOK:
		writeS3Error(w, r, "NoSuchBucket", "The specified bucket does not exist.", http.StatusNotFound)
		return
	case obj == nil:
		writeS3Error(w, r, "NoSuchKey", "The specified key does not exist.", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", obj.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(obj.Data)))
	w.Header().Set("Last-Modified", obj.LastModified.Format(http.TimeFormat))
	w.Header().Set("ETag", fmt.Sprintf("\"%s\"", obj.ETag))
	w.Header().Set("Accept-Ranges", "bytes")
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodGet {
		_, _ = w.Write(obj.Data)
	}
}

func (s *Server) handleDeleteObject(w http.ResponseWriter, r *http.Request, bucket, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	objects, ok := s.buckets[bucket]
	if !ok {
		writeS3Error(w, r, "NoSuchBucket", "The specified bucket does not exist.", http.StatusNotFound)
		return
	}
	delete(objects, key)
	w.WriteHeader(http.StatusNoContent)
}

func isStreaming(r *http.Request) bool {
	if strings.HasPrefix(strings.ToUpper(r.Header.Get("X-Amz-Content-Sha256")), "STREAMING-") {
		return true
	}
	return strings.Contains(r.Header.Get("Content-Encoding"), "aws-chunked")
}

// decodeStreamingPayload decodes an aws-chunked body, signed or not, and
// discards any trailing headers after the final chunk.
func decodeStreamingPayload(body io.Reader) ([]byte, error) {
	br := bufio.NewReader(body)

	var out []byte
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, errors.New("unexpected EOF while reading chunk header")
			}
			return nil, fmt.Errorf("read chunk header: %w", err)
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		// Strip chunk extensions such as ";chunk-signature=...".
		if idx := strings.IndexByte(line, ';'); idx != -1 {
			line = line[:idx]
		}

		size, err := strconv.ParseInt(strings.TrimSpace(line), 16, 64)
		if err != nil {
			return nil, fmt.Errorf("parse chunk size %q: %w", line, err)
		}
		if size == 0 {
			_, _ = io.Copy(io.Discard, br)
			return out, nil
		}

		chunk := make([]byte, size)
		if _, err := io.ReadFull(br, chunk); err != nil {
			return nil, fmt.Errorf("read chunk body: %w", err)
		}
		out = append(out, chunk...)

		if _, err := br.Discard(2); err != nil {
			return nil, fmt.Errorf("read chunk terminator: %w", err)
		}
	}
}

func writeS3Error(w http.ResponseWriter, r *http.Request, code, message string, status int) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return
	}

	type s3Error struct {
		XMLName  xml.Name `xml:"Error"`
		Code     string   `xml:"Code"`
		Message  string   `xml:"Message"`
		Resource string   `xml:"Resource"`
	}
	_ = xml.NewEncoder(w).Encode(s3Error{
		Code:     code,
		Message:  message,
		Resource: r.URL.Path,
	})
}
