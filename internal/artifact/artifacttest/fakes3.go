// Package artifacttest provides an in-process S3 endpoint for tests.
package artifacttest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// FakeS3 serves HEAD, GET (with byte ranges) and PUT for path-style object URLs.
type FakeS3 struct {
	Server *httptest.Server
	Bucket string

	mu      sync.Mutex
	objects map[string][]byte
	denied  map[string]bool
	heads   int
}

func NewFakeS3(bucket string) *FakeS3 {
	f := &FakeS3{
		Bucket:  bucket,
		objects: make(map[string][]byte),
		denied:  make(map[string]bool),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	return f
}

func (f *FakeS3) Close() {
	f.Server.Close()
}

// PutObject seeds an object.
func (f *FakeS3) PutObject(key string, body []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = append([]byte(nil), body...)
}

// Deny makes every request for key answer 403.
func (f *FakeS3) Deny(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.denied[key] = true
}

func (f *FakeS3) Object(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[key]
	return b, ok
}

func (f *FakeS3) HeadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.heads
}

// Client returns an S3 client aimed at the fake endpoint.
func (f *FakeS3) Client() (*s3.Client, aws.CredentialsProvider) {
	creds := StaticCredentials()
	client := s3.New(s3.Options{
		Region:                     "us-east-1",
		BaseEndpoint:               aws.String(f.Server.URL),
		UsePathStyle:               true,
		Credentials:                creds,
		RetryMaxAttempts:           1,
		RequestChecksumCalculation: aws.RequestChecksumCalculationWhenRequired,
		ResponseChecksumValidation: aws.ResponseChecksumValidationWhenRequired,
	})
	return client, creds
}

// StaticCredentials is a fixed test credential.
func StaticCredentials() aws.CredentialsProvider {
	return aws.CredentialsProviderFunc(func(context.Context) (aws.Credentials, error) {
		return aws.Credentials{AccessKeyID: "AKIDTEST", SecretAccessKey: "secret", Source: "test"}, nil
	})
}

func (f *FakeS3) serve(w http.ResponseWriter, r *http.Request) {
	prefix := "/" + f.Bucket + "/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	key := strings.TrimPrefix(r.URL.Path, prefix)

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.denied[key] {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	switch r.Method {
	case http.MethodHead:
		f.heads++
		body, ok := f.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		body, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			_, _ = fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			return
		}
		status := http.StatusOK
		if rng := r.Header.Get("Range"); rng != "" {
			var start, end int
			if _, err := fmt.Sscanf(rng, "bytes=%d-%d", &start, &end); err == nil && start < len(body) {
				if end >= len(body) {
					end = len(body) - 1
				}
				body = body[start : end+1]
				status = http.StatusPartialContent
			}
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.WriteHeader(status)
		_, _ = w.Write(body)
	case http.MethodPut:
		b, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.objects[key] = b
		w.Header().Set("ETag", `"fake"`)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}
