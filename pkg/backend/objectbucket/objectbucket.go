/*
Copyright 2011 Google Inc.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package objectbucket implements the object-bucket back-end provider
// against an S3-compatible object store, using the same
// github.com/aws/aws-sdk-go client the teacher's blobserver/s3 storage
// type is built on.
package objectbucket

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"

	"coldvault/pkg/backend"
	"coldvault/pkg/coldvaulterr"
)

// Config is the subset of [object-bucket] the provider needs.
type Config struct {
	AccessKey       string
	SecretAccessKey string
	// Bucket is lowercased and prefixed with the access key id, since
	// S3 bucket names are a single global namespace.
	Bucket   string
	Hostname string // optional; defaults to s3.amazonaws.com
}

// Backend is the object-bucket backend.Backend implementation.
type Backend struct {
	cfg    Config
	bucket string

	mu     sync.Mutex
	sess   *session.Session
	svc    *s3.S3
	closed bool
}

// New constructs a Backend for cfg. Connect must be called before use.
func New(cfg Config) *Backend {
	bucket := strings.ToLower(cfg.AccessKey + "-" + cfg.Bucket)
	return &Backend{cfg: cfg, bucket: bucket}
}

func (b *Backend) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.svc != nil {
		return nil
	}
	hostname := b.cfg.Hostname
	if hostname == "" {
		hostname = "s3.amazonaws.com"
	}
	sess, err := session.NewSession(&aws.Config{
		Endpoint:         aws.String("https://" + hostname),
		Region:           aws.String("us-east-1"),
		Credentials:      credentials.NewStaticCredentials(b.cfg.AccessKey, b.cfg.SecretAccessKey, ""),
		S3ForcePathStyle: aws.Bool(true),
	})
	if err != nil {
		return coldvaulterr.BackendErrorf(err, "creating S3 session")
	}
	svc := s3.New(sess)
	if _, err := svc.HeadBucketWithContext(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.bucket)}); err != nil {
		if aerr, ok := err.(awserr.Error); ok && (aerr.Code() == s3.ErrCodeNoSuchBucket || aerr.Code() == "NotFound") {
			if _, cerr := svc.CreateBucketWithContext(ctx, &s3.CreateBucketInput{Bucket: aws.String(b.bucket)}); cerr != nil {
				return coldvaulterr.BackendErrorf(cerr, "creating bucket %s", b.bucket)
			}
		} else {
			return coldvaulterr.BackendErrorf(err, "checking bucket %s", b.bucket)
		}
	}
	b.sess, b.svc = sess, svc
	return nil
}

func (b *Backend) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sess, b.svc, b.closed = nil, nil, true
	return nil
}

func (b *Backend) Close() error { return b.Disconnect() }

func (b *Backend) Store(ctx context.Context, key string, data []byte) error {
	_, err := b.svc.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return coldvaulterr.BackendErrorf(err, "putting object %s", key)
	}
	return nil
}

func (b *Backend) StoreFromFile(ctx context.Context, key, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return coldvaulterr.BackendErrorf(err, "opening %s", path)
	}
	defer f.Close()
	uploader := s3manager.NewUploader(b.sess)
	_, err = uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
		Body:   f,
	})
	if err != nil {
		return coldvaulterr.BackendErrorf(err, "uploading %s as %s", path, key)
	}
	return nil
}

func (b *Backend) Retrieve(ctx context.Context, key string) ([]byte, error) {
	out, err := b.svc.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, backend.ErrNotFound
		}
		return nil, coldvaulterr.BackendErrorf(err, "getting object %s", key)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, coldvaulterr.BackendErrorf(err, "reading object %s", key)
	}
	return data, nil
}

func (b *Backend) RetrieveToFile(ctx context.Context, key, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return coldvaulterr.BackendErrorf(err, "creating %s", path)
	}
	defer f.Close()
	downloader := s3manager.NewDownloader(b.sess)
	_, err = downloader.DownloadWithContext(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeNoSuchKey {
			return backend.ErrNotFound
		}
		return coldvaulterr.BackendErrorf(err, "downloading object %s", key)
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, key string) error {
	_, err := b.svc.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return coldvaulterr.BackendErrorf(err, "deleting object %s", key)
	}
	return nil
}

func (b *Backend) ListKeys(ctx context.Context) (map[string]backend.Attrs, error) {
	out := make(map[string]backend.Attrs)
	input := &s3.ListObjectsV2Input{Bucket: aws.String(b.bucket)}
	err := b.svc.ListObjectsV2PagesWithContext(ctx, input, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			attrs := backend.Attrs{}
			if obj.Size != nil {
				attrs.Size = *obj.Size
			}
			if obj.LastModified != nil {
				attrs.LastModified = obj.LastModified.Format("2006-01-02T15:04:05Z")
			}
			out[aws.StringValue(obj.Key)] = attrs
		}
		return true
	})
	if err != nil {
		return nil, coldvaulterr.BackendErrorf(err, "listing bucket %s", b.bucket)
	}
	return out, nil
}

func (b *Backend) List(ctx context.Context) (map[string][]byte, error) {
	keys, err := b.ListKeys(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(keys))
	for k := range keys {
		data, err := b.Retrieve(ctx, k)
		if err != nil {
			return nil, fmt.Errorf("retrieving %s: %w", k, err)
		}
		out[k] = data
	}
	return out, nil
}
