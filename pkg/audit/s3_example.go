//go:build s3audit
// +build s3audit

// This file provides an example S3Recorder implementation.
// It is excluded from regular builds because it requires the AWS SDK.
//
// To use this in your project, copy this file and add the AWS SDK:
//   go get github.com/aws/aws-sdk-go-v2
//   go get github.com/aws/aws-sdk-go-v2/config
//   go get github.com/aws/aws-sdk-go-v2/service/s3

package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Recorder batches entries and ships them to S3 as JSONL objects.
//
// Example usage:
//
//	cfg, _ := config.LoadDefaultConfig(context.Background())
//	s3Client := s3.NewFromConfig(cfg)
//	rec := audit.NewS3Recorder(s3Client, "my-bucket", "audit/syncroom/", 500)
//	defer rec.Close()
type S3Recorder struct {
	client    *s3.Client
	bucket    string
	prefix    string
	batchSize int

	mu     sync.Mutex
	buf    []Entry
	closed bool
}

// NewS3Recorder creates an S3-backed recorder.
//
// Parameters:
//   - client: AWS S3 client from aws-sdk-go-v2
//   - bucket: S3 bucket name
//   - prefix: Key prefix for objects (e.g., "audit/syncroom/")
//   - batchSize: Entries per object (0 = 500)
func NewS3Recorder(client *s3.Client, bucket, prefix string, batchSize int) *S3Recorder {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &S3Recorder{
		client:    client,
		bucket:    bucket,
		prefix:    prefix,
		batchSize: batchSize,
	}
}

// Record buffers e and flushes once the batch is full.
func (r *S3Recorder) Record(e Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}

	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	r.buf = append(r.buf, e)

	if len(r.buf) >= r.batchSize {
		return r.flushLocked()
	}
	return nil
}

// Flush uploads any buffered entries immediately.
func (r *S3Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrClosed
	}
	return r.flushLocked()
}

// Close flushes buffered entries and marks the recorder closed.
func (r *S3Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	err := r.flushLocked()
	r.closed = true
	return err
}

func (r *S3Recorder) flushLocked() error {
	if len(r.buf) == 0 {
		return nil
	}

	var body bytes.Buffer
	enc := json.NewEncoder(&body)
	for _, e := range r.buf {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}

	now := time.Now().UTC()
	key := r.prefix + now.Format("20060102T150405.000000000Z") + ".jsonl"

	_, err := r.client.PutObject(context.Background(), &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
		Metadata: map[string]string{
			"entry-count": strconv.Itoa(len(r.buf)),
			"flush-time":  now.Format(time.RFC3339),
		},
	})
	if err != nil {
		return fmt.Errorf("s3 audit flush failed: %w", err)
	}

	r.buf = r.buf[:0]
	return nil
}
