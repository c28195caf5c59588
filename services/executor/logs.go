package executor

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"

	gos3 "trustd/pkg/s3"
)

// Archiver persists grader output to object storage before an outcome is
// reported, so failed runs stay diagnosable after the process is gone.
type Archiver struct {
	client *gos3.Client
	bucket string
}

// NewArchiver creates an Archiver writing to the given bucket.
func NewArchiver(client *gos3.Client, bucket string) (*Archiver, error) {
	if client == nil {
		return nil, errors.New("s3 client is required")
	}
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	return &Archiver{client: client, bucket: bucket}, nil
}

// LogKey is the object key for one attempt's archived grader output.
func LogKey(jobID string, attempt int) string {
	return fmt.Sprintf("jobs/%s/attempt-%d.log.zst", jobID, attempt)
}

// Archive uploads the zstd-compressed stdout and stderr of one attempt and
// returns the object key. A nil Archiver is a no-op.
func (a *Archiver) Archive(ctx context.Context, jobID string, attempt int, stdout, stderr []byte) (string, error) {
	if a == nil {
		return "", nil
	}

	var raw bytes.Buffer
	raw.WriteString("--- stdout ---\n")
	raw.Write(stdout)
	raw.WriteString("\n--- stderr ---\n")
	raw.Write(stderr)
	raw.WriteString("\n")

	var compressed bytes.Buffer
	encoder, err := zstd.NewWriter(&compressed)
	if err != nil {
		return "", fmt.Errorf("zstd writer: %w", err)
	}
	if _, err := encoder.Write(raw.Bytes()); err != nil {
		encoder.Close()
		return "", err
	}
	if err := encoder.Close(); err != nil {
		return "", err
	}

	digest := sha256.Sum256(compressed.Bytes())
	key := LogKey(jobID, attempt)

	err = a.client.PutObject(ctx, a.bucket, key,
		bytes.NewReader(compressed.Bytes()), int64(compressed.Len()), hex.EncodeToString(digest[:]))
	if err != nil {
		return "", fmt.Errorf("upload grader log: %w", err)
	}
	return key, nil
}
