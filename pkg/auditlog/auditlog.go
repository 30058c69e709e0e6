// Package auditlog persists authentication decisions to S3 as gzipped
// NDJSON batches. The trail is best effort: recording never blocks or
// fails the request being decided.
package auditlog

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	pgcfg "github.com/mkonda/poolguard/pkg/config"
)

const (
	// DefaultTimeout is the default timeout for S3 operations
	DefaultTimeout = 10 * time.Second

	// DefaultRetries is the default number of retries for S3 operations
	DefaultRetries = 3

	// DefaultBatchSize is the number of entries batched before a write
	DefaultBatchSize = 32
)

// Entry is one recorded authentication decision.
type Entry struct {
	Time       time.Time `json:"time"`
	Result     string    `json:"result"` // "allow" or "deny"
	Kind       string    `json:"kind,omitempty"`
	Subject    string    `json:"subject,omitempty"`
	TokenUse   string    `json:"token_use,omitempty"`
	ClientID   string    `json:"client_id,omitempty"`
	Path       string    `json:"path,omitempty"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	RequestID  string    `json:"request_id,omitempty"`
	DurationMS int64     `json:"duration_ms"`
}

// Trail records authentication decisions. Implementations must be safe
// for concurrent use.
type Trail interface {
	Record(e Entry)
	Flush() error
	Close() error
}

// s3ClientInterface is the subset of the S3 API the trail uses
type s3ClientInterface interface {
	PutObject(context.Context, *s3.PutObjectInput, ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Trail batches decision entries and writes them to S3 on a timer, when
// the batch fills, or on shutdown.
type S3Trail struct {
	bucket    string
	prefix    string
	timeout   time.Duration
	batchSize int
	flushAge  time.Duration

	s3Client s3ClientInterface
	mu       sync.Mutex
	batch    []Entry
	timer    *time.Timer
	ctx      context.Context
	cancel   context.CancelFunc
	timeNow  func() time.Time
}

// nopTrail drops every entry. Used when the audit trail is disabled.
type nopTrail struct{}

func (nopTrail) Record(Entry) {}
func (nopTrail) Flush() error { return nil }
func (nopTrail) Close() error { return nil }

// New builds the audit trail described by the config. When auditing is
// disabled or no bucket is configured a no-op trail is returned.
func New(cfg *pgcfg.Config) Trail {
	if cfg.Audit == nil || !cfg.Audit.Enabled || cfg.Audit.S3Bucket == "" {
		return nopTrail{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &S3Trail{
		bucket:    cfg.Audit.S3Bucket,
		prefix:    cfg.Audit.S3Prefix,
		timeout:   DefaultTimeout,
		batchSize: DefaultBatchSize,
		flushAge:  cfg.Audit.FlushInterval,
		batch:     make([]Entry, 0, DefaultBatchSize),
		ctx:       ctx,
		cancel:    cancel,
		timeNow:   time.Now,
	}
	if t.flushAge <= 0 {
		t.flushAge = time.Minute
	}

	t.initS3Client()
	t.startFlushTimer()
	return t
}

func (t *S3Trail) initS3Client() {
	awsCfg, err := awsconfig.LoadDefaultConfig(t.ctx, awsconfig.WithRetryMaxAttempts(DefaultRetries))
	if err != nil {
		slog.Error("Failed to load AWS config for audit trail",
			slog.String("error", err.Error()))
		return
	}

	t.s3Client = s3.NewFromConfig(awsCfg)
	slog.Debug("S3 client initialized for audit trail",
		slog.String("bucket", t.bucket),
		slog.String("prefix", t.prefix))
}

func (t *S3Trail) startFlushTimer() {
	t.timer = time.AfterFunc(t.flushAge, func() {
		if err := t.Flush(); err != nil {
			slog.Error("Failed to flush audit batch on timer",
				slog.String("error", err.Error()))
		}
		select {
		case <-t.ctx.Done():
		default:
			t.startFlushTimer()
		}
	})
}

// Record appends one decision to the pending batch. A full batch is
// written out asynchronously so the caller never waits on S3.
func (t *S3Trail) Record(e Entry) {
	if e.Time.IsZero() {
		e.Time = t.timeNow()
	}

	t.mu.Lock()
	t.batch = append(t.batch, e)
	full := len(t.batch) >= t.batchSize
	t.mu.Unlock()

	if full {
		go func() {
			if err := t.Flush(); err != nil {
				slog.Error("Failed to flush full audit batch",
					slog.String("error", err.Error()))
			}
		}()
	}
}

// Flush writes all pending entries to S3.
func (t *S3Trail) Flush() error {
	t.mu.Lock()
	if len(t.batch) == 0 {
		t.mu.Unlock()
		return nil
	}
	pending := t.batch
	t.batch = make([]Entry, 0, t.batchSize)
	t.mu.Unlock()

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range pending {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("failed to encode audit entry: %w", err)
		}
	}

	compressed, err := compressGzip(buf.Bytes())
	if err != nil {
		return fmt.Errorf("failed to compress audit batch: %w", err)
	}

	return t.writeObject(t.objectKey(), compressed)
}

// objectKey builds a date-partitioned key for one batch object.
func (t *S3Trail) objectKey() string {
	now := t.timeNow()
	parts := []string{strings.Trim(t.prefix, "/")}

	parts = append(parts, fmt.Sprintf("%d/%02d/%02d", now.Year(), now.Month(), now.Day()))

	filename := fmt.Sprintf("%s-%d%02d%02d-%02d%02d%02d.json.gz",
		uuid.New().String(),
		now.Year(), now.Month(), now.Day(),
		now.Hour(), now.Minute(), now.Second())

	parts = append(parts, filename)
	return strings.Join(parts, "/")
}

// writeObject uploads one compressed batch to S3.
func (t *S3Trail) writeObject(key string, body []byte) error {
	if t.s3Client == nil {
		return errors.New("S3 client not initialized")
	}

	ctx, cancel := context.WithTimeout(t.ctx, t.timeout)
	defer cancel()

	metadata := map[string]string{
		"source":           "poolguard",
		"created-at":       t.timeNow().Format(time.RFC3339),
		"content-type":     "application/json",
		"content-encoding": "gzip",
	}

	_, err := t.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:            aws.String(t.bucket),
		Key:               aws.String(key),
		Body:              bytes.NewReader(body),
		ContentType:       aws.String("application/json"),
		ContentEncoding:   aws.String("gzip"),
		ChecksumAlgorithm: s3types.ChecksumAlgorithmSha256,
		Metadata:          metadata,
	})
	if err != nil {
		slog.Error("Failed to write audit batch to S3",
			slog.String("bucket", t.bucket),
			slog.String("key", key),
			slog.String("error", err.Error()))
		return fmt.Errorf("failed to write audit batch to S3: %w", err)
	}

	slog.Debug("Wrote audit batch to S3",
		slog.String("bucket", t.bucket),
		slog.String("key", key),
		slog.Int("bytes", len(body)))
	return nil
}

// Close stops the flush timer and writes any remaining entries.
func (t *S3Trail) Close() error {
	if t.timer != nil {
		t.timer.Stop()
	}

	err := t.Flush()
	t.cancel()
	return err
}

func compressGzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)

	if _, err := gz.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write to gzip writer: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}
