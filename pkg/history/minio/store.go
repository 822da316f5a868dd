// Package minio stores run summaries as JSON objects in an S3-compatible bucket.
package minio

import (
	"bytes"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/evagent/evagent/pkg/config"
	"github.com/evagent/evagent/pkg/history"
	"github.com/evagent/evagent/pkg/supervisor"
)

// Config is the subset of the history configuration used by the object store.
type Config struct {
	Endpoint  string
	Bucket    string
	Prefix    string
	Region    string
	UseSSL    bool
	AccessKey string
	SecretKey string
}

// FromHistory converts the history configuration.
func FromHistory(cfg config.HistoryConfig) Config {
	return Config{
		Endpoint:  cfg.Endpoint,
		Bucket:    cfg.Bucket,
		Prefix:    cfg.Prefix,
		Region:    cfg.Region,
		UseSSL:    cfg.UseSSL,
		AccessKey: cfg.AccessKey,
		SecretKey: cfg.SecretKey,
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Endpoint) == "" {
		return errors.New("history endpoint is required")
	}
	if strings.Contains(c.Endpoint, "://") {
		return fmt.Errorf("history endpoint must be host:port without scheme, got %q", c.Endpoint)
	}
	if strings.TrimSpace(c.Bucket) == "" {
		return errors.New("history bucket is required")
	}
	if c.AccessKey == "" || c.SecretKey == "" {
		return errors.New("history access key and secret key are required")
	}
	return nil
}

// Key returns the object key of a run.
func (c Config) Key(runID string) string {
	return path.Join(c.Prefix, runID+".json")
}

// Store implements history.Store on top of a MinIO client.
type Store struct {
	client *minio.Client
	cfg    Config
}

type Factory struct{}

var _ history.Factory = (*Factory)(nil)

func (f *Factory) CreateStore(ctx context.Context, cfg config.HistoryConfig) (history.Store, error) {
	s, err := Open(ctx, FromHistory(cfg))
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Open connects to the object store and creates the bucket when missing.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: newTransport(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object store client: %w", err)
	}

	if err := ensureBucket(ctx, client, cfg.Bucket, cfg.Region); err != nil {
		return nil, fmt.Errorf("ensure history bucket: %w", err)
	}

	return &Store{client: client, cfg: cfg}, nil
}

func ensureBucket(ctx context.Context, client *minio.Client, bucket, region string) error {
	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: region})
}

func newTransport() *http.Transport {
	dialer := &net.Dialer{
		Timeout:   5 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

func (s *Store) Record(ctx context.Context, summary supervisor.RunSummary) error {
	if summary.RunID == "" {
		return errors.New("run summary has no run ID")
	}

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}

	_, err = s.client.PutObject(ctx, s.cfg.Bucket, s.cfg.Key(summary.RunID), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("failed to upload run %s: %w", summary.RunID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, runID string) (supervisor.RunSummary, error) {
	return s.get(ctx, s.cfg.Key(runID))
}

func (s *Store) get(ctx context.Context, key string) (supervisor.RunSummary, error) {
	obj, err := s.client.GetObject(ctx, s.cfg.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return supervisor.RunSummary{}, fmt.Errorf("failed to fetch %s: %w", key, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return supervisor.RunSummary{}, fmt.Errorf("%s: %w", key, history.ErrNotFound)
		}
		return supervisor.RunSummary{}, fmt.Errorf("failed to read %s: %w", key, err)
	}

	summary, err := supervisor.ParseSummary(data)
	if err != nil {
		return supervisor.RunSummary{}, fmt.Errorf("%s: %w", key, err)
	}
	return summary, nil
}

// List reads every summary under the prefix. Objects that do not parse as
// summaries are skipped.
func (s *Store) List(ctx context.Context, query history.Query) ([]history.Entry, error) {
	prefix := s.cfg.Prefix
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	var entries []history.Entry
	for obj := range s.client.ListObjects(ctx, s.cfg.Bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list runs: %w", obj.Err)
		}
		if !strings.HasSuffix(obj.Key, ".json") {
			continue
		}
		summary, err := s.get(ctx, obj.Key)
		if err != nil {
			slog.Warn("Skipping unreadable history object", "key", obj.Key, "error", err)
			continue
		}
		if query.FailedOnly && summary.FinalStatus != 0 {
			continue
		}
		entries = append(entries, history.EntryOf(summary))
	}

	SortEntries(entries)
	if query.Limit > 0 && len(entries) > query.Limit {
		entries = entries[:query.Limit]
	}
	return entries, nil
}

// SortEntries orders entries most recent first.
func SortEntries(entries []history.Entry) {
	slices.SortFunc(entries, func(a, b history.Entry) int {
		if c := b.StartedAt.Compare(a.StartedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.RunID, a.RunID)
	})
}

func (s *Store) Close() error { return nil }
