// Package storage exports activity ledgers to S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	fulfillmentapp "github.com/thegunfirm/Mag-Lock-sub003/internal/application/fulfillment"
	"github.com/thegunfirm/Mag-Lock-sub003/internal/domain/activity"
	infraconfig "github.com/thegunfirm/Mag-Lock-sub003/internal/infrastructure/config"
)

// Ensure S3LedgerArchiver implements LedgerArchiver
var _ fulfillmentapp.LedgerArchiver = (*S3LedgerArchiver)(nil)

// ObjectPutter is the part of the S3 client the archiver needs
type ObjectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3LedgerArchiver writes one JSON document per terminal order.
// It works with AWS S3 and S3-compatible stores (MinIO, RustFS).
type S3LedgerArchiver struct {
	client ObjectPutter
	bucket string
	prefix string
	now    func() time.Time
	logger *zap.Logger
}

// S3LedgerArchiverOption is a functional option for configuring S3LedgerArchiver
type S3LedgerArchiverOption func(*S3LedgerArchiver)

// WithLogger sets a custom logger
func WithLogger(logger *zap.Logger) S3LedgerArchiverOption {
	return func(a *S3LedgerArchiver) {
		a.logger = logger
	}
}

// WithClock overrides the archived_at timestamp source
func WithClock(now func() time.Time) S3LedgerArchiverOption {
	return func(a *S3LedgerArchiver) {
		a.now = now
	}
}

// NewS3LedgerArchiver builds an S3 client from configuration.
// Without static keys the default AWS credential chain is used.
func NewS3LedgerArchiver(ctx context.Context, cfg *infraconfig.ArchiveConfig, opts ...S3LedgerArchiverOption) (*S3LedgerArchiver, error) {
	if cfg == nil {
		return nil, errors.New("archive configuration is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("archive bucket is required")
	}

	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if cfg.AccessKeyID != "" {
		if cfg.SecretAccessKey == "" {
			return nil, errors.New("archive secret access key is required with an access key id")
		}
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint != "" {
		if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
			endpoint = "https://" + endpoint
		}
		if _, err := url.Parse(endpoint); err != nil {
			return nil, fmt.Errorf("invalid archive endpoint: %w", err)
		}
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.UsePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	return NewS3LedgerArchiverWithClient(client, cfg.Bucket, cfg.Prefix, opts...), nil
}

// NewS3LedgerArchiverWithClient wraps an existing client
func NewS3LedgerArchiverWithClient(client ObjectPutter, bucket, prefix string, opts ...S3LedgerArchiverOption) *S3LedgerArchiver {
	a := &S3LedgerArchiver{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ArchivedLedger is the exported document
type ArchivedLedger struct {
	OrderID    int64           `json:"order_id"`
	OrderLabel string          `json:"order_label,omitempty"`
	ArchivedAt time.Time       `json:"archived_at"`
	Entries    []ArchivedEntry `json:"entries"`
}

// ArchivedEntry is one ledger entry in the export
type ArchivedEntry struct {
	ID         string          `json:"id"`
	GroupIndex *int            `json:"group_index,omitempty"`
	EventType  string          `json:"event_type"`
	Success    bool            `json:"success"`
	Payload    json.RawMessage `json:"payload"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Key returns the object key for an order
func (a *S3LedgerArchiver) Key(orderID int64, orderLabel string) string {
	name := orderLabel
	if name == "" {
		name = "order-" + strconv.FormatInt(orderID, 10)
	}
	return path.Join(a.prefix, name+".json")
}

// Archive uploads the ledger and returns its s3:// location
func (a *S3LedgerArchiver) Archive(ctx context.Context, orderID int64, orderLabel string, entries []activity.Entry) (string, error) {
	doc := ArchivedLedger{
		OrderID:    orderID,
		OrderLabel: orderLabel,
		ArchivedAt: a.now().UTC(),
		Entries:    make([]ArchivedEntry, 0, len(entries)),
	}
	for _, e := range entries {
		payload := e.Payload
		if len(payload) == 0 {
			payload = json.RawMessage("{}")
		}
		doc.Entries = append(doc.Entries, ArchivedEntry{
			ID:         e.ID.String(),
			GroupIndex: e.GroupIndex,
			EventType:  string(e.EventType),
			Success:    e.Success,
			Payload:    payload,
			Timestamp:  e.Timestamp.UTC(),
		})
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to encode ledger: %w", err)
	}

	key := a.Key(orderID, orderLabel)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload ledger: %w", err)
	}

	location := "s3://" + a.bucket + "/" + key
	a.logger.Debug("Ledger archived",
		zap.Int64("order_id", orderID),
		zap.String("location", location),
		zap.Int("entries", len(entries)),
	)
	return location, nil
}
