// Package archive guarda una copia JSON de cada mercado cerrado en un bucket
// compatible con S3 (AWS, MinIO, R2...).
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/alejandrodnm/quantmarket/internal/domain"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Config del bucket. Endpoint vacío = AWS S3.
type Config struct {
	Endpoint       string
	Region         string
	Bucket         string
	AccessKey      string
	SecretKey      string
	Prefix         string
	ForcePathStyle bool
}

// ObjectPutter es el subconjunto del cliente S3 que usa el archiver.
type ObjectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Archiver implementa ports.Archiver.
type S3Archiver struct {
	client ObjectPutter
	bucket string
	prefix string
}

// New construye el cliente con credenciales estáticas si se dan; si no, usa
// la cadena por defecto del SDK (env, perfil, rol).
func New(ctx context.Context, cfg Config) (*S3Archiver, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("archive.New: bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("archive.New: load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(normaliseEndpoint(cfg.Endpoint))
		}
		o.UsePathStyle = cfg.ForcePathStyle
	})
	return NewWithClient(client, cfg.Bucket, cfg.Prefix), nil
}

// NewWithClient permite inyectar el cliente (tests).
func NewWithClient(client ObjectPutter, bucket, prefix string) *S3Archiver {
	return &S3Archiver{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

// Key devuelve la ruta del objeto: [prefix/]markets/{category}/{id}.json.
func (a *S3Archiver) Key(rec domain.MarketRecord) string {
	category := strings.ToLower(strings.TrimSpace(rec.Market.Category))
	if category == "" {
		category = "uncategorized"
	}
	key := "markets/" + url.PathEscape(category) + "/" + rec.Market.ID + ".json"
	if a.prefix != "" {
		key = a.prefix + "/" + key
	}
	return key
}

// Archive sube el registro. Reescribir la misma key es idempotente.
func (a *S3Archiver) Archive(ctx context.Context, rec domain.MarketRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("archive.Archive: marshal %s: %w", rec.Market.ID, err)
	}
	key := a.Key(rec)
	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"market-status": string(rec.Market.Status),
			"outcome":       string(rec.Market.Outcome),
		},
	})
	if err != nil {
		return fmt.Errorf("archive.Archive: put %s: %w", key, err)
	}
	return nil
}

func normaliseEndpoint(endpoint string) string {
	if u, err := url.Parse(endpoint); err == nil && u.Scheme != "" {
		return endpoint
	}
	return "https://" + endpoint
}
