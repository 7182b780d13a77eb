package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"storybook-server/internal/config"
)

var ErrInvalidDataURI = errors.New("invalid data URI")

// DataURI разобранная встроенная картинка вида data:<mime>;base64,<data>.
type DataURI struct {
	ContentType string
	Data        []byte
}

// ParseDataURI разбирает data URI. Поддерживается только base64 кодирование.
func ParseDataURI(s string) (DataURI, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return DataURI{}, fmt.Errorf("%w: missing data: prefix", ErrInvalidDataURI)
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return DataURI{}, fmt.Errorf("%w: missing comma", ErrInvalidDataURI)
	}
	contentType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return DataURI{}, fmt.Errorf("%w: only base64 payloads are supported", ErrInvalidDataURI)
	}
	if contentType == "" {
		contentType = "image/png"
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return DataURI{}, fmt.Errorf("%w: %v", ErrInvalidDataURI, err)
	}
	return DataURI{ContentType: contentType, Data: data}, nil
}

// extensionFor расширение файла по MIME типу, ".png" по умолчанию.
func extensionFor(contentType string) string {
	switch contentType {
	case "image/png":
		return ".png"
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".png"
}

// ImageStore выгружает встроенные изображения страниц в MinIO и возвращает постоянный URL.
type ImageStore struct {
	client        *minio.Client
	bucket        string
	publicBaseURL string
	logger        *zap.Logger
}

// NewImageStore создает клиента MinIO и при необходимости создает bucket.
func NewImageStore(ctx context.Context, cfg config.MinIOConfig, logger *zap.Logger) (*ImageStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		logger.Info("MinIO bucket created", zap.String("bucket", cfg.Bucket))
	}

	return &ImageStore{
		client:        client,
		bucket:        cfg.Bucket,
		publicBaseURL: strings.TrimSuffix(cfg.PublicBaseURL, "/"),
		logger:        logger.Named("ImageStore"),
	}, nil
}

// StoreDataURI загружает data URI под ключом keyPrefix + расширение и возвращает URL объекта.
func (s *ImageStore) StoreDataURI(ctx context.Context, keyPrefix, dataURI string) (string, error) {
	parsed, err := ParseDataURI(dataURI)
	if err != nil {
		return "", err
	}
	key := keyPrefix + extensionFor(parsed.ContentType)

	_, err = s.client.PutObject(ctx, s.bucket, key,
		bytes.NewReader(parsed.Data), int64(len(parsed.Data)),
		minio.PutObjectOptions{ContentType: parsed.ContentType},
	)
	if err != nil {
		return "", fmt.Errorf("failed to upload to minio: %w", err)
	}

	s.logger.Debug("Image uploaded", zap.String("key", key), zap.Int("bytes", len(parsed.Data)))
	return s.objectURL(key), nil
}

func (s *ImageStore) objectURL(key string) string {
	if s.publicBaseURL != "" {
		return s.publicBaseURL + "/" + key
	}
	endpoint := s.client.EndpointURL()
	u := url.URL{Scheme: endpoint.Scheme, Host: endpoint.Host, Path: "/" + s.bucket + "/" + key}
	return u.String()
}
