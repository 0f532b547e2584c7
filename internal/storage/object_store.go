package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"plantscan/api/internal/config"
	"plantscan/api/internal/ids"
)

var ErrUnsupportedContentType = errors.New("unsupported avatar content type")

var avatarExtensions = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
}

// AvatarUpload tells the client where to PUT an avatar and where it will be served from.
type AvatarUpload struct {
	UploadURL string
	PublicURL string
	ObjectKey string
	ExpiresAt time.Time
}

type ObjectStore struct {
	client     *minio.Client
	cfg        config.StorageConfig
	publicBase string
	now        func() time.Time
}

func NewObjectStore(cfg config.StorageConfig) (*ObjectStore, error) {
	endpoint := cfg.Endpoint
	useSSL := cfg.UseSSL

	if strings.HasPrefix(endpoint, "http") {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("parse endpoint: %w", err)
		}
		endpoint = u.Host
		useSSL = u.Scheme == "https"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio: %w", err)
	}

	publicBase := strings.TrimRight(cfg.PublicBaseURL, "/")
	if publicBase == "" {
		scheme := "http"
		if useSSL {
			scheme = "https"
		}
		publicBase = scheme + "://" + endpoint + "/" + cfg.AvatarBucket
	}

	return &ObjectStore{
		client:     client,
		cfg:        cfg,
		publicBase: publicBase,
		now:        time.Now,
	}, nil
}

func (s *ObjectStore) EnsureAvatarBucket(ctx context.Context) error {
	bucket := s.cfg.AvatarBucket
	exists, err := s.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("bucket exists %s: %w", bucket, err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s.cfg.Region}); err != nil {
			return fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}
	return nil
}

// PresignAvatarUpload returns a short-lived PUT URL for a new avatar object of userID.
func (s *ObjectStore) PresignAvatarUpload(ctx context.Context, userID, contentType string) (AvatarUpload, error) {
	ext, ok := avatarExtensions[strings.ToLower(contentType)]
	if !ok {
		return AvatarUpload{}, ErrUnsupportedContentType
	}

	key := fmt.Sprintf("avatars/%s/%s.%s", userID, ids.New(), ext)
	ttl := s.cfg.PresignTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	u, err := s.client.PresignedPutObject(ctx, s.cfg.AvatarBucket, key, ttl)
	if err != nil {
		return AvatarUpload{}, fmt.Errorf("presign avatar: %w", err)
	}

	return AvatarUpload{
		UploadURL: u.String(),
		PublicURL: s.publicBase + "/" + key,
		ObjectKey: key,
		ExpiresAt: s.now().Add(ttl),
	}, nil
}
