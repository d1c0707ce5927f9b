package clips

import (
	"bytes"
	"context"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"medvoice/internal/apperrors"
)

// MinioConfig locates the bucket holding pre-rendered clips.
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	AccessKey string `yaml:"access_key" json:"access_key"`
	SecretKey string `yaml:"secret_key" json:"secret_key"`
	Bucket    string `yaml:"bucket" json:"bucket"`
	Prefix    string `yaml:"prefix" json:"prefix"`
	UseSSL    bool   `yaml:"use_ssl" json:"use_ssl"`
}

// MinioStore pulls every clip under the prefix into memory at startup so a
// degraded turn never waits on object storage.
type MinioStore struct {
	client *minio.Client
	cfg    MinioConfig
	static *StaticStore
	logger *zap.Logger
}

func NewMinioStore(ctx context.Context, cfg MinioConfig, logger *zap.Logger) (*MinioStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Endpoint == "" {
		return nil, apperrors.RequiredField("minio endpoint")
	}
	if cfg.Bucket == "" {
		return nil, apperrors.RequiredField("minio bucket")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, apperrors.Wrap(err, "create minio client")
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, apperrors.Wrapf(err, "check bucket %s", cfg.Bucket)
	}
	if !exists {
		return nil, apperrors.NotFound("clips bucket", cfg.Bucket)
	}

	store := &MinioStore{
		client: client,
		cfg:    cfg,
		static: NewStaticStore(),
		logger: logger,
	}
	if err := store.load(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// load lists the prefix once and caches every recognized audio object,
// pairing .txt sidecars as spoken text.
func (s *MinioStore) load(ctx context.Context) error {
	texts := make(map[string]string)
	var clips []Clip

	objects := s.client.ListObjects(ctx, s.cfg.Bucket, minio.ListObjectsOptions{
		Prefix:    s.cfg.Prefix,
		Recursive: true,
	})
	for object := range objects {
		if object.Err != nil {
			return apperrors.Wrap(object.Err, "list clips")
		}

		base := path.Base(object.Key)
		data, err := s.fetch(ctx, object.Key)
		if err != nil {
			return err
		}

		if strings.HasSuffix(strings.ToLower(base), ".txt") {
			texts[strings.TrimSuffix(base, path.Ext(base))] = strings.TrimSpace(string(data))
			continue
		}
		format, ok := FormatFromName(base)
		if !ok {
			s.logger.Debug("skipping object with unknown format", zap.String("key", object.Key))
			continue
		}
		clips = append(clips, Clip{
			Name:   strings.TrimSuffix(base, path.Ext(base)),
			Audio:  data,
			Format: format,
		})
	}

	for _, clip := range clips {
		clip.Text = texts[clip.Name]
		s.static.Put(clip)
	}

	s.logger.Info("loaded clips from object storage",
		zap.String("bucket", s.cfg.Bucket),
		zap.String("prefix", s.cfg.Prefix),
		zap.Int("clips", len(clips)))
	return nil
}

func (s *MinioStore) fetch(ctx context.Context, key string) ([]byte, error) {
	object, err := s.client.GetObject(ctx, s.cfg.Bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, apperrors.Wrapf(err, "get clip %s", key)
	}
	defer object.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, object); err != nil {
		return nil, apperrors.Wrapf(err, "read clip %s", key)
	}
	return buf.Bytes(), nil
}

func (s *MinioStore) Clip(name string) (Clip, bool) { return s.static.Clip(name) }

func (s *MinioStore) Names() []string { return s.static.Names() }
