package faces

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// CropKey identifies a face crop. It determines the stored path.
type CropKey struct {
	StoreCode  string
	CameraCode string
	Date       string
	SegStart   string
	Timestamp  time.Time
	TrackID    string
	Score      float64
}

// Dir is the partition directory, relative to the store root.
func (k CropKey) Dir() string {
	return path.Join("store="+k.StoreCode, "camera="+k.CameraCode, "date="+k.Date)
}

// Filename encodes every key field so crops are self-describing.
func (k CropKey) Filename() string {
	return fmt.Sprintf("store=%s__camera=%s__date=%s__seg=%s__ts=%s__track=%s__score=%.2f.jpg",
		k.StoreCode, k.CameraCode, k.Date, k.SegStart, formatTimestamp(k.Timestamp), k.TrackID, k.Score)
}

// Path is Dir joined with Filename, slash separated.
func (k CropKey) Path() string {
	return path.Join(k.Dir(), k.Filename())
}

// formatTimestamp renders 2025-01-15T09-00-00-500-0300: no colons, millisecond
// precision, numeric zone offset.
func formatTimestamp(t time.Time) string {
	ms := t.Nanosecond() / int(time.Millisecond)
	return fmt.Sprintf("%s-%03d%s", t.Format("2006-01-02T15-04-05"), ms, t.Format("-0700"))
}

// CropStore persists a face crop and returns the path recorded on the capture.
type CropStore interface {
	Save(key CropKey, img image.Image) (string, error)
}

// JPEGQuality is used for every stored crop.
const JPEGQuality = 90

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// LocalStore writes crops under Root on the local filesystem.
type LocalStore struct {
	Root string
}

// Save writes the crop and returns its path relative to Root.
func (s *LocalStore) Save(key CropKey, img image.Image) (string, error) {
	if strings.TrimSpace(s.Root) == "" {
		return "", fmt.Errorf("faces root not configured")
	}
	data, err := encodeJPEG(img)
	if err != nil {
		return "", err
	}
	rel := key.Path()
	full := filepath.Join(s.Root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("create crop dir: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("write crop: %w", err)
	}
	return rel, nil
}

// ObjectStore uploads crops to an S3-compatible bucket.
type ObjectStore struct {
	Client *minio.Client
	Bucket string
	Prefix string
	// Timeout bounds each upload. Zero means 30s.
	Timeout time.Duration
}

// NewObjectStore connects to an S3-compatible endpoint with static credentials.
func NewObjectStore(endpoint, accessKey, secretKey, bucket, prefix string, secure bool) (*ObjectStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}
	return &ObjectStore{Client: client, Bucket: bucket, Prefix: prefix}, nil
}

// Save uploads the crop and returns its object key.
func (s *ObjectStore) Save(key CropKey, img image.Image) (string, error) {
	if s.Client == nil {
		return "", fmt.Errorf("s3 client not initialized")
	}
	data, err := encodeJPEG(img)
	if err != nil {
		return "", err
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	objectKey := path.Join(s.Prefix, key.Path())
	_, err = s.Client.PutObject(ctx, s.Bucket, objectKey, bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "image/jpeg"})
	if err != nil {
		return "", fmt.Errorf("s3 put object: %w", err)
	}
	return objectKey, nil
}
