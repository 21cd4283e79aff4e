// Package media handles attachment uploads: local-filesystem or
// S3-compatible object storage (minio-go, compatible with Garage, MinIO,
// AWS S3, and other S3-compatible backends) and blurhash computation for
// the attachment's blurhash field. No thumbnails are generated.
package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/buckket/go-blurhash"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/fedi3/fedi3/internal/models"
)

// Config configures a media Service. Backend selects between the local
// filesystem and an S3-compatible bucket.
type Config struct {
	Backend     string // "local" or "s3"
	LocalDir    string
	Endpoint    string
	Bucket      string
	AccessKey   string
	SecretKey   string
	UseSSL      bool
	PublicBase  string // base URL attachments are served from
	MaxUploadMB int64
	StripExif   bool
}

func (c Config) maxUploadBytes() int64 {
	if c.MaxUploadMB <= 0 {
		return 100 * 1024 * 1024
	}
	return c.MaxUploadMB * 1024 * 1024
}

// Store is the storage port a media Service writes blobs through: a
// local-fs adapter or an S3-compatible adapter (minio-go), selected by
// Config.Backend.
type Store interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	URL(key string) string
}

// localStore writes attachments under a directory on disk.
type localStore struct {
	dir  string
	base string
}

func newLocalStore(dir, publicBase string) *localStore {
	return &localStore{dir: dir, base: strings.TrimSuffix(publicBase, "/")}
}

func (s *localStore) Put(ctx context.Context, key, contentType string, data []byte) error {
	path := filepath.Join(s.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("media: creating directory for %q: %w", key, err)
	}
	return os.WriteFile(path, data, 0o644)
}

func (s *localStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(s.dir, filepath.FromSlash(key)))
}

func (s *localStore) URL(key string) string {
	return s.base + "/" + key
}

// s3Store writes attachments to an S3-compatible bucket via minio-go.
type s3Store struct {
	client *minio.Client
	bucket string
	base   string
}

func newS3Store(cfg Config) (*s3Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("media: creating s3 client: %w", err)
	}
	return &s3Store{client: client, bucket: cfg.Bucket, base: strings.TrimSuffix(cfg.PublicBase, "/")}, nil
}

func (s *s3Store) Put(ctx context.Context, key, contentType string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("media: putting object %q: %w", key, err)
	}
	return nil
}

func (s *s3Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("media: getting object %q: %w", key, err)
	}
	return obj, nil
}

func (s *s3Store) URL(key string) string {
	return s.base + "/" + key
}

// Service processes attachment uploads: validates size, extracts
// dimensions, computes a blurhash, optionally strips EXIF by re-encoding,
// and writes through to Store. The content type is not checked and no
// thumbnails are generated.
type Service struct {
	store          Store
	maxUploadBytes int64
	stripExif      bool
	thumbnailSizes []int
}

func New(cfg Config) (*Service, error) {
	var store Store
	switch cfg.Backend {
	case "s3":
		s3, err := newS3Store(cfg)
		if err != nil {
			return nil, err
		}
		store = s3
	default:
		dir := cfg.LocalDir
		if dir == "" {
			dir = "./data/attachments"
		}
		store = newLocalStore(dir, cfg.PublicBase)
	}
	return &Service{
		store:          store,
		maxUploadBytes: cfg.maxUploadBytes(),
		stripExif:      cfg.StripExif,
		thumbnailSizes: []int{128, 256, 512},
	}, nil
}

// processedImage holds the results of decoding and analyzing an upload.
// Fields are nil when the upload was not a decodable image (e.g. a video
// or an arbitrary file), in which case the Attachment is stored as-is
// with no dimensions/blurhash.
type processedImage struct {
	width    *int
	height   *int
	blurhash *string
	stripped []byte
}

// processImage decodes data as an image, computes its dimensions and
// blurhash, and (if stripExif is set) re-encodes it to drop EXIF
// metadata. Decode failures are not an error: the caller stores the
// original bytes and omits dimensions/blurhash.
func (s *Service) processImage(data []byte, contentType string) processedImage {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return processedImage{}
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	hash := ComputeBlurhash(img)

	result := processedImage{width: &w, height: &h}
	if hash != "" {
		result.blurhash = &hash
	}
	if s.stripExif {
		result.stripped = stripExifData(img, contentType)
	}
	return result
}

// ComputeBlurhash encodes img at a 4x3 component grid, the attachment's
// blurhash field's expected density. Returns "" if encoding fails (e.g. a
// zero-sized image).
func ComputeBlurhash(img image.Image) string {
	hash, err := blurhash.Encode(4, 3, img)
	if err != nil {
		return ""
	}
	return hash
}

// stripExifData re-encodes img to drop any embedded EXIF metadata,
// choosing an encoder by contentType and falling back to PNG (lossless,
// always decodable) for anything else.
func stripExifData(img image.Image, contentType string) []byte {
	var buf bytes.Buffer
	switch contentType {
	case "image/jpeg":
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
			return nil
		}
	case "image/png":
		if err := png.Encode(&buf, img); err != nil {
			return nil
		}
	default:
		if err := png.Encode(&buf, img); err != nil {
			return nil
		}
	}
	return buf.Bytes()
}

// extractDatePath pulls the "YYYY/MM/DD" segment out of a storage key of
// the form "attachments/YYYY/MM/DD/id.ext", falling back to the current
// date when the key doesn't carry one (e.g. a short or malformed key).
func extractDatePath(key string) string {
	parts := strings.Split(key, "/")
	for i := 0; i+2 < len(parts); i++ {
		if len(parts[i]) == 4 && len(parts[i+1]) == 2 && len(parts[i+2]) == 2 {
			if _, err := strconv.Atoi(parts[i]); err != nil {
				continue
			}
			return parts[i] + "/" + parts[i+1] + "/" + parts[i+2]
		}
	}
	return time.Now().UTC().Format("2006/01/02")
}

// ThumbnailURL builds the storage key for a generated thumbnail.
func ThumbnailURL(id, datePath string, size int) string {
	return fmt.Sprintf("thumbnails/%s/%s_%d.jpg", datePath, id, size)
}

// Upload handles a multipart attachment upload and returns the stored
// models.Attachment, expanded with dimensions/blurhash when the upload
// was a decodable image.
func (s *Service) Upload(ctx context.Context, id, filename, contentType string, data []byte) (models.Attachment, error) {
	if int64(len(data)) > s.maxUploadBytes {
		return models.Attachment{}, fmt.Errorf("media: upload exceeds max size of %d bytes", s.maxUploadBytes)
	}

	datePath := time.Now().UTC().Format("2006/01/02")
	key := fmt.Sprintf("attachments/%s/%s", datePath, id)
	if ext := filepath.Ext(filename); ext != "" {
		key += ext
	}

	result := s.processImage(data, contentType)
	body := data
	if result.stripped != nil {
		body = result.stripped
	}
	if err := s.store.Put(ctx, key, contentType, body); err != nil {
		return models.Attachment{}, err
	}

	attachment := models.Attachment{
		Type:      "Document",
		MediaType: contentType,
		URL:       s.store.URL(key),
		Name:      filename,
	}
	if result.width != nil {
		attachment.Width = *result.width
	}
	if result.height != nil {
		attachment.Height = *result.height
	}
	if result.blurhash != nil {
		attachment.Blurhash = *result.blurhash
	}
	return attachment, nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{"code": code, "message": message},
	})
}

// HandleUpload serves POST /api/media: reads a multipart "file" field,
// stores it, and returns the resulting attachment as JSON.
func (s *Service) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "file_too_large", "File exceeds limit")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing_file", "No file field in multipart body")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, s.maxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "Failed to read upload")
		return
	}
	if int64(len(data)) > s.maxUploadBytes {
		writeError(w, http.StatusBadRequest, "file_too_large", "File exceeds limit")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	attachment, err := s.Upload(r.Context(), models.NewULID().String(), header.Filename, contentType, data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "upload_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, attachment)
}
