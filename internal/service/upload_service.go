package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"github.com/sirupsen/logrus"
	"github.com/taskapp/taskapp/internal/apperror"
)

const msgUnsupportedMedia = "Only images and videos are allowed!"

var allowedUploadTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"video/mp4":       true,
	"video/quicktime": true,
}

// UploadService stores uploaded media under <root>/images and returns the
// public URLs of the stored files.
type UploadService struct {
	dir       string
	publicURL string
	logger    *logrus.Logger
	now       func() time.Time
}

func NewUploadService(root, publicURL string, logger *logrus.Logger) *UploadService {
	return &UploadService{
		dir:       filepath.Join(root, "images"),
		publicURL: strings.TrimRight(publicURL, "/") + "/images",
		logger:    logger,
		now:       time.Now,
	}
}

// Save checks every file's content type before writing any of them.
func (s *UploadService) Save(ctx context.Context, files []*multipart.FileHeader) ([]string, error) {
	if len(files) == 0 {
		return nil, apperror.Validation("Please select at least one file")
	}

	for _, fh := range files {
		if !allowedUploadTypes[mediaType(fh)] {
			return nil, apperror.Validation(msgUnsupportedMedia)
		}
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, apperror.Internal(fmt.Errorf("failed to create upload directory: %w", err))
	}

	urls := make([]string, 0, len(files))
	for _, fh := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		name, err := s.store(fh)
		if err != nil {
			return nil, apperror.Internal(err)
		}
		urls = append(urls, s.publicURL+"/"+name)
	}

	s.logger.WithField("count", len(urls)).Info("Files uploaded")
	return urls, nil
}

func (s *UploadService) store(fh *multipart.FileHeader) (string, error) {
	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open upload: %w", err)
	}
	defer src.Close()

	base := StoredFileName(s.now(), fh.Filename)
	name := base
	for i := 1; ; i++ {
		dst, err := os.OpenFile(filepath.Join(s.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if errors.Is(err, os.ErrExist) {
			name = fmt.Sprintf("%d-%s", i, base)
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to create %s: %w", name, err)
		}

		_, err = io.Copy(dst, src)
		if cerr := dst.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			_ = os.Remove(filepath.Join(s.dir, name))
			return "", fmt.Errorf("failed to write %s: %w", name, err)
		}
		return name, nil
	}
}

// StoredFileName prefixes the slugged original name with the upload time in
// unix milliseconds.
func StoredFileName(at time.Time, original string) string {
	original = filepath.Base(original)
	ext := filepath.Ext(original)
	stem := slug.Make(strings.TrimSuffix(original, ext))
	if stem == "" {
		stem = "file"
	}
	if ext = slug.Make(ext); ext != "" {
		ext = "." + ext
	}
	return fmt.Sprintf("%d-%s%s", at.UnixMilli(), stem, ext)
}

func mediaType(fh *multipart.FileHeader) string {
	ct := fh.Header.Get("Content-Type")
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}
