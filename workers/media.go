package workers

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"auction_scraper/models"
	"auction_scraper/storage"
)

const maxImageAttempts = 3

// Uploader stores a mirrored image under key.
type Uploader interface {
	Upload(ctx context.Context, key string, data io.Reader, contentType string) error
}

// MediaWorker mirrors auction images into object storage, keyed by content
// hash so the same photo listed twice is stored once.
type MediaWorker struct {
	store      storage.Store
	httpClient *http.Client
	uploader   Uploader
	userAgent  string
	delay      time.Duration
	trigger    trigger
	logf       LogFunc
}

func NewMediaWorker(store storage.Store, uploader Uploader, client *http.Client, userAgent string) *MediaWorker {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &MediaWorker{
		store:      store,
		httpClient: client,
		uploader:   uploader,
		userAgent:  userAgent,
		delay:      200 * time.Millisecond,
		trigger:    newTrigger(),
		logf:       StdLogger,
	}
}

func (w *MediaWorker) SetLogger(fn LogFunc) { w.logf = fn }

func (w *MediaWorker) Trigger() { w.trigger.fire() }

type MediaProcessResult struct {
	S3Key       string
	ContentHash string
	Size        int64
	Error       error
}

// Process downloads one image, hashes it and uploads it.
func (w *MediaWorker) Process(ctx context.Context, img *models.AuctionImage) MediaProcessResult {
	var result MediaProcessResult

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, img.OriginalURL, nil)
	if err != nil {
		result.Error = fmt.Errorf("create request: %w", err)
		return result
	}
	if w.userAgent != "" {
		req.Header.Set("User-Agent", w.userAgent)
	}
	req.Header.Set("Accept", "image/*,*/*")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		result.Error = fmt.Errorf("download: %w", err)
		return result
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		result.Error = fmt.Errorf("download status: %d", resp.StatusCode)
		return result
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 50*1024*1024)) // 50MB limit
	if err != nil {
		result.Error = fmt.Errorf("read body: %w", err)
		return result
	}
	result.Size = int64(len(data))

	hash := sha256.Sum256(data)
	result.ContentHash = hex.EncodeToString(hash[:])

	contentType := resp.Header.Get("Content-Type")
	ext := guessExtension(img.OriginalURL, contentType)
	result.S3Key = fmt.Sprintf("auctions/%s/%s%s", result.ContentHash[:2], result.ContentHash, ext)

	if contentType == "" {
		contentType = "image/jpeg"
	}
	if err := w.uploader.Upload(ctx, result.S3Key, bytes.NewReader(data), contentType); err != nil {
		result.Error = fmt.Errorf("upload: %w", err)
		return result
	}

	return result
}

func guessExtension(rawURL, contentType string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	ext := strings.ToLower(path.Ext(p))
	if isImageExt(ext) {
		return ext
	}

	switch strings.TrimSpace(strings.Split(contentType, ";")[0]) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	default:
		return ".jpg"
	}
}

func isImageExt(ext string) bool {
	switch ext {
	case ".jpg", ".jpeg", ".png", ".gif", ".webp":
		return true
	}
	return false
}

func (w *MediaWorker) Run(ctx context.Context, batchSize int, interval time.Duration) {
	loop(ctx, interval, w.trigger, func(ctx context.Context) {
		w.processBatch(ctx, batchSize)
	})
}

func (w *MediaWorker) processBatch(ctx context.Context, batchSize int) (uploaded, failed int) {
	images, err := w.store.GetPendingImages(ctx, batchSize)
	if err != nil {
		w.logf(models.LogLevelError, "media", fmt.Sprintf("query error: %v", err))
		return 0, 0
	}
	if len(images) == 0 {
		return 0, 0
	}

	for i := range images {
		img := &images[i]
		if ctx.Err() != nil {
			break
		}

		result := w.Process(ctx, img)
		if result.Error != nil {
			failed++
			attempts := img.Attempts + 1
			status := models.ImageStatusPending
			if attempts >= maxImageAttempts {
				status = models.ImageStatusFailed
			}
			w.logf(models.LogLevelWarn, "media", fmt.Sprintf("failed %s (attempt %d): %v", img.OriginalURL, attempts, result.Error))
			if err := w.store.UpdateImageStatus(ctx, img.ID, status, nil, nil, attempts); err != nil {
				w.logf(models.LogLevelError, "media", fmt.Sprintf("update image %d: %v", img.ID, err))
			}
			continue
		}

		if err := w.store.UpdateImageStatus(ctx, img.ID, models.ImageStatusUploaded, &result.S3Key, &result.ContentHash, img.Attempts+1); err != nil {
			failed++
			w.logf(models.LogLevelError, "media", fmt.Sprintf("update image %d: %v", img.ID, err))
			continue
		}
		uploaded++

		if w.delay > 0 && i < len(images)-1 {
			select {
			case <-ctx.Done():
			case <-time.After(w.delay):
			}
		}
	}

	w.logf(models.LogLevelInfo, "media", fmt.Sprintf("uploaded %d, failed %d", uploaded, failed))
	return uploaded, failed
}

// NoOpUploader drains and discards, for runs without object storage.
type NoOpUploader struct{}

func (NoOpUploader) Upload(ctx context.Context, key string, data io.Reader, contentType string) error {
	_, err := io.Copy(io.Discard, data)
	return err
}
