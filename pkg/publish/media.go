package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const defaultUploadURL = "https://upload.twitter.com/1.1/media/upload.json"

// mediaUploader downloads remote media and uploads it through the v1.1
// media endpoint. Images go in one request; video and gifs use the chunked
// INIT/APPEND/FINALIZE flow and wait for server-side processing.
type mediaUploader struct {
	signed   *http.Client // oauth1-signed, for the upload endpoint
	fetch    *http.Client // unsigned, for third-party media hosts
	endpoint string

	chunkSize    int
	maxBytes     int64
	pollInterval time.Duration
	pollLimit    int

	logger zerolog.Logger
}

func newMediaUploader(signed *http.Client, endpoint string, logger zerolog.Logger) *mediaUploader {
	return &mediaUploader{
		signed:       signed,
		fetch:        &http.Client{Timeout: 2 * time.Minute},
		endpoint:     endpoint,
		chunkSize:    4 << 20,
		maxBytes:     512 << 20,
		pollInterval: time.Second,
		pollLimit:    120,
		logger:       logger,
	}
}

type uploadResponse struct {
	MediaID        string          `json:"media_id_string"`
	ProcessingInfo *processingInfo `json:"processing_info"`
}

type processingInfo struct {
	State          string `json:"state"` // pending, in_progress, succeeded, failed
	CheckAfterSecs int    `json:"check_after_secs"`
	Error          *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Upload returns the media ID for mediaURL. mediaType is image, video or
// gif; anything else is treated as an image.
func (u *mediaUploader) Upload(ctx context.Context, mediaURL, mediaType string) (string, error) {
	data, contentType, err := u.download(ctx, mediaURL)
	if err != nil {
		return "", err
	}

	switch mediaType {
	case "video":
		return u.chunked(ctx, data, contentTypeOr(contentType, "video/mp4"), "tweet_video")
	case "gif":
		return u.chunked(ctx, data, contentTypeOr(contentType, "image/gif"), "tweet_gif")
	default:
		return u.simple(ctx, data)
	}
}

func (u *mediaUploader) download(ctx context.Context, mediaURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("download media: %w", err)
	}
	req.Header.Set("User-Agent", "trendx/1.0")

	resp, err := u.fetch.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download media: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, u.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("download media: %w", err)
	}
	if int64(len(data)) > u.maxBytes {
		return nil, "", fmt.Errorf("download media: larger than %d bytes", u.maxBytes)
	}
	if len(data) == 0 {
		return nil, "", errors.New("download media: empty body")
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (u *mediaUploader) simple(ctx context.Context, data []byte) (string, error) {
	body, contentType, err := multipartBody(nil, data)
	if err != nil {
		return "", err
	}
	var out uploadResponse
	if err := u.post(ctx, body, contentType, &out); err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	if out.MediaID == "" {
		return "", errors.New("upload image: empty media id")
	}
	return out.MediaID, nil
}

func (u *mediaUploader) chunked(ctx context.Context, data []byte, mimeType, category string) (string, error) {
	var started uploadResponse
	err := u.postForm(ctx, url.Values{
		"command":        {"INIT"},
		"total_bytes":    {strconv.Itoa(len(data))},
		"media_type":     {mimeType},
		"media_category": {category},
	}, &started)
	if err != nil {
		return "", fmt.Errorf("upload init: %w", err)
	}
	if started.MediaID == "" {
		return "", errors.New("upload init: empty media id")
	}
	id := started.MediaID

	for seg, off := 0, 0; off < len(data); seg++ {
		end := min(off+u.chunkSize, len(data))
		body, contentType, err := multipartBody(map[string]string{
			"command":       "APPEND",
			"media_id":      id,
			"segment_index": strconv.Itoa(seg),
		}, data[off:end])
		if err != nil {
			return "", err
		}
		if err := u.post(ctx, body, contentType, nil); err != nil {
			return "", fmt.Errorf("upload append %d: %w", seg, err)
		}
		off = end
	}
	u.logger.Debug().Str("media_id", id).Int("bytes", len(data)).Msg("media chunks uploaded")

	var fin uploadResponse
	if err := u.postForm(ctx, url.Values{"command": {"FINALIZE"}, "media_id": {id}}, &fin); err != nil {
		return "", fmt.Errorf("upload finalize: %w", err)
	}
	if err := u.awaitProcessing(ctx, id, fin.ProcessingInfo); err != nil {
		return "", err
	}
	return id, nil
}

func (u *mediaUploader) awaitProcessing(ctx context.Context, id string, info *processingInfo) error {
	for i := 0; info != nil; i++ {
		switch info.State {
		case "succeeded":
			return nil
		case "failed":
			msg := "unknown error"
			if info.Error != nil && info.Error.Message != "" {
				msg = info.Error.Message
			}
			return fmt.Errorf("media %s processing failed: %s", id, msg)
		}
		if i >= u.pollLimit {
			return fmt.Errorf("media %s still processing after %d checks", id, i)
		}

		wait := time.Duration(info.CheckAfterSecs) * time.Second
		if wait <= 0 {
			wait = u.pollInterval
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}

		var status uploadResponse
		if err := u.status(ctx, id, &status); err != nil {
			return fmt.Errorf("upload status: %w", err)
		}
		info = status.ProcessingInfo
	}
	return nil
}

func (u *mediaUploader) status(ctx context.Context, id string, out any) error {
	q := url.Values{"command": {"STATUS"}, "media_id": {id}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return err
	}
	return u.do(req, out)
}

func (u *mediaUploader) postForm(ctx context.Context, form url.Values, out any) error {
	return u.post(ctx, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", out)
}

func (u *mediaUploader) post(ctx context.Context, body io.Reader, contentType string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	return u.do(req, out)
}

func (u *mediaUploader) do(req *http.Request, out any) error {
	resp, err := u.signed.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode upload response: %w", err)
	}
	return nil
}

// multipartBody encodes fields plus the binary "media" part.
func multipartBody(fields map[string]string, media []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("encode upload: %w", err)
		}
	}
	part, err := mw.CreateFormFile("media", "media")
	if err != nil {
		return nil, "", fmt.Errorf("encode upload: %w", err)
	}
	if _, err := part.Write(media); err != nil {
		return nil, "", fmt.Errorf("encode upload: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("encode upload: %w", err)
	}
	return &buf, mw.FormDataContentType(), nil
}

func contentTypeOr(ct, fallback string) string {
	if ct == "" || strings.HasPrefix(ct, "application/octet-stream") {
		return fallback
	}
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	return strings.TrimSpace(ct)
}
