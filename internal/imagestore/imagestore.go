package imagestore

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Store keeps submitted photos out of the verification queue's rows: queue
// entries carry the returned URL instead of the encoded image.
type Store interface {
	// Put stores an image given as a data URI and returns a stable URI for it.
	Put(ctx context.Context, dataURI string) (string, error)
}

// Inline is the fallback when no upload backend is configured: the data URI
// itself is the stored form.
type Inline struct{}

// Put returns the data URI unchanged.
func (Inline) Put(ctx context.Context, dataURI string) (string, error) {
	return dataURI, nil
}

// Cloudinary uploads images to Cloudinary's REST API.
type Cloudinary struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
	HTTP      *http.Client

	// uploadURL is overridable in tests.
	uploadURL string
}

// NewCloudinary creates a Cloudinary-backed store.
func NewCloudinary(cloudName, apiKey, apiSecret, folder string) *Cloudinary {
	return &Cloudinary{
		CloudName: cloudName,
		APIKey:    apiKey,
		APISecret: apiSecret,
		Folder:    folder,
		HTTP:      &http.Client{Timeout: 30 * time.Second},
	}
}

type uploadResult struct {
	PublicID  string `json:"public_id"`
	SecureURL string `json:"secure_url"`
}

// Put uploads a data-URI image and returns its public URL.
func (c *Cloudinary) Put(ctx context.Context, dataURI string) (string, error) {
	params := map[string]string{
		"timestamp": strconv.FormatInt(time.Now().Unix(), 10),
		"api_key":   c.APIKey,
	}
	if c.Folder != "" {
		params["folder"] = c.Folder
	}
	params["signature"] = c.sign(params)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range params {
		_ = w.WriteField(k, v)
	}
	// Cloudinary accepts data URIs directly via the "file" param.
	_ = w.WriteField("file", dataURI)
	w.Close()

	endpoint := c.uploadURL
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://api.cloudinary.com/v1_1/%s/image/upload", c.CloudName)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return "", fmt.Errorf("imagestore: create request failed: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("imagestore: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("imagestore: upload failed (%d): %s", resp.StatusCode, string(body))
	}

	var result uploadResult
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("imagestore: decode response failed: %w", err)
	}
	return result.SecureURL, nil
}

// sign computes the Cloudinary API signature from the given params.
// api_key and file are excluded from the signature per Cloudinary spec.
func (c *Cloudinary) sign(params map[string]string) string {
	excludeKeys := map[string]bool{"api_key": true, "file": true, "resource_type": true}

	pairs := make([]string, 0, len(params))
	for k, v := range params {
		if !excludeKeys[k] && v != "" {
			pairs = append(pairs, k+"="+v)
		}
	}
	sort.Strings(pairs)

	payload := strings.Join(pairs, "&") + c.APISecret
	h := sha1.New()
	h.Write([]byte(payload))
	return fmt.Sprintf("%x", h.Sum(nil))
}
