package oracle

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Reason is one of the closed reason codes derived from the oracle's
// free-form explanation.
type Reason string

const (
	ReasonOK            Reason = "ok"
	ReasonNoFace        Reason = "no_face"
	ReasonMultipleFaces Reason = "multiple_faces"
	ReasonNotClear      Reason = "not_clear"
	ReasonObstructed    Reason = "obstructed"
	// ReasonMismatch only occurs in identity-match mode.
	ReasonMismatch Reason = "mismatch"
)

// ErrOracleUnavailable covers transport failures, timeouts, non-2xx statuses
// and malformed responses. It is never a statement about the face.
var ErrOracleUnavailable = errors.New("verification oracle unavailable")

// Result is the interpreted oracle verdict. Accepted=true always pairs with
// ReasonOK.
type Result struct {
	Accepted bool   `json:"accepted"`
	Reason   Reason `json:"reason"`
}

// Client calls the external face-verification oracle.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	// Skip short-circuits the oracle with an accepting verdict; dev only.
	Skip bool
}

// New creates a client with a bounded call timeout.
func New(baseURL string, timeout time.Duration, skip bool) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

// DataURI wraps raw JPEG bytes in the data-URI form the oracle expects.
func DataURI(jpegBytes []byte) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpegBytes)
}

// Verify runs one verification call. With an empty reference the oracle is
// asked only whether the image contains exactly one clear, unobstructed face;
// with a reference it is asked whether the faces match.
func (c *Client) Verify(ctx context.Context, image, reference string) (Result, error) {
	if c.Skip {
		return Result{Accepted: true, Reason: ReasonOK}, nil
	}
	if image == "" {
		return Result{}, fmt.Errorf("captured image required")
	}

	payload := map[string]string{"image": image}
	if reference != "" {
		payload["reference_image"] = reference
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/verify", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return Result{}, fmt.Errorf("%w: %s: %s", ErrOracleUnavailable, resp.Status, string(raw))
	}

	var out struct {
		Accepted bool   `json:"accepted"`
		Reason   string `json:"reason"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("%w: decode: %v", ErrOracleUnavailable, err)
	}

	return Result{Accepted: out.Accepted, Reason: MapReason(out.Accepted, out.Reason, reference != "")}, nil
}

// Health checks oracle reachability.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s", ErrOracleUnavailable, resp.Status)
	}
	return nil
}

// MapReason collapses the oracle's free-form explanation onto the closed
// reason set. The keywords track the canonical sentences the oracle prompt is
// instructed to answer with; anything unrecognised on a rejection is treated
// as a clarity problem so the student gets a retryable message.
func MapReason(accepted bool, text string, identityMode bool) Reason {
	if accepted {
		return ReasonOK
	}
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "multiple faces"), strings.Contains(t, "more than one"):
		return ReasonMultipleFaces
	case strings.Contains(t, "no face"), strings.Contains(t, "no human face"), strings.Contains(t, "could not detect"):
		return ReasonNoFace
	case strings.Contains(t, "obstruct"), strings.Contains(t, "covered"), strings.Contains(t, "fully visible"):
		return ReasonObstructed
	case identityMode && (strings.Contains(t, "does not match") || strings.Contains(t, "mismatch") || strings.Contains(t, "different pe")):
		return ReasonMismatch
	default:
		return ReasonNotClear
	}
}
