package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"attendgate/internal/capture"
	"attendgate/internal/geo"
)

// requestPositions is a geo.Source backed by the position the client already
// acquired. A client-reported failure is replayed as the matching error so the
// gate sees the browser's taxonomy.
type requestPositions struct {
	pos     *geo.Position
	failure string
}

func (r requestPositions) Current(ctx context.Context) (geo.Position, error) {
	if err := ctx.Err(); err != nil {
		return geo.Position{}, err
	}
	switch r.failure {
	case "":
	case "denied":
		return geo.Position{}, geo.ErrLocationDenied
	default:
		return geo.Position{}, geo.ErrLocationUnavailable
	}
	if r.pos == nil {
		return geo.Position{}, geo.ErrLocationUnavailable
	}
	return *r.pos, nil
}

// requestCamera is a capture.Device backed by the still the client captured.
// The decoded image is served as a single-frame stream.
type requestCamera struct {
	dataURI string
	failure string
}

func (r requestCamera) Open(ctx context.Context) (capture.Frames, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch r.failure {
	case "":
	case "denied":
		return nil, capture.ErrCameraDenied
	default:
		return nil, capture.ErrCameraUnavailable
	}
	if r.dataURI == "" {
		return nil, capture.ErrCameraUnavailable
	}
	img, err := decodeDataURI(r.dataURI)
	if err != nil {
		return nil, capture.ErrCameraUnavailable
	}
	return &stillFrames{img: img}, nil
}

// decodeDataURI accepts both data URIs and bare base64 payloads.
func decodeDataURI(s string) (image.Image, error) {
	if i := strings.IndexByte(s, ','); i >= 0 && strings.HasPrefix(s, "data:") {
		s = s[i+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	return img, err
}

type stillFrames struct {
	img    image.Image
	closed bool
}

func (f *stillFrames) Frame() (image.Image, error) {
	if f.closed {
		return nil, capture.ErrStreamEnded
	}
	return f.img, nil
}

func (f *stillFrames) Close() error {
	f.closed = true
	return nil
}
