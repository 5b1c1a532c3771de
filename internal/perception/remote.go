package perception

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"time"

	"github.com/banshee-data/junction/internal/httputil"
)

// DefaultMinConfidence is the detector confidence floor.
const DefaultMinConfidence = 0.35

type remoteFrame struct {
	Direction string `json:"direction"`
	Image     string `json:"image"`
}

type remoteRequest struct {
	Frames     []remoteFrame `json:"frames"`
	Confidence float64       `json:"confidence"`
}

type remoteDetection struct {
	Class      int        `json:"class"`
	Box        [4]float64 `json:"box"`
	Confidence float64    `json:"confidence"`
}

type remoteResponse struct {
	Results [][]remoteDetection `json:"results"`
}

// RemoteDetector sends each batch to a detection service over HTTP as
// base64 JPEGs and reads back per-frame boxes.
type RemoteDetector struct {
	URL           string
	Client        httputil.HTTPClient
	Timeout       time.Duration
	MinConfidence float64
	Quality       int
}

// NewRemoteDetector returns a RemoteDetector with the default confidence
// floor and JPEG quality.
func NewRemoteDetector(url string, client httputil.HTTPClient, timeout time.Duration) *RemoteDetector {
	return &RemoteDetector{
		URL:           url,
		Client:        client,
		Timeout:       timeout,
		MinConfidence: DefaultMinConfidence,
		Quality:       80,
	}
}

func (r *RemoteDetector) Detect(ctx context.Context, batch []Input) ([][]Detection, error) {
	req := remoteRequest{Frames: make([]remoteFrame, len(batch)), Confidence: r.MinConfidence}
	var buf bytes.Buffer
	for i, in := range batch {
		buf.Reset()
		if err := jpeg.Encode(&buf, in.Image, &jpeg.Options{Quality: r.Quality}); err != nil {
			return nil, fmt.Errorf("encode %s frame: %w", in.Direction, err)
		}
		req.Frames[i] = remoteFrame{
			Direction: in.Direction.String(),
			Image:     base64.StdEncoding.EncodeToString(buf.Bytes()),
		}
	}

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	var resp remoteResponse
	if err := httputil.PostJSON(ctx, r.Client, r.URL, req, &resp); err != nil {
		return nil, fmt.Errorf("remote detector: %w", err)
	}
	if len(resp.Results) != len(batch) {
		return nil, fmt.Errorf("remote detector: %d results for %d frames", len(resp.Results), len(batch))
	}

	out := make([][]Detection, len(batch))
	for i, dets := range resp.Results {
		for _, d := range dets {
			if d.Confidence < r.MinConfidence {
				continue
			}
			out[i] = append(out[i], Detection{
				Class:      d.Class,
				Box:        image.Rect(int(d.Box[0]), int(d.Box[1]), int(d.Box[2]), int(d.Box[3])),
				Confidence: d.Confidence,
			})
		}
	}
	return out, nil
}
