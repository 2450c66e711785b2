package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"strings"
	"time"

	"github.com/thyrook/boardsight/internal/board"
	"github.com/valyala/fasthttp"
)

// RemoteClassifier posts each cell as PNG to an external model service.
// The service answers {"label": "wK", "confidence": 0.97}.
type RemoteClassifier struct {
	url            string
	http           *fasthttp.Client
	defaultTimeout time.Duration
}

type remoteResponse struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// NewRemoteClassifier creates a client for baseURL + "/classify".
func NewRemoteClassifier(baseURL string, timeout time.Duration) *RemoteClassifier {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RemoteClassifier{
		url:            strings.TrimRight(baseURL, "/") + "/classify",
		http:           &fasthttp.Client{ReadTimeout: timeout, WriteTimeout: timeout, MaxConnsPerHost: 64},
		defaultTimeout: timeout,
	}
}

// Classify sends one patch to the service.
func (c *RemoteClassifier) Classify(ctx context.Context, patch image.Image) (board.Piece, float64, error) {
	if err := ctx.Err(); err != nil {
		return board.Empty, 0, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, patch); err != nil {
		return board.Empty, 0, fmt.Errorf("encode patch: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(c.url)
	req.Header.SetContentType("image/png")
	req.SetBody(buf.Bytes())

	if err := c.http.DoDeadline(req, resp, c.deadline(ctx)); err != nil {
		return board.Empty, 0, fmt.Errorf("request failed: %w", err)
	}

	if status := resp.StatusCode(); status != fasthttp.StatusOK {
		return board.Empty, 0, fmt.Errorf("classifier service error: status=%d body=%s", status, truncate(string(resp.Body()), 256))
	}

	var out remoteResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return board.Empty, 0, fmt.Errorf("decode response: %w", err)
	}
	piece, err := board.ParsePiece(out.Label)
	if err != nil {
		return board.Empty, 0, err
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return board.Empty, 0, fmt.Errorf("confidence %f out of range", out.Confidence)
	}
	return piece, out.Confidence, nil
}

func (c *RemoteClassifier) deadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
