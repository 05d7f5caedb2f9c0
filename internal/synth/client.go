package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/narralabs/narra-core/internal/config"
)

// Client issues one synthesis request per segment against the remote
// endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

type requestPayload struct {
	ReqParams reqParams `json:"req_params"`
}

type reqParams struct {
	Text        string      `json:"text"`
	Speaker     string      `json:"speaker"`
	Additions   string      `json:"additions,omitempty"`
	AudioParams audioParams `json:"audio_params"`
}

type audioParams struct {
	Format     string `json:"format"`
	SampleRate int    `json:"sample_rate"`
}

func NewClient(cfg config.SynthesisConfig) *Client {
	return &Client{
		endpoint: cfg.Endpoint,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutMS) * time.Millisecond,
		},
	}
}

// Synthesize converts one text segment into encoded audio bytes. A non-2xx
// status becomes a RemoteError; decode failures are propagated unchanged from
// Decode.
func (c *Client) Synthesize(ctx context.Context, text string, settings Settings) ([]byte, error) {
	payload := requestPayload{
		ReqParams: reqParams{
			Text:      text,
			Speaker:   settings.Speaker,
			Additions: settings.Additions,
			AudioParams: audioParams{
				Format:     settings.Format,
				SampleRate: settings.SampleRate,
			},
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", settings.APIKey)
	httpReq.Header.Set("X-Api-Resource-Id", settings.ResourceID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("synthesis request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &RemoteError{StatusCode: resp.StatusCode, Status: resp.Status}
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read synthesis response: %w", err)
	}
	return Decode(resp.Header.Get("Content-Type"), raw)
}
