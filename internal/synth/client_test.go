package synth

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/narralabs/narra-core/internal/config"
)

func testSettings() Settings {
	s := DefaultSettings()
	s.APIKey = "key-123"
	s.ResourceID = "volc.service_type.10029"
	s.Speaker = "zh_female_cancan"
	return s
}

func newTestClient(url string) *Client {
	return NewClient(config.SynthesisConfig{Endpoint: url, TimeoutMS: 2000})
}

func TestSynthesizeRequestShape(t *testing.T) {
	audio := []byte("encoded-audio")
	var captured struct {
		ReqParams struct {
			Text        string `json:"text"`
			Speaker     string `json:"speaker"`
			Additions   string `json:"additions"`
			AudioParams struct {
				Format     string `json:"format"`
				SampleRate int    `json:"sample_rate"`
			} `json:"audio_params"`
		} `json:"req_params"`
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if got := r.Header.Get("x-api-key"); got != "key-123" {
			t.Errorf("unexpected api key header: %q", got)
		}
		if got := r.Header.Get("X-Api-Resource-Id"); got != "volc.service_type.10029" {
			t.Errorf("unexpected resource id header: %q", got)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("unexpected content type: %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request body: %v", err)
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(audio)
	}))
	defer srv.Close()

	settings := testSettings()
	settings.Additions = `{"disable_markdown_filter":true}`

	got, err := newTestClient(srv.URL).Synthesize(context.Background(), "hello world", settings)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, audio) {
		t.Fatalf("audio mismatch: got %q", got)
	}
	if captured.ReqParams.Text != "hello world" {
		t.Fatalf("unexpected text: %q", captured.ReqParams.Text)
	}
	if captured.ReqParams.Speaker != "zh_female_cancan" {
		t.Fatalf("unexpected speaker: %q", captured.ReqParams.Speaker)
	}
	if captured.ReqParams.Additions != `{"disable_markdown_filter":true}` {
		t.Fatalf("unexpected additions: %q", captured.ReqParams.Additions)
	}
	if captured.ReqParams.AudioParams.Format != "mp3" || captured.ReqParams.AudioParams.SampleRate != 24000 {
		t.Fatalf("unexpected audio params: %+v", captured.ReqParams.AudioParams)
	}
}

func TestSynthesizeOmitsEmptyAdditions(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]json.RawMessage
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			t.Errorf("decode body: %v", err)
		}
		var params map[string]json.RawMessage
		if err := json.Unmarshal(raw["req_params"], &params); err != nil {
			t.Errorf("decode req_params: %v", err)
		}
		if _, present := params["additions"]; present {
			t.Error("additions should be omitted when empty")
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	if _, err := newTestClient(srv.URL).Synthesize(context.Background(), "text", testSettings()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSynthesizeRemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Synthesize(context.Background(), "text", testSettings())
	var remoteErr *RemoteError
	if !errors.As(err, &remoteErr) {
		t.Fatalf("expected RemoteError, got %v", err)
	}
	if remoteErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected status 429, got %d", remoteErr.StatusCode)
	}
}

func TestSynthesizeDecodesJSONResponse(t *testing.T) {
	chunk := []byte("pseudo-streamed")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		body := `{"data":"` + base64.StdEncoding.EncodeToString(chunk[:6]) + `"}` +
			`{"data":"` + base64.StdEncoding.EncodeToString(chunk[6:]) + `"}`
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	got, err := newTestClient(srv.URL).Synthesize(context.Background(), "text", testSettings())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(got, chunk) {
		t.Fatalf("audio mismatch: got %q want %q", got, chunk)
	}
}
