package engines

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dgnsrekt/speak/internal/ttypes"
)

const (
	openAIBaseURL     = "https://api.openai.com/v1"
	openAITTSEndpoint = "/audio/speech"

	// DefaultOpenAIModel is optimised for latency.
	DefaultOpenAIModel = "tts-1"

	// DefaultOpenAIVoice is used when the request names none.
	DefaultOpenAIVoice = "alloy"

	defaultOpenAITimeout = 2 * time.Minute
)

// OpenAIVoices lists the voices the speech endpoint accepts.
var OpenAIVoices = []string{"alloy", "ash", "coral", "echo", "fable", "nova", "onyx", "sage", "shimmer"}

// OpenAIConfig holds configuration for the OpenAI engine.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
	Client  *http.Client
}

// OpenAIEngine streams MP3 from the OpenAI speech endpoint.
type OpenAIEngine struct {
	apiKey  string
	model   string
	baseURL string
	timeout time.Duration
	client  *http.Client
}

// NewOpenAIEngine creates an OpenAI engine. A missing API key is reported on
// first use so the rest of the registry still works.
func NewOpenAIEngine(cfg OpenAIConfig) *OpenAIEngine {
	e := &OpenAIEngine{
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		baseURL: cfg.BaseURL,
		timeout: cfg.Timeout,
		client:  cfg.Client,
	}
	if e.model == "" {
		e.model = DefaultOpenAIModel
	}
	if e.baseURL == "" {
		e.baseURL = openAIBaseURL
	}
	if e.timeout <= 0 {
		e.timeout = defaultOpenAITimeout
	}
	if e.client == nil {
		// no overall client timeout: it would cut long streamed bodies
		e.client = &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: 30 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
		}}
	}
	return e
}

type openAIRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format"`
	Speed          float64 `json:"speed,omitempty"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// open issues the request and returns the response body.
func (e *OpenAIEngine) open(ctx context.Context, req *ttypes.SynthesisRequest) (io.ReadCloser, error) {
	if e.apiKey == "" {
		return nil, ttypes.ProviderError("openai", "no API key configured", nil).
			WithHint("set openai.api_key in speak.yml or SPEAK_OPENAI_API_KEY")
	}

	speed, err := speedParam(req)
	if err != nil {
		return nil, err
	}
	voice := req.Voice()
	if voice == "" {
		voice = DefaultOpenAIVoice
	}
	model := e.model
	if m, ok := req.Param(ParamModel); ok && m != "" {
		model = m
	}

	body, err := json.Marshal(openAIRequest{
		Model:          model,
		Input:          req.Text(),
		Voice:          voice,
		ResponseFormat: "mp3",
		Speed:          float64(speed),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+openAITTSEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ctx.Err()
		}
		return nil, ttypes.NetworkError("openai", "request failed", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, e.handleError(resp)
	}
	return resp.Body, nil
}

// handleError maps an error response: 5xx and 429 are transient network
// conditions, everything else is a rejection.
func (e *OpenAIEngine) handleError(resp *http.Response) error {
	msg := http.StatusText(resp.StatusCode)
	var errResp openAIErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&errResp); err == nil && errResp.Error.Message != "" {
		msg = errResp.Error.Message
	}
	op := "openai " + strconv.Itoa(resp.StatusCode)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return ttypes.NetworkError(op, msg, nil)
	case resp.StatusCode == http.StatusUnauthorized:
		return ttypes.ProviderError(op, msg, nil).WithHint("check openai.api_key")
	default:
		return ttypes.ProviderError(op, msg, nil)
	}
}

// StreamingSynthesize emits the response body as it arrives.
func (e *OpenAIEngine) StreamingSynthesize(ctx context.Context, req *ttypes.SynthesisRequest, emit ttypes.EmitFunc) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	body, err := e.open(ctx, req)
	if err != nil {
		return err
	}
	defer body.Close()

	buf := make([]byte, streamChunkSize)
	for index := 0; ; index++ {
		n, rerr := body.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if err := emit(ttypes.AudioChunk{Data: data, Index: index}); err != nil {
				return err
			}
		}
		if errors.Is(rerr, io.EOF) {
			return nil
		}
		if rerr != nil {
			return ttypes.NetworkError("openai", "stream interrupted", rerr)
		}
	}
}

// SynthesizeToFile downloads the complete MP3 to path.
func (e *OpenAIEngine) SynthesizeToFile(ctx context.Context, req *ttypes.SynthesisRequest, path string) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	body, err := e.open(ctx, req)
	if err != nil {
		return err
	}
	defer body.Close()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	n, err := io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return ttypes.NetworkError("openai", "download interrupted", err)
	}
	log.Debug("openai clip saved", "path", path, "bytes", n)
	return nil
}

// GetInfo returns engine capabilities.
func (e *OpenAIEngine) GetInfo() ttypes.ProviderInfo {
	return ttypes.ProviderInfo{
		Name:         ttypes.ProviderOpenAI,
		NativeFormat: ttypes.ContainerMP3,
		StreamFormat: ttypes.FormatHint{Container: ttypes.ContainerMP3},
		Streams:      true,
		Online:       true,
		Voices:       OpenAIVoices,
	}
}

var _ ttypes.Provider = (*OpenAIEngine)(nil)
