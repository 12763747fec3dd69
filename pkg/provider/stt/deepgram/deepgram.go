// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// streaming WebSocket API. It implements the stt.Provider interface.
//
// Although the evaluator works on whole recordings, the streaming endpoint is
// used because it reports per-word confidence for every final segment and
// lets the recording be pushed in small frames without a multipart upload.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/elocution/pkg/provider/stt"
)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000

	// frameBytes is the size of the binary frames the recording is split
	// into. 8 KiB is ~250 ms of 16 kHz mono PCM.
	frameBytes = 8192
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithSampleRate sets the audio sample rate in Hz for the provider-level default.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithEndpoint overrides the WebSocket endpoint. Intended for tests and
// self-hosted Deepgram deployments.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey     string
	endpoint   string
	model      string
	language   string
	sampleRate int
}

var _ stt.Provider = (*Provider)(nil)

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		endpoint:   deepgramEndpoint,
		model:      defaultModel,
		language:   defaultLanguage,
		sampleRate: defaultSampleRate,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe streams req.Audio to Deepgram, asks it to flush, and collects
// every final segment until the server closes the connection.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (*stt.Result, error) {
	wsURL, err := p.buildURL(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: headers,
	})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1 << 20)

	// Reading and writing run concurrently so that Deepgram never blocks on
	// a full send buffer while we are still uploading.
	writeErr := make(chan error, 1)
	go func() {
		writeErr <- writeAudio(ctx, conn, req.Audio)
	}()

	var (
		words []stt.Word
		texts []string
	)
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				break
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("deepgram: read: %w", ctxErr)
			}
			return nil, fmt.Errorf("deepgram: read: %w", err)
		}

		seg, ok := parseDeepgramResponse(msg)
		if !ok || !seg.isFinal {
			continue
		}
		if seg.text != "" {
			texts = append(texts, seg.text)
		}
		words = append(words, seg.words...)
	}

	if err := <-writeErr; err != nil {
		return nil, fmt.Errorf("deepgram: write: %w", err)
	}
	return stt.NewResult(strings.Join(texts, " "), words), nil
}

// writeAudio sends pcm in binary frames followed by a CloseStream message,
// which makes Deepgram flush its final results and close the socket.
func writeAudio(ctx context.Context, conn *websocket.Conn, pcm []byte) error {
	for len(pcm) > 0 {
		n := min(frameBytes, len(pcm))
		if err := conn.Write(ctx, websocket.MessageBinary, pcm[:n]); err != nil {
			return err
		}
		pcm = pcm[n:]
	}
	return conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`))
}

// buildURL constructs the Deepgram streaming endpoint URL for the given request.
func (p *Provider) buildURL(req stt.Request) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	sr := req.SampleRate
	if sr == 0 {
		sr = p.sampleRate
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sr))
	// Punctuation would be attached to words and smart formatting rewrites
	// numbers, both of which break word-by-word comparison.
	q.Set("punctuate", "false")
	q.Set("smart_format", "false")
	q.Set("interim_results", "false")
	if req.Channels > 0 {
		q.Set("channels", strconv.Itoa(req.Channels))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// deepgramResponse is the JSON structure returned by Deepgram for a Results event.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
			Words      []struct {
				Word       string  `json:"word"`
				Start      float64 `json:"start"`
				End        float64 `json:"end"`
				Confidence float64 `json:"confidence"`
			} `json:"words"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type segment struct {
	text    string
	isFinal bool
	words   []stt.Word
}

// parseDeepgramResponse parses a raw Deepgram WebSocket message.
// Returns (segment, true) on success, or (zero, false) if the message should be ignored.
func parseDeepgramResponse(data []byte) (segment, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return segment{}, false
	}
	if resp.Type != "Results" {
		return segment{}, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return segment{}, false
	}

	alt := resp.Channel.Alternatives[0]
	words := make([]stt.Word, 0, len(alt.Words))
	for _, w := range alt.Words {
		words = append(words, stt.Word{
			Word:       w.Word,
			Start:      stt.Seconds(w.Start),
			End:        stt.Seconds(w.End),
			Confidence: w.Confidence,
		})
	}

	return segment{
		text:    alt.Transcript,
		isFinal: resp.IsFinal,
		words:   words,
	}, true
}
