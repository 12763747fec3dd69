package whisper_test

import (
	"context"
	"encoding/binary"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrWong99/elocution/pkg/provider/stt"
	"github.com/MrWong99/elocution/pkg/provider/stt/whisper"
)

// ---- helpers ----------------------------------------------------------------

// inferenceForm is what the fake server saw in one /inference upload.
type inferenceForm struct {
	fields map[string]string
	wav    []byte
}

// newMockServer creates a test server that responds to POST /inference with
// the given verbose_json body and reports every parsed upload on the returned
// channel.
func newMockServer(t *testing.T, body string, status int) (*httptest.Server, <-chan inferenceForm, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	forms := make(chan inferenceForm, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		calls.Add(1)
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart form: %v", err)
		}
		f := inferenceForm{fields: map[string]string{}}
		for k, v := range r.MultipartForm.Value {
			f.fields[k] = v[0]
		}
		if file, _, err := r.FormFile("file"); err == nil {
			f.wav, _ = io.ReadAll(file)
			file.Close()
		}
		forms <- f

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, forms, &calls
}

// makeSpeechPCM generates a 440 Hz sine wave whose RMS (~7071) is well above
// the default silence threshold.
func makeSpeechPCM(samples int) []byte {
	const amplitude = 10_000.0
	buf := make([]byte, samples*2)
	for i := range samples {
		v := int16(amplitude * math.Sin(2*math.Pi*440*float64(i)/16000))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return buf
}

const verboseBody = `{
	"text": " the dog",
	"segments": [{
		"text": " the dog",
		"words": [
			{"word": " the", "start": 0.10, "end": 0.30, "probability": 0.91},
			{"word": " dog", "start": 0.35, "end": 0.80, "probability": 0.42}
		]
	}]
}`

// ---- provider construction --------------------------------------------------

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestNew_WithOptions_DoesNotError(t *testing.T) {
	p, err := whisper.New("http://localhost:8080",
		whisper.WithModel("base.en"),
		whisper.WithLanguage("de"),
		whisper.WithSampleRate(48000),
		whisper.WithSilenceThreshold(0),
		whisper.WithHTTPClient(&http.Client{Timeout: time.Second}),
	)
	if err != nil || p == nil {
		t.Fatalf("New = %v, %v", p, err)
	}
}

// ---- Transcribe -------------------------------------------------------------

func TestTranscribe_ParsesWordProbabilities(t *testing.T) {
	srv, forms, _ := newMockServer(t, verboseBody, http.StatusOK)
	p, _ := whisper.New(srv.URL+"/", whisper.WithModel("small"))

	audio := makeSpeechPCM(1600)
	res, err := p.Transcribe(context.Background(), stt.Request{Audio: audio, Language: "fr"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}

	if !res.WasSuccessful {
		t.Fatal("WasSuccessful = false, want true")
	}
	if res.Text != "the dog" {
		t.Errorf("Text = %q, want %q", res.Text, "the dog")
	}
	want := []stt.Word{
		{Word: "the", Start: 100 * time.Millisecond, End: 300 * time.Millisecond, Confidence: 0.91},
		{Word: "dog", Start: 350 * time.Millisecond, End: 800 * time.Millisecond, Confidence: 0.42},
	}
	if len(res.Words) != len(want) {
		t.Fatalf("Words = %+v, want %+v", res.Words, want)
	}
	for i := range want {
		if res.Words[i] != want[i] {
			t.Errorf("Words[%d] = %+v, want %+v", i, res.Words[i], want[i])
		}
	}

	f := <-forms
	for k, v := range map[string]string{"response_format": "verbose_json", "language": "fr", "model": "small"} {
		if f.fields[k] != v {
			t.Errorf("form field %s = %q, want %q", k, f.fields[k], v)
		}
	}
	if len(f.wav) != 44+len(audio) || string(f.wav[:4]) != "RIFF" {
		t.Errorf("uploaded file is not the expected WAV (len %d)", len(f.wav))
	}
}

func TestTranscribe_SendsPrimaryLanguageSubtag(t *testing.T) {
	tests := []struct {
		name        string
		defaultLang string
		reqLang     string
		want        string
	}{
		{"regional request tag", "", "fr-FR", "fr"},
		{"underscore and upper case", "", "PT_br", "pt"},
		{"regional default", "en-GB", "", "en"},
		{"request overrides default", "en", "de-AT", "de"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, forms, _ := newMockServer(t, verboseBody, http.StatusOK)
			var opts []whisper.Option
			if tt.defaultLang != "" {
				opts = append(opts, whisper.WithLanguage(tt.defaultLang))
			}
			p, _ := whisper.New(srv.URL, opts...)

			if _, err := p.Transcribe(context.Background(), stt.Request{Audio: makeSpeechPCM(1600), Language: tt.reqLang}); err != nil {
				t.Fatalf("Transcribe: %v", err)
			}
			if got := (<-forms).fields["language"]; got != tt.want {
				t.Errorf("language field = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTranscribe_SegmentWithoutWords(t *testing.T) {
	srv, _, _ := newMockServer(t, `{"text":"hello there","segments":[{"text":" hello there"}]}`, http.StatusOK)
	p, _ := whisper.New(srv.URL)

	res, err := p.Transcribe(context.Background(), stt.Request{Audio: makeSpeechPCM(1600)})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if len(res.Words) != 2 || res.Words[0].Word != "hello" || res.Words[0].Confidence != 0 {
		t.Errorf("Words = %+v, want two zero-confidence words", res.Words)
	}
}

func TestTranscribe_SilenceSkipsServer(t *testing.T) {
	srv, _, calls := newMockServer(t, verboseBody, http.StatusOK)
	p, _ := whisper.New(srv.URL)

	res, err := p.Transcribe(context.Background(), stt.Request{Audio: make([]byte, 3200)})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.WasSuccessful {
		t.Error("WasSuccessful = true for a silent recording")
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("server called %d times for silence, want 0", n)
	}
}

func TestTranscribe_EmptyTranscript(t *testing.T) {
	srv, _, _ := newMockServer(t, `{"text":"","segments":[]}`, http.StatusOK)
	p, _ := whisper.New(srv.URL)

	res, err := p.Transcribe(context.Background(), stt.Request{Audio: makeSpeechPCM(1600)})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if res.WasSuccessful {
		t.Error("WasSuccessful = true for empty transcript")
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	srv, _, _ := newMockServer(t, `oops`, http.StatusInternalServerError)
	p, _ := whisper.New(srv.URL)

	if _, err := p.Transcribe(context.Background(), stt.Request{Audio: makeSpeechPCM(1600)}); err == nil {
		t.Fatal("expected error for HTTP 500")
	}
}

func TestTranscribe_InvalidJSON(t *testing.T) {
	srv, _, _ := newMockServer(t, `{not json`, http.StatusOK)
	p, _ := whisper.New(srv.URL)

	if _, err := p.Transcribe(context.Background(), stt.Request{Audio: makeSpeechPCM(1600)}); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestTranscribe_CancelledContext(t *testing.T) {
	p, _ := whisper.New("http://127.0.0.1:1")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Transcribe(ctx, stt.Request{Audio: makeSpeechPCM(100)}); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestTranscribe_Concurrent(t *testing.T) {
	srv, _, calls := newMockServer(t, verboseBody, http.StatusOK)
	p, _ := whisper.New(srv.URL)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Transcribe(context.Background(), stt.Request{Audio: makeSpeechPCM(800)}); err != nil {
				t.Errorf("Transcribe: %v", err)
			}
		}()
	}
	wg.Wait()
	if n := calls.Load(); n != 8 {
		t.Errorf("server calls = %d, want 8", n)
	}
}

// ---- WAV helpers ------------------------------------------------------------

func TestEncodeWAV_Header(t *testing.T) {
	pcm := makeSpeechPCM(10)
	wav := whisper.EncodeWAV(pcm, 16000, 1)

	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Fatal("missing RIFF/WAVE/data markers")
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Errorf("sample rate = %d, want 16000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[28:32]); got != 32000 {
		t.Errorf("byte rate = %d, want 32000", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); int(got) != len(pcm) {
		t.Errorf("data size = %d, want %d", got, len(pcm))
	}
}

func TestComputeRMS(t *testing.T) {
	if got := whisper.ComputeRMS(nil); got != 0 {
		t.Errorf("ComputeRMS(nil) = %v, want 0", got)
	}
	if got := whisper.ComputeRMS(make([]byte, 100)); got != 0 {
		t.Errorf("ComputeRMS(silence) = %v, want 0", got)
	}
	if got := whisper.ComputeRMS(makeSpeechPCM(16000)); math.Abs(got-7071) > 50 {
		t.Errorf("ComputeRMS(sine) = %v, want ~7071", got)
	}
}
