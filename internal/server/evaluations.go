package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/MrWong99/elocution/internal/evaluation"
	"github.com/MrWong99/elocution/internal/exercise"
	"github.com/MrWong99/elocution/internal/observe"
	"github.com/MrWong99/elocution/internal/store"
)

// Defaults for audio attempts that omit the PCM format.
const (
	defaultSampleRate = 16000
	defaultChannels   = 1
)

// IdempotencyHeader carries the client's idempotency key.
const IdempotencyHeader = "Idempotency-Key"

type wordRequest struct {
	Word             string  `json:"word" validate:"required,max=128"`
	Confidence       float64 `json:"confidence" validate:"gte=0,lte=1"`
	StartTimeSeconds float64 `json:"start_time_seconds" validate:"gte=0"`
	EndTimeSeconds   float64 `json:"end_time_seconds" validate:"gte=0"`
}

type evaluationRequest struct {
	UserID       string `json:"user_id" validate:"max=128"`
	ExpectedText string `json:"expected_text" validate:"required,max=4000"`
	Language     string `json:"language" validate:"max=35"`

	Words []wordRequest `json:"words" validate:"required_without=AudioBase64,max=1000,dive"`

	AudioBase64 string `json:"audio_base64" validate:"excluded_with=Words,omitempty,base64"`
	SampleRate  int    `json:"sample_rate" validate:"omitempty,min=8000,max=192000"`
	Channels    int    `json:"channels" validate:"omitempty,min=1,max=2"`
}

type evaluationResponse struct {
	AttemptID          string                         `json:"attempt_id"`
	Transcript         string                         `json:"transcript,omitempty"`
	WordPairs          []evaluation.WordPair          `json:"word_pairs"`
	ScorePercentage    float64                        `json:"score_percentage"`
	UserPronunciations []evaluation.UserPronunciation `json:"user_pronunciations"`
	Saved              bool                           `json:"saved"`
}

func newAttemptID() string {
	return uuid.NewString()
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	attemptID := s.newAttemptID()
	log := observe.Logger(ctx).With("attempt_id", attemptID)

	var req evaluationRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeProblem(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeProblem(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
		return
	}
	fields, err := validateRequest(&req)
	if err != nil {
		log.Error("server: validate evaluation request", "err", err)
		writeProblem(w, http.StatusInternalServerError, "internal error")
		return
	}
	if fields != nil {
		writeProblem(w, http.StatusBadRequest, "invalid request", fields...)
		return
	}

	attempt, err := req.attempt()
	if err != nil {
		writeProblem(w, http.StatusBadRequest, err.Error())
		return
	}

	key := r.Header.Get(IdempotencyHeader)
	claimed, ok := s.claim(ctx, w, key)
	if !ok {
		return
	}

	out, err := s.exercises.Complete(ctx, attempt)
	if err != nil {
		if claimed {
			s.release(ctx, key)
		}
		status, msg := evaluationErrorStatus(err)
		if status >= http.StatusInternalServerError {
			log.Error("server: complete exercise", "err", err)
		} else {
			log.Debug("server: exercise rejected", "status", status, "err", err)
		}
		writeProblem(w, status, msg)
		return
	}

	w.Header().Set("X-Attempt-ID", attemptID)
	writeJSON(w, http.StatusOK, evaluationResponse{
		AttemptID:          attemptID,
		Transcript:         out.Transcript,
		WordPairs:          out.WordPairs,
		ScorePercentage:    out.ScorePercentage,
		UserPronunciations: out.UserPronunciations,
		Saved:              out.Saved,
	})
}

// claim reserves key with the idempotency guard. It returns false after
// writing a response when the request must not proceed. A guard outage is
// logged and the request proceeds unguarded.
func (s *Server) claim(ctx context.Context, w http.ResponseWriter, key string) (claimed, ok bool) {
	if key == "" || s.guard == nil {
		return false, true
	}
	if len(key) > 255 {
		writeProblem(w, http.StatusBadRequest, IdempotencyHeader+" must be at most 255 characters")
		return false, false
	}
	err := s.guard.Claim(ctx, key, s.idempotencyTTL)
	switch {
	case err == nil:
		return true, true
	case errors.Is(err, store.ErrDuplicate):
		s.metrics.DuplicateSubmissions.Add(ctx, 1)
		writeProblem(w, http.StatusConflict, "duplicate submission")
		return false, false
	default:
		observe.Logger(ctx).Warn("server: idempotency guard unavailable, continuing without it", "err", err)
		return false, true
	}
}

func (s *Server) release(ctx context.Context, key string) {
	if err := s.guard.Release(context.WithoutCancel(ctx), key); err != nil {
		observe.Logger(ctx).Warn("server: release idempotency key", "err", err)
	}
}

func (req *evaluationRequest) attempt() (exercise.Attempt, error) {
	a := exercise.Attempt{
		UserID:       req.UserID,
		ExpectedText: req.ExpectedText,
		Language:     req.Language,
	}
	if req.AudioBase64 != "" {
		pcm, err := base64.StdEncoding.DecodeString(req.AudioBase64)
		if err != nil {
			return a, fmt.Errorf("audio_base64: %v", err)
		}
		if len(pcm)%2 != 0 {
			return a, errors.New("audio_base64: 16-bit PCM must have an even number of bytes")
		}
		a.Audio = pcm
		a.SampleRate = req.SampleRate
		if a.SampleRate == 0 {
			a.SampleRate = defaultSampleRate
		}
		a.Channels = req.Channels
		if a.Channels == 0 {
			a.Channels = defaultChannels
		}
		return a, nil
	}

	a.Words = make([]evaluation.ActualWord, len(req.Words))
	for i, w := range req.Words {
		a.Words[i] = evaluation.ActualWord{
			Word:             w.Word,
			Confidence:       w.Confidence,
			StartTimeSeconds: w.StartTimeSeconds,
			EndTimeSeconds:   w.EndTimeSeconds,
		}
	}
	return a, nil
}

func evaluationErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, exercise.ErrInvalidAttempt):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, exercise.ErrNotRecognised):
		return http.StatusUnprocessableEntity, "speech not recognised"
	case errors.Is(err, exercise.ErrNoTranscriber):
		return http.StatusNotImplemented, "audio transcription is not configured"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "request cancelled"
	default:
		return http.StatusBadGateway, "transcription failed"
	}
}
