package server

import (
	"net/http"
	"strconv"

	"github.com/MrWong99/elocution/internal/observe"
	"github.com/MrWong99/elocution/internal/store"
	"github.com/MrWong99/elocution/pkg/provider/stt"
)

// Limits of the weakest-words listing.
const (
	defaultWordLimit = 20
	maxWordLimit     = 200
)

type weakestWordsResponse struct {
	UserID   string           `json:"user_id"`
	Language string           `json:"language,omitempty"`
	Words    []store.WordStat `json:"words"`
}

func (s *Server) handleWeakestWords(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")
	language := stt.PrimaryLanguage(r.URL.Query().Get("language"))

	limit := defaultWordLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxWordLimit {
			writeProblem(w, http.StatusBadRequest, "limit must be an integer between 1 and "+strconv.Itoa(maxWordLimit))
			return
		}
		limit = n
	}

	words, err := s.exercises.WeakestWords(r.Context(), userID, language, limit)
	if err != nil {
		observe.Logger(r.Context()).Error("server: weakest words", "user_id", userID, "err", err)
		writeProblem(w, http.StatusInternalServerError, "could not load pronunciation history")
		return
	}
	if words == nil {
		words = []store.WordStat{}
	}
	writeJSON(w, http.StatusOK, weakestWordsResponse{UserID: userID, Language: language, Words: words})
}
