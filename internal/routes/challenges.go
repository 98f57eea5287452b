package routes

import (
	"cssbattle-eval/internal/challenge"
	"errors"
	"math/rand"
	"net/http"
	"sync"
	"time"
)

type ChallengeResponse struct {
	challenge.Challenge
	TargetURL string `json:"targetUrl,omitempty"`
}

func newChallengeResponse(c challenge.Challenge, targets *Targets) ChallengeResponse {
	response := ChallengeResponse{Challenge: c}
	if locator, err := targets.Resolve("", c.ID); err == nil {
		response.TargetURL = locator
	}
	return response
}

func ListChallenges(targets *Targets) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := []ChallengeResponse{}
		if targets != nil && targets.Catalog != nil {
			for _, c := range targets.Catalog.All() {
				response = append(response, newChallengeResponse(c, targets))
			}
		}
		writeJSON(w, r, http.StatusOK, response)
	}
}

func GetChallenge(targets *Targets) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if targets == nil || targets.Catalog == nil {
			http.NotFound(w, r)
			return
		}

		c, err := targets.Catalog.Get(r.PathValue("id"))
		if err != nil {
			if errors.Is(err, challenge.NotFoundError) {
				http.NotFound(w, r)
				return
			}
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		writeJSON(w, r, http.StatusOK, newChallengeResponse(c, targets))
	}
}

// RandomChallenge picks one challenge uniformly, for practice rounds.
func RandomChallenge(targets *Targets) http.HandlerFunc {
	var mu sync.Mutex
	source := rand.New(rand.NewSource(time.Now().UnixNano()))

	return func(w http.ResponseWriter, r *http.Request) {
		if targets == nil || targets.Catalog == nil {
			http.NotFound(w, r)
			return
		}

		mu.Lock()
		c, err := targets.Catalog.Random(source)
		mu.Unlock()
		if err != nil {
			if errors.Is(err, challenge.NotFoundError) {
				http.NotFound(w, r)
				return
			}
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}

		writeJSON(w, r, http.StatusOK, newChallengeResponse(c, targets))
	}
}
