package routes

import (
	"cssbattle-eval/internal/capture"
	"cssbattle-eval/internal/evaluate"
	"net/http"
	"time"

	"golang.org/x/xerrors"
)

const maxCandidates = 32

type BatchRequest struct {
	TargetURL   string            `json:"targetUrl,omitempty"`
	ChallengeID string            `json:"challengeId,omitempty"`
	Width       int               `json:"width,omitempty"`
	Height      int               `json:"height,omitempty"`
	Diff        bool              `json:"diff,omitempty"`
	Candidates  map[string]string `json:"candidates"`
}

// BatchOutcome is either an EvaluateResponse or an ErrorResponse.
type BatchOutcome struct {
	*EvaluateResponse
	*ErrorResponse
}

type BatchResponse struct {
	Results map[string]BatchOutcome `json:"results"`
}

func EvaluateBatch(evaluator *evaluate.Evaluator, targets *Targets, metrics *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()

		var request BatchRequest
		if err := decodeJSON(w, r, &request); err != nil {
			writeError(w, r, err)
			return
		}
		if len(request.Candidates) == 0 || len(request.Candidates) > maxCandidates {
			writeError(w, r, xerrors.Errorf("between 1 and %d candidates are required: %w", maxCandidates, BadRequestError))
			return
		}
		if err := validateShape(request.Width, request.Height); err != nil {
			writeError(w, r, err)
			return
		}
		targetURL, err := targets.Resolve(request.TargetURL, request.ChallengeID)
		if err != nil {
			writeError(w, r, err)
			return
		}

		documents := make(map[string]capture.Document, len(request.Candidates))
		for name, markup := range request.Candidates {
			documents[name] = capture.Document{Markup: markup}
		}

		outcomes := evaluator.EvaluateAll(r.Context(), targetURL, documents, request.Width, request.Height, request.Diff)

		response := BatchResponse{
			Results: make(map[string]BatchOutcome, len(outcomes)),
		}
		for name, outcome := range outcomes {
			if outcome.Err == nil {
				var evaluated *EvaluateResponse
				evaluated, err = newEvaluateResponse(outcome.Result, request.Diff, false)
				if err == nil {
					metrics.observe(r.Context(), "evaluate_batch", started, evaluated.Score, "")
					response.Results[name] = BatchOutcome{EvaluateResponse: evaluated}
					continue
				}
				outcome.Err = err
			}

			_, reason := classify(outcome.Err)
			metrics.observe(r.Context(), "evaluate_batch", started, 0, reason)
			response.Results[name] = BatchOutcome{ErrorResponse: &ErrorResponse{
				Error:  comparisonUnavailable,
				Reason: reason,
			}}
		}

		writeJSON(w, r, http.StatusOK, response)
	}
}
