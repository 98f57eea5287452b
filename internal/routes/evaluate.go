package routes

import (
	"bytes"
	"cssbattle-eval/internal/compare"
	"cssbattle-eval/internal/evaluate"
	"cssbattle-eval/internal/pixel"
	"encoding/base64"
	"encoding/json"
	"image/png"
	"net/http"
	"time"

	"golang.org/x/xerrors"
)

const maxRequestBytes = 4 << 20

// maxDimension bounds width and height so one request cannot ask for an
// arbitrarily large surface.
const maxDimension = 4096

type EvaluateRequest struct {
	Markup      string `json:"markup,omitempty"`
	URL         string `json:"url,omitempty"`
	TargetURL   string `json:"targetUrl,omitempty"`
	ChallengeID string `json:"challengeId,omitempty"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	Diff        bool   `json:"diff,omitempty"`
	Regions     bool   `json:"regions,omitempty"`
}

type EvaluateResponse struct {
	Score          float64             `json:"score"`
	MatchingPixels uint64              `json:"matchingPixels"`
	TotalPixels    uint64              `json:"totalPixels"`
	DiffData       string              `json:"diffData,omitempty"`
	Regions        []compare.Rectangle `json:"regions,omitempty"`
}

func Evaluate(evaluator *evaluate.Evaluator, targets *Targets, metrics *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()

		response, err := func() (*EvaluateResponse, error) {
			var request EvaluateRequest
			if err := decodeJSON(w, r, &request); err != nil {
				return nil, err
			}
			document, err := targets.Document(request.Markup, request.URL)
			if err != nil {
				return nil, err
			}
			if err := validateShape(request.Width, request.Height); err != nil {
				return nil, err
			}
			targetURL, err := targets.Resolve(request.TargetURL, request.ChallengeID)
			if err != nil {
				return nil, err
			}

			result, err := evaluator.Evaluate(r.Context(), evaluate.Request{
				Document:     document,
				TargetURL:    targetURL,
				Width:        request.Width,
				Height:       request.Height,
				GenerateDiff: request.Diff || request.Regions,
			})
			if err != nil {
				return nil, err
			}

			return newEvaluateResponse(result, request.Diff, request.Regions)
		}()
		if err != nil {
			_, reason := classify(err)
			metrics.observe(r.Context(), "evaluate", started, 0, reason)
			writeError(w, r, err)
			return
		}

		metrics.observe(r.Context(), "evaluate", started, response.Score, "")
		writeJSON(w, r, http.StatusOK, response)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(v); err != nil {
		return xerrors.Errorf("invalid request body: %v: %w", err, BadRequestError)
	}
	return nil
}

func validateShape(width int, height int) error {
	if width < 0 || height < 0 || width > maxDimension || height > maxDimension {
		return xerrors.Errorf("%dx%d is out of range: %w", width, height, BadRequestError)
	}
	return nil
}

func encodeDiff(diff *pixel.Buffer) (string, error) {
	var buffer bytes.Buffer
	if err := png.Encode(&buffer, diff.Image()); err != nil {
		return "", xerrors.Errorf("failed to encode diff: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buffer.Bytes()), nil
}

func newEvaluateResponse(result *compare.Result, withDiff bool, withRegions bool) (*EvaluateResponse, error) {
	response := &EvaluateResponse{
		Score:          result.Score,
		MatchingPixels: result.MatchingPixels,
		TotalPixels:    result.TotalPixels,
	}
	if result.Diff == nil {
		return response, nil
	}

	if withDiff {
		diffData, err := encodeDiff(result.Diff)
		if err != nil {
			return nil, err
		}
		response.DiffData = diffData
	}
	if withRegions {
		response.Regions = compare.DiffRegions(result.Diff)
		if response.Regions == nil {
			response.Regions = []compare.Rectangle{}
		}
	}
	return response, nil
}
