package routes

import (
	"cssbattle-eval/internal/compare"
	"cssbattle-eval/internal/pixel"
	"cssbattle-eval/internal/reference"
	"image"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/xerrors"
)

const maxUploadBytes = 32 << 20

type regionFinder interface {
	MismatchRegions(a *pixel.Buffer, b *pixel.Buffer) ([]compare.Rectangle, error)
}

// Compare scores two uploaded images against each other. Both are stretched
// to width×height (default: the baseline's own size) before comparison.
func Compare(comparator compare.Comparer, metrics *Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()

		response, err := func() (*EvaluateResponse, error) {
			if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
				return nil, xerrors.Errorf("invalid multipart form: %v: %w", err, BadRequestError)
			}

			width, err := formInt(r, "width")
			if err != nil {
				return nil, err
			}
			height, err := formInt(r, "height")
			if err != nil {
				return nil, err
			}
			if err := validateShape(width, height); err != nil {
				return nil, err
			}
			withDiff, _ := strconv.ParseBool(r.FormValue("diff"))
			withRegions, _ := strconv.ParseBool(r.FormValue("regions"))

			baselineImage, err := formImage(r, "baseline")
			if err != nil {
				return nil, err
			}
			targetImage, err := formImage(r, "target")
			if err != nil {
				return nil, err
			}

			if width == 0 {
				width = baselineImage.Bounds().Dx()
			}
			if height == 0 {
				height = baselineImage.Bounds().Dy()
			}
			if err := validateShape(width, height); err != nil {
				return nil, err
			}

			baseline, err := reference.Stretch(baselineImage, width, height)
			if err != nil {
				return nil, err
			}
			target, err := reference.Stretch(targetImage, width, height)
			if err != nil {
				return nil, err
			}

			// Both buffers are at hand, so regions come from them directly
			// instead of from a diff nobody asked for.
			finder, direct := comparator.(regionFinder)
			direct = direct && withRegions

			result, err := comparator.Compare(baseline, target, withDiff || (withRegions && !direct))
			if err != nil {
				return nil, err
			}
			response, err := newEvaluateResponse(result, withDiff, withRegions && !direct)
			if err != nil {
				return nil, err
			}
			if direct {
				regions, err := finder.MismatchRegions(baseline, target)
				if err != nil {
					return nil, err
				}
				response.Regions = regions
				if response.Regions == nil {
					response.Regions = []compare.Rectangle{}
				}
			}
			return response, nil
		}()
		if err != nil {
			_, reason := classify(err)
			metrics.observe(r.Context(), "compare", started, 0, reason)
			writeError(w, r, err)
			return
		}

		metrics.observe(r.Context(), "compare", started, response.Score, "")
		writeJSON(w, r, http.StatusOK, response)
	}
}

func formInt(r *http.Request, key string) (int, error) {
	v := r.FormValue(key)
	if v == "" {
		return 0, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, xerrors.Errorf("%s must be an integer: %w", key, BadRequestError)
	}
	return i, nil
}

func formImage(r *http.Request, key string) (image.Image, error) {
	file, _, err := r.FormFile(key)
	if err != nil {
		return nil, xerrors.Errorf("missing %s file: %w", key, BadRequestError)
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, xerrors.Errorf("failed to read %s: %w", key, err)
	}

	img, err := reference.Decode(data)
	if err != nil {
		return nil, xerrors.Errorf("%s: %v: %w", key, err, BadRequestError)
	}
	return img, nil
}
