package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"cssbattle-eval/internal/capture"
	"cssbattle-eval/internal/challenge"
	"cssbattle-eval/internal/compare"
	"cssbattle-eval/internal/evaluate"
	"cssbattle-eval/internal/reference"
	"cssbattle-eval/internal/retry"
	"cssbattle-eval/internal/routes"
	"cssbattle-eval/internal/runnable"
	"cssbattle-eval/internal/storage"
	"encoding/json"
	"flag"
	"fmt"
	"image/png"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/xerrors"
)

type EvaluateOutput struct {
	File           string   `json:"file"`
	Score          *float64 `json:"score,omitempty"`
	MatchingPixels uint64   `json:"matchingPixels,omitempty"`
	TotalPixels    uint64   `json:"totalPixels,omitempty"`
	DiffPath       string   `json:"diffPath,omitempty"`
	Error          string   `json:"error,omitempty"`
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Fatalf("Failed to load .env: %v", err)
	}

	var target string
	var challengeID string
	var challenges string
	var imageBase string
	var width int
	var height int
	var diff bool
	var backend string
	var headless bool
	var remoteURL string
	var subresourcePolicy string
	var timeout time.Duration
	var concurrency int
	var storageBackend string
	var callbackURL string
	var directory string
	var s3Bucket string
	var s3Prefix string

	flag.StringVar(&target, "target", runnable.EnvOrDefaultValue("TARGET", ""), "Target image locator (http(s), data:, s3:// or path)")
	flag.StringVar(&challengeID, "challenge", runnable.EnvOrDefaultValue("CHALLENGE", ""), "Challenge id to score against instead of -target")
	flag.StringVar(&challenges, "challenges", runnable.EnvOrDefaultValue("CHALLENGES", ""), "Challenge dataset locator, required with -challenge")
	flag.StringVar(&imageBase, "image-base", runnable.EnvOrDefaultValue("IMAGE_BASE", "public/challenges"), "Where challenge target images live")
	flag.IntVar(&width, "width", runnable.EnvOrDefaultValue("WIDTH", evaluate.DefaultWidth), "Canvas width")
	flag.IntVar(&height, "height", runnable.EnvOrDefaultValue("HEIGHT", evaluate.DefaultHeight), "Canvas height")
	flag.BoolVar(&diff, "diff", runnable.EnvOrDefaultValue("DIFF", false), "Write a diff image per file")
	flag.StringVar(&backend, "rasterizer", runnable.EnvOrDefaultValue("RASTERIZER", "playwright"), "Browser backend (playwright or chromedp)")
	flag.BoolVar(&headless, "headless", runnable.EnvOrDefaultValue("HEADLESS", true), "Run the browser headless")
	flag.StringVar(&remoteURL, "chrome-devtools-protocol-url", runnable.EnvOrDefaultValue("CHROME_DEVTOOLS_PROTOCOL_URL", ""), "Attach to a running browser instead of launching one")
	flag.StringVar(&subresourcePolicy, "subresource-policy", runnable.EnvOrDefaultValue("SUBRESOURCE_POLICY", "best-effort"), "best-effort or strict")
	flag.DurationVar(&timeout, "timeout", runnable.EnvOrDefaultValue("TIMEOUT", evaluate.DefaultTimeout), "Bound on each capture")
	flag.IntVar(&concurrency, "concurrency", runnable.EnvOrDefaultValue("CONCURRENCY", 0), "Simultaneous renders (0 = GOMAXPROCS)")
	flag.StringVar(&storageBackend, "storage-backend", runnable.EnvOrDefaultValue("STORAGE_BACKEND", "file"), "Where diff images go (file or s3)")
	flag.StringVar(&callbackURL, "callback-url", runnable.EnvOrDefaultValue("CALLBACK_URL", ""), "PATCH the results here instead of printing them")
	flag.StringVar(&directory, "directory", runnable.EnvOrDefaultValue("DIRECTORY", "/tmp"), "Output directory for file output")
	flag.StringVar(&s3Bucket, "s3-bucket", runnable.EnvOrDefaultValue("S3_BUCKET", ""), "Bucket for s3 output")
	flag.StringVar(&s3Prefix, "s3-prefix", runnable.EnvOrDefaultValue("S3_PREFIX", ""), "Key prefix for s3 output")
	flag.Parse()

	files := flag.Args()
	if len(files) == 0 {
		log.Fatalf("markup files not specified")
	}

	ctx := context.Background()

	fileStorage, err := storage.NewFileStorage(ctx, storage.FileConfig{
		Directory: directory,
	})
	if err != nil {
		log.Fatalf("Failed to create file storage backend: %v", err)
	}
	// Locators given on the command line are relative to the working directory.
	workingDirectory, err := storage.NewFileStorage(ctx, storage.FileConfig{
		Directory: ".",
	})
	if err != nil {
		log.Fatalf("Failed to create file storage backend: %v", err)
	}
	s3Storage, err := storage.NewS3Storage(ctx, storage.S3Config{
		Bucket: s3Bucket,
		Prefix: s3Prefix,
	})
	if err != nil {
		log.Fatalf("Failed to create S3 storage backend: %v", err)
	}
	blobs := &storage.Mux{
		File: workingDirectory,
		S3:   s3Storage,
	}

	var out storage.Storage
	switch storageBackend {
	case "file":
		out = fileStorage
	case "s3":
		out = s3Storage
	default:
		log.Fatalf("Unknown storage backend: %s", storageBackend)
	}

	targets := &routes.Targets{
		ImageBase:      imageBase,
		StorageTargets: true,
	}
	if challenges != "" {
		catalog, err := challenge.Load(ctx, blobs, challenges)
		if err != nil {
			log.Fatalf("Failed to load challenges: %v", err)
		}
		targets.Catalog = catalog
	}
	locator, err := targets.Resolve(target, challengeID)
	if err != nil {
		log.Fatalf("Failed to resolve target: %v", err)
	}

	policy, err := capture.ParseSubresourcePolicy(subresourcePolicy)
	if err != nil {
		log.Fatalf("Invalid subresource policy: %v", err)
	}
	rasterizerBackend, err := capture.ParseBackend(backend)
	if err != nil {
		log.Fatalf("Invalid rasterizer: %v", err)
	}
	rasterizer, err := capture.NewRasterizer(ctx, capture.Config{
		Backend:           rasterizerBackend,
		Headless:          headless,
		RemoteURL:         remoteURL,
		Timeout:           timeout,
		SubresourcePolicy: policy,
	})
	if err != nil {
		log.Fatalf("Failed to create rasterizer: %v", err)
	}
	defer rasterizer.Close()

	evaluator := &evaluate.Evaluator{
		Rasterizer: rasterizer,
		Reference: &reference.Loader{
			Client:  reference.NewClient(retry.DefaultOn(), retry.Exponential(100*time.Millisecond, 2*time.Second, 3, retry.FullJitter), timeout),
			Storage: blobs,
		},
		Comparator:  compare.NewDefaultComparator(),
		Timeout:     timeout,
		Concurrency: concurrency,
	}

	candidates := make(map[string]capture.Document, len(files))
	for _, file := range files {
		markup, err := os.ReadFile(file)
		if err != nil {
			log.Fatalf("Failed to read markup file: %v", err)
		}
		candidates[file] = capture.Document{Markup: string(markup)}
	}

	outcomes := evaluator.EvaluateAll(ctx, locator, candidates, width, height, diff)

	sort.Strings(files)
	timestamp := time.Now().Format("20060102150405")
	results := make([]EvaluateOutput, 0, len(files))
	for _, file := range files {
		outcome := outcomes[file]
		result := EvaluateOutput{
			File: file,
		}
		if outcome.Err != nil {
			result.Error = outcome.Err.Error()
		} else {
			score := outcome.Result.Score
			result.Score = &score
			result.MatchingPixels = outcome.Result.MatchingPixels
			result.TotalPixels = outcome.Result.TotalPixels

			if outcome.Result.Diff != nil {
				var buffer bytes.Buffer
				if err := png.Encode(&buffer, outcome.Result.Diff.Image()); err != nil {
					log.Fatalf("Failed to encode diff image: %v", err)
				}

				result.DiffPath, err = out.Put(ctx, diffKey(locator, file, timestamp), buffer.Bytes())
				if err != nil {
					log.Fatalf("Failed to save diff image: %v", err)
				}
			}
		}

		results = append(results, result)
	}

	if callbackURL != "" {
		if err := callback(ctx, callbackURL, results, timeout); err != nil {
			log.Fatalf("Failed to send callback: %v", err)
		}
		return
	}

	encoder := json.NewEncoder(os.Stdout)
	for _, result := range results {
		if err := encoder.Encode(result); err != nil {
			log.Fatalf("Failed to encode result: %v", err)
		}
	}
}

// diffKey names a diff image after the target and the whole markup path, so
// files sharing a basename in different directories do not overwrite each other.
func diffKey(locator string, file string, timestamp string) string {
	path, err := filepath.Abs(file)
	if err != nil {
		path = filepath.Clean(file)
	}

	h := sha256.New()
	h.Write([]byte(locator))
	h.Write([]byte{0})
	h.Write([]byte(path))
	hash := fmt.Sprintf("%x", h.Sum(nil))[:16]

	return fmt.Sprintf("Evaluation/diff/%s/%s.png", hash, timestamp)
}

func callback(ctx context.Context, callbackURL string, results []EvaluateOutput, timeout time.Duration) error {
	body, err := json.Marshal(results)
	if err != nil {
		return xerrors.Errorf("failed to encode results: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPatch, callbackURL, bytes.NewReader(body))
	if err != nil {
		return xerrors.Errorf("failed to create request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")

	client := reference.NewClient(retry.DefaultOn(), retry.Exponential(10*time.Millisecond, time.Second, 3, nil), timeout)
	response, err := client.Do(request)
	if err != nil {
		return xerrors.Errorf("failed to send request: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return xerrors.Errorf("callback answered %s", response.Status)
	}
	return nil
}
