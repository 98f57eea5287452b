package main

import (
	"context"
	"cssbattle-eval/internal/capture"
	"cssbattle-eval/internal/challenge"
	"cssbattle-eval/internal/compare"
	"cssbattle-eval/internal/evaluate"
	"cssbattle-eval/internal/reference"
	"cssbattle-eval/internal/retry"
	"cssbattle-eval/internal/routes"
	"cssbattle-eval/internal/runnable"
	"cssbattle-eval/internal/storage"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Fatalf("Failed to load .env: %v", err)
	}

	var backend string
	var headless bool
	var remoteURL string
	var subresourcePolicy string
	var delay time.Duration
	var timeout time.Duration
	var tolerance uint
	var concurrency int
	var cacheSize int
	var retryOn string
	var retryCount uint
	var challenges string
	var imageBase string
	var directory string
	var s3Bucket string
	var documentHosts string

	flag.StringVar(&backend, "rasterizer", runnable.EnvOrDefaultValue("RASTERIZER", "playwright"), "Browser backend (playwright or chromedp)")
	flag.BoolVar(&headless, "headless", runnable.EnvOrDefaultValue("HEADLESS", true), "Run the browser headless")
	flag.StringVar(&remoteURL, "chrome-devtools-protocol-url", runnable.EnvOrDefaultValue("CHROME_DEVTOOLS_PROTOCOL_URL", ""), "Attach to a running browser instead of launching one")
	flag.StringVar(&subresourcePolicy, "subresource-policy", runnable.EnvOrDefaultValue("SUBRESOURCE_POLICY", "best-effort"), "What to do when an embedded resource fails to load (best-effort or strict)")
	flag.DurationVar(&delay, "delay", runnable.EnvOrDefaultValue("DELAY", time.Duration(0)), "Wait after load before capturing")
	flag.DurationVar(&timeout, "timeout", runnable.EnvOrDefaultValue("TIMEOUT", evaluate.DefaultTimeout), "Bound on each capture")
	flag.UintVar(&tolerance, "tolerance", runnable.EnvOrDefaultValue("TOLERANCE", uint(compare.DefaultTolerance)), "Per-channel tolerance")
	flag.IntVar(&concurrency, "concurrency", runnable.EnvOrDefaultValue("CONCURRENCY", 0), "Simultaneous renders per batch (0 = GOMAXPROCS)")
	flag.IntVar(&cacheSize, "reference-cache-size", runnable.EnvOrDefaultValue("REFERENCE_CACHE_SIZE", 64), "Reference buffers kept in memory")
	flag.StringVar(&retryOn, "retry-on", runnable.EnvOrDefaultValue("RETRY_ON", "gateway-error,connect-failure,retriable-4xx"), "When to retry reference downloads")
	flag.UintVar(&retryCount, "retry-count", runnable.EnvOrDefaultValue("RETRY_COUNT", uint(3)), "Reference download retries")
	flag.StringVar(&challenges, "challenges", runnable.EnvOrDefaultValue("CHALLENGES", ""), "Challenge dataset (path, file:// or s3:// locator)")
	flag.StringVar(&imageBase, "image-base", runnable.EnvOrDefaultValue("IMAGE_BASE", "public/challenges"), "Where challenge target images live")
	flag.StringVar(&directory, "directory", runnable.EnvOrDefaultValue("DIRECTORY", "."), "Base directory for relative file locators")
	flag.StringVar(&s3Bucket, "s3-bucket", runnable.EnvOrDefaultValue("S3_BUCKET", ""), "Default S3 bucket")
	flag.StringVar(&documentHosts, "document-hosts", runnable.EnvOrDefaultValue("DOCUMENT_HOSTS", ""), "Comma separated hosts /evaluate may render by url (empty: markup only)")
	flag.BoolVar(&runnable.Debug, "debug", runnable.EnvOrDefaultValue("DEBUG", false), "Text logs and pprof handlers")
	flag.Parse()

	ctx := context.Background()

	policy, err := capture.ParseSubresourcePolicy(subresourcePolicy)
	if err != nil {
		log.Fatalf("Invalid subresource policy: %v", err)
	}
	rasterizerBackend, err := capture.ParseBackend(backend)
	if err != nil {
		log.Fatalf("Invalid rasterizer: %v", err)
	}
	if tolerance > 255 {
		log.Fatalf("Tolerance must be at most 255, got %d", tolerance)
	}
	on, err := retry.ParseOn(retryOn)
	if err != nil {
		log.Fatalf("Invalid retry condition: %v", err)
	}

	rasterizer, err := capture.NewRasterizer(ctx, capture.Config{
		Backend:           rasterizerBackend,
		Headless:          headless,
		RemoteURL:         remoteURL,
		Timeout:           timeout,
		Delay:             delay,
		SubresourcePolicy: policy,
	})
	if err != nil {
		log.Fatalf("Failed to create rasterizer: %v", err)
	}
	defer rasterizer.Close()

	fileStorage, err := storage.NewFileStorage(ctx, storage.FileConfig{
		Directory: directory,
	})
	if err != nil {
		log.Fatalf("Failed to create file storage backend: %v", err)
	}
	s3Storage, err := storage.NewS3Storage(ctx, storage.S3Config{
		Bucket: s3Bucket,
	})
	if err != nil {
		log.Fatalf("Failed to create S3 storage backend: %v", err)
	}
	blobs := &storage.Mux{
		File: fileStorage,
		S3:   s3Storage,
	}

	targets := &routes.Targets{
		ImageBase:     imageBase,
		DocumentHosts: splitHosts(documentHosts),
	}
	if challenges != "" {
		catalog, err := challenge.Load(ctx, blobs, challenges)
		if err != nil {
			log.Fatalf("Failed to load challenges: %v", err)
		}
		targets.Catalog = catalog
	}

	loader := &reference.Loader{
		Client:  reference.NewClient(on, retry.Exponential(100*time.Millisecond, 2*time.Second, retryCount, nil), timeout),
		Storage: blobs,
	}

	logger, err := runnable.NewLogger()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	evaluator := &evaluate.Evaluator{
		Rasterizer:  rasterizer,
		Reference:   reference.NewCache(loader, cacheSize),
		Comparator:  compare.NewToleranceComparator(uint8(tolerance)),
		Timeout:     timeout,
		Concurrency: concurrency,
		Log:         logr.FromSlogHandler(logger.Handler()).WithName("evaluate"),
	}

	server := runnable.NewServer(logger, evaluator, targets)
	if err := server.Start(ctx); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func splitHosts(s string) []string {
	var hosts []string
	for _, host := range strings.Split(s, ",") {
		if host = strings.ToLower(strings.TrimSpace(host)); host != "" {
			hosts = append(hosts, host)
		}
	}
	return hosts
}
