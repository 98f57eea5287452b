package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"cssbattle-eval/internal/compare"
	"cssbattle-eval/internal/pixel"
	"cssbattle-eval/internal/reference"
	"cssbattle-eval/internal/runnable"
	"cssbattle-eval/internal/storage"
	"encoding/json"
	"flag"
	"fmt"
	"image/png"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

type CompareOutput struct {
	Score          float64 `json:"score"`
	MatchingPixels uint64  `json:"matchingPixels"`
	TotalPixels    uint64  `json:"totalPixels"`
	DiffPath       string  `json:"diffPath,omitempty"`
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Fatalf("Failed to load .env: %v", err)
	}

	var width int
	var height int
	var tolerance uint
	var diff bool
	var directory string

	flag.IntVar(&width, "width", runnable.EnvOrDefaultValue("WIDTH", 0), "Comparison width (0 = baseline width)")
	flag.IntVar(&height, "height", runnable.EnvOrDefaultValue("HEIGHT", 0), "Comparison height (0 = baseline height)")
	flag.UintVar(&tolerance, "tolerance", runnable.EnvOrDefaultValue("TOLERANCE", uint(compare.DefaultTolerance)), "Per-channel tolerance")
	flag.BoolVar(&diff, "diff", runnable.EnvOrDefaultValue("DIFF", true), "Write a diff image")
	flag.StringVar(&directory, "directory", runnable.EnvOrDefaultValue("DIRECTORY", "/tmp"), "Output directory")
	flag.Parse()

	args := flag.Args()
	if len(args) < 2 {
		log.Fatalf("baseline, target not specified")
	}
	if tolerance > 255 {
		log.Fatalf("Tolerance must be at most 255, got %d", tolerance)
	}

	ctx := context.Background()
	s, err := storage.NewFileStorage(ctx, storage.FileConfig{
		Directory: directory,
	})
	if err != nil {
		log.Fatalf("Failed to create storage backend: %v", err)
	}

	baselinePath := args[0]
	targetPath := args[1]

	baselineData, err := os.ReadFile(baselinePath)
	if err != nil {
		log.Fatalf("Failed to load baseline image: %v", err)
	}
	baselineImage, err := reference.Decode(baselineData)
	if err != nil {
		log.Fatalf("Failed to decode baseline image: %v", err)
	}
	if width == 0 {
		width = baselineImage.Bounds().Dx()
	}
	if height == 0 {
		height = baselineImage.Bounds().Dy()
	}

	var baseline, target *pixel.Buffer
	eg := errgroup.Group{}
	eg.Go(func() error {
		var err error
		baseline, err = reference.Stretch(baselineImage, width, height)
		return err
	})
	eg.Go(func() error {
		data, err := os.ReadFile(targetPath)
		if err != nil {
			return err
		}
		img, err := reference.Decode(data)
		if err != nil {
			return err
		}
		target, err = reference.Stretch(img, width, height)
		return err
	})
	if err := eg.Wait(); err != nil {
		log.Fatalf("Failed to load images: %v", err)
	}

	result, err := compare.NewToleranceComparator(uint8(tolerance)).Compare(baseline, target, diff)
	if err != nil {
		log.Fatalf("Failed to compare images: %v", err)
	}

	output := CompareOutput{
		Score:          result.Score,
		MatchingPixels: result.MatchingPixels,
		TotalPixels:    result.TotalPixels,
	}
	if result.Diff != nil {
		var buffer bytes.Buffer
		if err := png.Encode(&buffer, result.Diff.Image()); err != nil {
			log.Fatalf("Failed to encode diff image: %v", err)
		}

		h := sha256.New()
		h.Write([]byte(baselinePath + targetPath))
		hash := fmt.Sprintf("%x", h.Sum(nil))[:16]

		key := fmt.Sprintf("Evaluation/diff/%s/%s.png", hash, time.Now().Format("20060102150405"))
		output.DiffPath, err = s.Put(ctx, key, buffer.Bytes())
		if err != nil {
			log.Fatalf("Failed to save diff image: %v", err)
		}
	}

	if err := json.NewEncoder(os.Stdout).Encode(output); err != nil {
		log.Fatalf("Failed to encode result: %v", err)
	}
}
