package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"log"
	"os"
	"path/filepath"

	"github.com/thyrook/boardsight/internal/board"
	"github.com/thyrook/boardsight/internal/classifier"
	"github.com/thyrook/boardsight/internal/config"
	"github.com/thyrook/boardsight/internal/geometry"
	"github.com/thyrook/boardsight/internal/iface"
	"github.com/thyrook/boardsight/internal/position"
	"github.com/thyrook/boardsight/internal/vision"
)

func main() {
	imageFile := flag.String("image", "", "Path to chess board image file")
	liveMode := flag.Bool("live", false, "Capture the configured screen region")
	configFile := flag.String("config", "config.yaml", "Path to configuration file")
	mode := flag.String("mode", "auto", "Orientation mode: auto, white or black")
	saveOutput := flag.String("output", "", "Save the de-skewed board to this PNG")
	cellsDir := flag.String("cells", "", "Write the 64 cell images to this directory")
	locateOnly := flag.Bool("locate", false, "Stop after localization")
	verbose := flag.Bool("v", false, "Verbose output")

	flag.Parse()

	cfg := config.LoadOrDefault(*configFile)
	cfg.ApplyEnv()
	vcfg := cfg.Vision()
	if err := vcfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	level := "warn"
	if *verbose {
		level = "debug"
	}
	logger, closeLog, err := iface.NewLogger("", level)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer closeLog()

	var img image.Image
	switch {
	case *imageFile != "":
		img, err = vision.LoadImage(*imageFile)
	case *liveMode:
		img, err = vision.NewScreenSource(vcfg.CaptureRegion, vcfg.Display).Capture(context.Background())
	default:
		fmt.Println("BoardSight Vision Test Tool")
		fmt.Println("\nUsage:")
		flag.PrintDefaults()
		os.Exit(1)
	}
	if err != nil {
		log.Fatalf("Capture failed: %v", err)
	}
	fmt.Printf("Image: %dx%d\n", img.Bounds().Dx(), img.Bounds().Dy())

	det, err := vision.NewLocalizer(vcfg, logger).Locate(img)
	if err != nil {
		log.Fatalf("Localization failed: %v", err)
	}
	fmt.Printf("Board: %s (finder %s, score %.2f, %d candidates)\n",
		det.Region, det.Finder, det.Fit.Score, det.Candidates)

	if *saveOutput != "" {
		warped, err := geometry.Warp(img, det.Region, vcfg.PatchSize*board.Size)
		if err != nil {
			log.Fatalf("De-skew failed: %v", err)
		}
		if err := vision.SavePNG(*saveOutput, warped); err != nil {
			log.Fatalf("Save failed: %v", err)
		}
		fmt.Printf("Saved board to %s\n", *saveOutput)
	}
	if *locateOnly {
		return
	}

	patches, closeClassifier, err := classifier.New(cfg.ClassifierOptions(), logger)
	if err != nil {
		log.Fatalf("Failed to load classifier: %v", err)
	}
	defer closeClassifier()
	sampler := vision.NewSampler(vcfg, patches, logger)

	if *cellsDir != "" {
		if err := dumpCells(sampler, img, det.Region, *cellsDir); err != nil {
			log.Fatalf("Failed to write cells: %v", err)
		}
		fmt.Printf("Wrote 64 cells to %s\n", *cellsDir)
	}

	raw, stats, err := sampler.Sample(context.Background(), img, det.Region)
	if err != nil {
		log.Fatalf("Sampling failed: %v", err)
	}
	fmt.Printf("Sampled in %v: %d uncertain, %d errors\n", stats.Elapsed, stats.LowConfidence, stats.Errors)
	fmt.Print(board.Print(raw, false))

	override, err := board.ParseOverrideMode(*mode)
	if err != nil {
		log.Fatalf("%v", err)
	}
	res := board.Resolve(raw, override, cfg.Orientation.MinMargin)
	fmt.Printf("Orientation: %s (%s, confidence %.2f", res.Orientation, res.Source, res.Confidence)
	if res.Ambiguous {
		fmt.Print(", ambiguous")
	}
	fmt.Println(")")

	enc := (&position.Encoder{SwapColorsOnFlip: cfg.Position.SwapColorsOnFlip}).Encode(raw, res.Orientation)
	fmt.Print(board.Print(enc.Board(), true))

	repaired, warnings, err := position.Repair(enc)
	for _, w := range warnings {
		fmt.Printf("Warning: %s\n", w)
	}
	if err != nil {
		fmt.Printf("FEN %s is not a legal position: %v\n", enc.FEN(), err)
		os.Exit(1)
	}
	fmt.Printf("FEN: %s\n", repaired.FEN())
	if terminal, reason, err := position.Status(repaired); err == nil && terminal {
		fmt.Printf("Game over: %s\n", reason)
	}
}

// dumpCells writes each cell as r<row>c<col>.png so they can be renamed into
// classifier templates.
func dumpCells(s *vision.Sampler, img image.Image, region geometry.Region, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	cells, err := s.Cells(img, region)
	if err != nil {
		return err
	}
	for i, cell := range cells {
		name := fmt.Sprintf("r%dc%d.png", i/board.Size, i%board.Size)
		if err := vision.SavePNG(filepath.Join(dir, name), cell); err != nil {
			return err
		}
	}
	return nil
}
