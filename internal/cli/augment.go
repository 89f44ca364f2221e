package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dunamismax/pixelaug/internal/augment"
	"github.com/dunamismax/pixelaug/internal/domain"
	"github.com/dunamismax/pixelaug/internal/id"
	"github.com/dunamismax/pixelaug/internal/logging"
	"github.com/dunamismax/pixelaug/internal/pipeline"
	"github.com/dunamismax/pixelaug/internal/progress"
)

var errNothingSucceeded = errors.New("no image was augmented")

type augmentOptions struct {
	ops         []string
	noiseType   string
	blurType    string
	rangesFile  string
	variants    int
	format      string
	quality     int
	seed        uint64
	seedSet     bool
	outDir      string
	concurrency int
	verbose     bool
	quiet       bool
}

func newAugmentCommand() *cobra.Command {
	opts := &augmentOptions{}
	cmd := &cobra.Command{
		Use:   "augment <image>...",
		Short: "Augment local images into an output directory",
		Long: `Augment runs every image through the selected operations in the order
they are listed, so --ops crop,scale and --ops scale,crop differ. Each variant
draws fresh random parameters. Formats this build cannot write fall back to png.

Examples:
  pixelaug augment cat.jpg --ops rotation,flip,noise --variants 5
  pixelaug augment *.png --ops blur --blur-type median --out ./aug
  pixelaug augment cat.jpg --ops crop,color --seed 42 --format jpeg`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.seedSet = cmd.Flags().Changed("seed")
			return runAugment(cmd.Context(), opts, args, cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	flags := cmd.Flags()
	flags.StringSliceVar(&opts.ops, "ops", nil, "operations to apply (see the operations command)")
	flags.StringVar(&opts.noiseType, "noise-type", "", "noise kind: gaussian or salt_pepper")
	flags.StringVar(&opts.blurType, "blur-type", "", "blur kind: gaussian or median")
	flags.StringVar(&opts.rangesFile, "ranges", "", "JSON file overriding the sampling ranges")
	flags.IntVarP(&opts.variants, "variants", "n", 1, "variants to produce per image")
	flags.StringVarP(&opts.format, "format", "f", "", "output format: "+strings.Join(pipeline.OutputFormats(), ", ")+" (default: source format)")
	flags.IntVar(&opts.quality, "quality", 0, "encoder quality for lossy formats, 1-100")
	flags.Uint64Var(&opts.seed, "seed", 0, "seed for reproducible output")
	flags.StringVarP(&opts.outDir, "out", "o", "./augmented", "output directory")
	flags.IntVar(&opts.concurrency, "concurrency", min(8, runtime.NumCPU()), "images processed in parallel")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log every image")
	flags.BoolVarP(&opts.quiet, "quiet", "q", false, "print nothing but errors")
	_ = cmd.MarkFlagRequired("ops")

	return cmd
}

func (o *augmentOptions) spec() (domain.AugmentSpec, error) {
	spec := domain.AugmentSpec{
		Operations: o.ops,
		NoiseType:  o.noiseType,
		BlurType:   o.blurType,
		Variants:   o.variants,
		Format:     o.format,
		Quality:    o.quality,
	}
	if o.seedSet {
		seed := o.seed
		spec.Seed = &seed
	}
	if o.rangesFile != "" {
		data, err := os.ReadFile(o.rangesFile)
		if err != nil {
			return domain.AugmentSpec{}, fmt.Errorf("read ranges: %w", err)
		}
		var ranges augment.Ranges
		if err := json.Unmarshal(data, &ranges); err != nil {
			return domain.AugmentSpec{}, fmt.Errorf("parse ranges %s: %w", o.rangesFile, err)
		}
		spec.Ranges = ranges
	}
	return spec, nil
}

func runAugment(ctx context.Context, o *augmentOptions, sources []string, stdout, stderr io.Writer) error {
	spec, err := o.spec()
	if err != nil {
		return err
	}
	req := domain.CreateJobRequest{
		SourceType: domain.SourceTypeLocalFile,
		Sources:    sources,
		Augment:    spec,
	}
	if err := req.Validate(); err != nil {
		return err
	}
	req = req.Normalize()

	level := "warn"
	if o.verbose {
		level = "debug"
	}
	logger, err := logging.NewWithWriter(logging.Config{Level: level, Encoding: "console"}, "", stderr)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if err := pipeline.Startup(); err != nil {
		return fmt.Errorf("start image runtime: %w", err)
	}

	proc, err := pipeline.NewProcessor(
		pipeline.LocalFileFetcher{},
		pipeline.LocalFileEmitter{OutputDir: o.outDir},
		pipeline.WithConcurrency(o.concurrency),
		pipeline.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	jobID := id.New()
	total := len(sources) * req.Augment.VariantCount()
	tracker := progress.NewMemoryTracker()
	if err := tracker.Start(ctx, jobID, total); err != nil {
		return err
	}

	result, err := proc.Process(ctx, pipeline.Request{
		JobID:      jobID,
		SourceType: domain.SourceTypeLocalFile,
		Sources:    req.Sources,
		Augment:    req.Augment,
		Observer: func(out pipeline.Output) {
			snap, err := tracker.Record(ctx, jobID, out.Success)
			if err != nil {
				return
			}
			if out.Success {
				logger.Debug("image written",
					zap.String("source", out.Source),
					zap.Int("variant", out.Variant),
					zap.String("path", out.Path),
					zap.Float64("percent", snap.Percent),
				)
			}
		},
	})
	if err != nil {
		return err
	}

	for _, out := range result.Outputs {
		if !out.Success {
			fmt.Fprintf(stderr, "failed: %s variant %d: %s\n", out.Source, out.Variant, out.Error)
		}
	}
	if !o.quiet {
		fmt.Fprintf(stdout, "augmented %d of %d images into %s", result.Succeeded, total, o.outDir)
		if result.Failed > 0 {
			fmt.Fprintf(stdout, " (%d failed)", result.Failed)
		}
		fmt.Fprintln(stdout)
	}
	if result.Succeeded == 0 {
		return errNothingSucceeded
	}
	return nil
}
