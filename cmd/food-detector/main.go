// Command food-detector serves the food detection API and runs detection on
// local files from the command line.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	fooddetector "github.com/menta2k/food-detector"
	"github.com/menta2k/food-detector/internal/app"
	"github.com/menta2k/food-detector/internal/config"
	"github.com/menta2k/food-detector/internal/logging"
	"github.com/menta2k/food-detector/internal/server"
	"github.com/menta2k/food-detector/internal/utils"
	"github.com/menta2k/food-detector/pkg/processing"
	"github.com/menta2k/food-detector/pkg/types"
)

const (
	flagConfig   = "config"
	flagAddr     = "addr"
	flagModel    = "model"
	flagLogLevel = "log-level"
	flagOutDir   = "out-dir"
	flagJSON     = "json"
	flagOutput   = "output"
	flagForce    = "force"
)

func main() {
	cliApp := &cli.App{
		Name:            "food-detector",
		Usage:           "detect food in images and look up its carbon footprint",
		Version:         fooddetector.GetVersion(),
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				EnvVars: []string{"FOOD_DETECTOR_CONFIG"},
				Usage:   "load configuration from `FILE` (default: " + config.GetConfigPath() + " when present)",
			},
			&cli.StringFlag{
				Name:  flagAddr,
				Usage: "listen on `ADDR` (overrides server.addr)",
			},
			&cli.StringFlag{
				Name:  flagModel,
				Usage: "ONNX model `PATH` (overrides model.path)",
			},
			&cli.StringFlag{
				Name:  flagLogLevel,
				Usage: "log `LEVEL`: debug, info, warn or error",
			},
		},
		Action: serveAction,
		Commands: []*cli.Command{
			{
				Name:      "detect",
				Usage:     "run detection on image files, directories or URLs",
				ArgsUsage: "<image|dir|url>...",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  flagOutDir,
						Usage: "write annotated images to `DIR` (defaults to output.output_dir)",
					},
					&cli.BoolFlag{
						Name:  flagJSON,
						Usage: "print results as JSON",
					},
				},
				Action: detectAction,
			},
			{
				Name:  "init-config",
				Usage: "write the effective configuration to a file, without API keys",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    flagOutput,
						Aliases: []string{"o"},
						Value:   config.GetConfigPath(),
						Usage:   "write to `FILE`",
					},
					&cli.BoolFlag{
						Name:  flagForce,
						Usage: "overwrite an existing file",
					},
				},
				Action: initConfigAction,
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, environment and flag overrides
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(config.ResolvePath(c.String(flagConfig), config.GetConfigPath()))
	if err != nil {
		return nil, err
	}
	if c.IsSet(flagAddr) {
		cfg.Server.Addr = c.String(flagAddr)
	}
	if c.IsSet(flagModel) {
		cfg.Model.Path = c.String(flagModel)
	}
	if c.IsSet(flagLogLevel) {
		cfg.Log.Level = c.String(flagLogLevel)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setup loads configuration and builds the pipeline
func setup(c *cli.Context) (*config.Config, *app.App, *zap.SugaredLogger, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, nil, nil, err
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, nil, err
	}

	model, err := app.LoadModel(cfg.Model, logger.Named("model"))
	if err != nil {
		return nil, nil, nil, err
	}
	a, err := app.New(c.Context, cfg, model, logger)
	if err != nil {
		return nil, nil, nil, multierr.Combine(err, model.Close())
	}
	return cfg, a, logger, nil
}

func serveAction(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, a, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warnw("close", "error", err)
		}
	}()

	opts := server.Options{
		Analyzer:       a.Detector.Analyzer(),
		MaxUploadBytes: int64(cfg.Server.MaxUploadMB) << 20,
		CORSOrigins:    cfg.Server.CORSOrigins,
		Logger:         logger.Named("http"),
	}
	if a.Facts != nil {
		opts.Facts = a.Facts
	}

	logger.Infow("food detection API starting", "version", fooddetector.GetVersion(), "model", cfg.Model.Path)
	return server.New(a.Detector, opts).Run(ctx, cfg.Server)
}

func initConfigAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	path := c.String(flagOutput)
	if _, err := os.Stat(path); err == nil && !c.Bool(flagForce) {
		return cli.Exit(fmt.Sprintf("%s already exists, use --force to overwrite", path), 1)
	}
	if err := cfg.SaveToFile(path); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "wrote %s\n", path)
	return nil
}

type fileResult struct {
	Source     string            `json:"source"`
	Width      int               `json:"width,omitempty"`
	Height     int               `json:"height,omitempty"`
	Size       string            `json:"size,omitempty"`
	Output     string            `json:"output,omitempty"`
	Detections []types.Detection `json:"detections"`
	Error      string            `json:"error,omitempty"`
}

func detectAction(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("detect: at least one image, directory or URL is required", 2)
	}
	sources, err := expandSources(c.Args().Slice())
	if err != nil {
		return err
	}

	cfg, a, logger, err := setup(c)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warnw("close", "error", err)
		}
	}()

	outDir := cfg.Output.OutputDir
	if c.IsSet(flagOutDir) {
		outDir = c.String(flagOutDir)
	}
	if err := utils.EnsureDir(outDir); err != nil {
		return errors.Wrap(err, "create output directory")
	}

	processor := processing.NewProcessor()
	results := make([]fileResult, 0, len(sources))
	for _, src := range sources {
		res := detectOne(c.Context, a.Detector, processor, src, outDir, cfg.Output.JPEGQuality)
		if res.Error != "" {
			logger.Warnw("detect failed", "source", src, "error", res.Error)
		}
		results = append(results, res)
	}

	if c.Bool(flagJSON) {
		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	for _, r := range results {
		printResult(c, r)
	}
	return nil
}

func detectOne(ctx context.Context, d *fooddetector.Detector, p *processing.Processor, src, outDir string, quality int) fileResult {
	res := fileResult{Source: src, Detections: []types.Detection{}}

	img, err := p.LoadImageSmart(src)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	info := d.Analyzer().GetImageInfo(img)
	res.Width, res.Height = info.Width, info.Height
	if st, err := os.Stat(src); err == nil {
		res.Size = utils.FormatFileSize(st.Size())
	}
	dets, err := d.DetectImage(ctx, img)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Detections = dets

	out := utils.AnnotatedFilename(src, outDir, "jpg")
	if err := p.SaveImage(d.Annotate(img, dets), out, "jpg", quality, false); err != nil {
		res.Error = errors.Wrap(err, "save annotated image").Error()
		return res
	}
	res.Output = out
	return res
}

func printResult(c *cli.Context, r fileResult) {
	w := c.App.Writer
	if r.Error != "" {
		fmt.Fprintf(w, "%s: error: %s\n", r.Source, r.Error)
		return
	}
	dims := fmt.Sprintf("%dx%d", r.Width, r.Height)
	if r.Size != "" {
		dims += ", " + r.Size
	}
	fmt.Fprintf(w, "%s (%s): found %d food items -> %s\n", r.Source, dims, len(r.Detections), r.Output)
	for _, d := range r.Detections {
		fmt.Fprintf(w, "  %s\n", processing.Label(d.FoodName, d.Confidence))
		if d.CarbonFootprintInfo != nil {
			fmt.Fprintf(w, "    %s\n", d.CarbonFootprintInfo.ConciseFact)
		}
	}
}

// expandSources keeps URLs as given and expands directories into image files
func expandSources(args []string) ([]string, error) {
	var sources, paths []string
	for _, arg := range args {
		if strings.HasPrefix(arg, "http://") || strings.HasPrefix(arg, "https://") {
			sources = append(sources, arg)
			continue
		}
		paths = append(paths, arg)
	}
	files, err := utils.ExpandImageArgs(paths)
	if err != nil {
		return nil, err
	}
	return append(sources, files...), nil
}
