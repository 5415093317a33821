// Command food-camera shows the camera feed with food detections drawn over it.
package main

import (
	"context"
	"fmt"
	"image"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/menta2k/food-detector/internal/app"
	"github.com/menta2k/food-detector/internal/config"
	"github.com/menta2k/food-detector/internal/logging"
	"github.com/menta2k/food-detector/internal/utils"
	"github.com/menta2k/food-detector/internal/viewer"
	"github.com/menta2k/food-detector/pkg/processing"
)

const (
	windowWidth  = 800
	windowHeight = 600
	keyWaitMS    = 30
)

func main() {
	cfg, err := config.Load(config.ResolvePath(os.Getenv("FOOD_DETECTOR_CONFIG"), config.GetConfigPath()))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg = viewer.PipelineConfig(cfg)

	model, err := app.LoadModel(cfg.Model, logger.Named("model"))
	if err != nil {
		logger.Fatalw("cannot start without a model", "error", err)
	}
	a, err := app.New(ctx, cfg, model, logger)
	if err != nil {
		logger.Fatalw("pipeline setup failed", "error", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warnw("close", "error", err)
		}
	}()

	if err := run(ctx, cfg, a, logger); err != nil {
		// camera problems are reported, not treated as a crash
		logger.Errorw("camera viewer stopped", "error", err)
		logger.Info("make sure the camera is connected and not in use by another application")
	}
	logger.Info("application closed")
}

func run(ctx context.Context, cfg *config.Config, a *app.App, logger *zap.SugaredLogger) error {
	webcam, err := gocv.OpenVideoCapture(cfg.Camera.Device)
	if err != nil {
		return errors.Wrapf(err, "open camera %d", cfg.Camera.Device)
	}
	defer webcam.Close()

	frame := gocv.NewMat()
	defer frame.Close()

	if ok := webcam.Read(&frame); !ok || frame.Empty() {
		return errors.Errorf("camera %d: cannot read frames", cfg.Camera.Device)
	}
	logger.Infow("camera ready", "width", frame.Cols(), "height", frame.Rows())

	webcam.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Camera.Width))
	webcam.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Camera.Height))
	webcam.Set(gocv.VideoCaptureFPS, float64(cfg.Camera.FPS))

	window := gocv.NewWindow(viewer.WindowTitle)
	defer window.Close()
	window.ResizeWindow(windowWidth, windowHeight)

	processor := processing.NewProcessor()
	annotator := processing.NewAnnotator()
	controls := viewer.NewControls()
	var shown *image.RGBA

	for ctx.Err() == nil {
		if !controls.Paused {
			if ok := webcam.Read(&frame); !ok || frame.Empty() {
				return errors.Errorf("camera %d: frame read failed", cfg.Camera.Device)
			}
			annotated, err := annotateFrame(ctx, a, frame, cfg.Camera.Mirror, logger)
			if err != nil {
				return err
			}
			controls.Compose(annotator, annotated)
			if err := show(window, annotated); err != nil {
				return err
			}
			shown = annotated
		}

		switch controls.HandleKey(window.WaitKey(keyWaitMS)) {
		case viewer.ActionQuit:
			return nil
		case viewer.ActionSave:
			if controls.Paused || shown == nil {
				continue
			}
			if err := utils.EnsureDir(cfg.Output.OutputDir); err != nil {
				logger.Warnw("save frame", "error", err)
				continue
			}
			path := utils.SnapshotFilename(cfg.Output.OutputDir, cfg.Output.Prefix, time.Now())
			if err := processor.SaveImage(shown, path, "jpg", cfg.Output.JPEGQuality, false); err != nil {
				logger.Warnw("save frame", "path", path, "error", err)
				continue
			}
			logger.Infow("frame saved", "path", path)
		case viewer.ActionToggleHelp:
			logger.Infow("help toggled", "visible", controls.ShowHelp)
		case viewer.ActionTogglePause:
			logger.Infow("pause toggled", "paused", controls.Paused)
		}
	}
	return nil
}

// annotateFrame runs detection on one captured frame. A detection failure
// leaves the frame unannotated rather than stopping the viewer.
func annotateFrame(ctx context.Context, a *app.App, frame gocv.Mat, mirror bool, logger *zap.SugaredLogger) (*image.RGBA, error) {
	src, err := frame.ToImage()
	if err != nil {
		return nil, errors.Wrap(err, "convert frame")
	}
	if mirror {
		src = processing.Mirror(src)
	}
	dets, err := a.Detector.DetectImage(ctx, src)
	if err != nil {
		logger.Warnw("frame detection failed", "error", err)
		return processing.CloneRGBA(src), nil
	}
	for _, d := range dets {
		logger.Debugw("detected", "food", d.FoodName, "confidence", d.Confidence)
	}
	return a.Detector.Annotate(src, dets), nil
}

func show(window *gocv.Window, img image.Image) error {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return errors.Wrap(err, "convert frame for display")
	}
	defer mat.Close()
	window.IMShow(mat)
	return nil
}
