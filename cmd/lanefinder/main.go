package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ayusman/lanefinder/internal/app"
	"github.com/ayusman/lanefinder/internal/calibration"
	"github.com/ayusman/lanefinder/internal/capture"
	"github.com/ayusman/lanefinder/internal/pipeline"
	"github.com/ayusman/lanefinder/internal/plugin"
	"github.com/ayusman/lanefinder/internal/report"
	"github.com/ayusman/lanefinder/internal/server"
	"github.com/ayusman/lanefinder/internal/store"
)

const pluginTimeout = 5 * time.Second

type options struct {
	input      string
	device     int
	output     string
	configPath string
	calibPath  string
	stage      string
	dbPath     string
	addr       string
	reportPath string
	sceneCut   float64
	fps        float64
	pluginDir  string
	webDir     string
}

func parseFlags() options {
	var o options
	flag.StringVar(&o.input, "input", "", "video file, image file or image directory to process")
	flag.IntVar(&o.device, "device", -1, "camera device ID to process instead of -input")
	flag.StringVar(&o.output, "output", "", "output .mp4/.avi video, image file or image directory")
	flag.StringVar(&o.configPath, "config", "", "pipeline config JSON overlaid on the defaults")
	flag.StringVar(&o.calibPath, "calibration", "", "camera calibration JSON")
	flag.StringVar(&o.stage, "stage", "", "stop every frame at this stage (e.g. warp_perspective)")
	flag.StringVar(&o.dbPath, "db", "", "session database path (default ~/.lanefinder/lanefinder.db)")
	flag.StringVar(&o.addr, "addr", "", "serve the live stream and session API on this address, e.g. :8080")
	flag.StringVar(&o.reportPath, "report", "", "write a curvature/offset PNG report for the session")
	flag.Float64Var(&o.sceneCut, "scene-cut", capture.DefaultSceneCutThreshold, "changed-pixel fraction that resets tracking; 0 disables")
	flag.Float64Var(&o.fps, "fps", 0, "output video frame rate (default: the source's)")
	flag.StringVar(&o.webDir, "web", "", "serve this directory instead of the built-in lane viewer")
	flag.StringVar(&o.pluginDir, "plugins", "", "lane event plugin directory (default ~/.lanefinder/plugins)")
	flag.Parse()
	return o
}

func main() {
	fmt.Println("Lanefinder - Lane Detection")

	opts := parseFlags()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		log.Fatalf("lanefinder: %v", err)
	}
}

func run(ctx context.Context, opts options) error {
	dbPath, err := resolveDBPath(opts.dbPath)
	if err != nil {
		return err
	}
	st, err := store.New(dbPath)
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	defer st.Close()

	var hub *server.Hub
	serveErr := make(chan error, 1)
	serveCtx, stopServer := context.WithCancel(ctx)
	defer stopServer()

	if opts.addr != "" {
		hub = server.NewHub()
		if opts.webDir != "" {
			fmt.Printf("Serving static files from: %s\n", opts.webDir)
		}
		srv := server.New(server.Config{StaticDir: opts.webDir, Store: st, Hub: hub})

		fmt.Printf("Starting server on %s\n", opts.addr)
		go func() {
			serveErr <- srv.ListenAndServe(serveCtx, opts.addr)
		}()
	}

	src, name, err := openSource(opts)
	if err != nil {
		return err
	}

	if src != nil {
		dispatcher, err := startPlugins(opts.pluginDir)
		if err != nil {
			return err
		}
		stats, err := process(ctx, opts, src, name, st, hub, dispatcher)
		if ctx.Err() != nil {
			dispatcher.Abort()
		} else {
			dispatcher.Close()
		}
		if err != nil {
			return err
		}
		if opts.reportPath != "" && stats.SessionID != "" {
			if err := writeReport(st, stats.SessionID, name, opts.reportPath); err != nil {
				return err
			}
			fmt.Printf("Report written to %s\n", opts.reportPath)
		}
	}

	if opts.addr == "" {
		return nil
	}
	if src != nil {
		fmt.Println("Processing finished; still serving, press Ctrl+C to exit")
	}

	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}
	stopServer()
	return <-serveErr
}

// process runs the frame loop over src once.
func process(ctx context.Context, opts options, src capture.Source, name string, st *store.Store, hub *server.Hub, dispatcher *plugin.Dispatcher) (app.Stats, error) {
	cfg := pipeline.DefaultConfig()
	if opts.configPath != "" {
		var err error
		if cfg, err = pipeline.LoadConfig(opts.configPath); err != nil {
			return app.Stats{}, err
		}
	}

	var cal *calibration.Calibration
	if opts.calibPath != "" {
		var err error
		if cal, err = calibration.Load(opts.calibPath); err != nil {
			return app.Stats{}, err
		}
	}

	pipe, err := pipeline.New(cfg, cal)
	if err != nil {
		cal.Close()
		return app.Stats{}, err
	}
	defer pipe.Close()

	appCfg := app.Config{
		Pipeline:   pipe,
		Source:     src,
		SourceName: name,
		Store:      st,
		Hub:        hub,
		Plugins:    dispatcher,
	}

	if opts.stage != "" {
		stage, err := pipeline.ParseStage(opts.stage)
		if err != nil {
			return app.Stats{}, err
		}
		appCfg.Stage = &stage
	}

	if opts.sceneCut > 0 {
		detector := capture.NewSceneCutDetector(opts.sceneCut)
		defer detector.Close()
		appCfg.SceneCut = detector
	}

	// Open early so the sink can use the source frame rate.
	if err := src.Open(); err != nil {
		return app.Stats{}, err
	}
	if opts.output != "" {
		fps := opts.fps
		if fps <= 0 {
			fps = src.FPS()
		}
		sink, err := capture.NewSink(opts.output, fps)
		if err != nil {
			src.Close()
			return app.Stats{}, err
		}
		defer func() {
			if err := sink.Close(); err != nil {
				log.Printf("Error closing output: %v", err)
			}
		}()
		appCfg.Sink = sink
	}

	a, err := app.New(appCfg)
	if err != nil {
		src.Close()
		return app.Stats{}, err
	}

	stats, err := a.Run(ctx)
	if err != nil {
		return stats, err
	}
	fmt.Printf("Processed %d frames (%d with a lane), session %s\n", stats.Frames, stats.Detected, stats.SessionID)
	return stats, nil
}

// openSource picks the frame source from the flags. It returns a nil
// source when neither -input nor -device is set, which only makes sense
// together with -addr.
func openSource(opts options) (capture.Source, string, error) {
	switch {
	case opts.input != "" && opts.device >= 0:
		return nil, "", errors.New("-input and -device are mutually exclusive")
	case opts.input != "":
		info, err := os.Stat(opts.input)
		if err != nil {
			return nil, "", err
		}
		if info.IsDir() {
			src, err := capture.NewImageDir(opts.input)
			return src, opts.input, err
		}
		if capture.IsImagePath(opts.input) {
			return capture.NewImageSource(opts.input), opts.input, nil
		}
		return capture.NewVideoFile(opts.input), opts.input, nil
	case opts.device >= 0:
		return capture.NewDevice(opts.device), fmt.Sprintf("device:%d", opts.device), nil
	case opts.addr != "":
		return nil, "", nil
	default:
		return nil, "", errors.New("one of -input, -device or -addr is required")
	}
}

// startPlugins discovers the plugins in dir and starts delivering lane
// events to them.
func startPlugins(dir string) (*plugin.Dispatcher, error) {
	if dir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		dir = filepath.Join(homeDir, ".lanefinder", "plugins")
	}

	manager := plugin.NewManager(dir)
	if err := manager.Discover(); err != nil {
		return nil, fmt.Errorf("discover plugins: %w", err)
	}
	for _, p := range manager.List() {
		fmt.Printf("Loaded plugin %s %s (%v)\n", p.Manifest.Name, p.Manifest.Version, p.Manifest.Events)
	}
	return plugin.NewDispatcher(manager, plugin.NewExecutor(pluginTimeout), 0), nil
}

func writeReport(st *store.Store, sessionID, title, path string) error {
	frames, err := st.Frames().ListBySession(sessionID, 0, 0)
	if err != nil {
		return err
	}
	if err := report.Save(path, title, frames); err != nil {
		if errors.Is(err, report.ErrNoFrames) {
			log.Printf("No frames recorded, skipping report")
			return nil
		}
		return err
	}
	return nil
}

// resolveDBPath returns path, or the default database under the home
// directory, creating its parent directory.
func resolveDBPath(path string) (string, error) {
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("get home directory: %w", err)
		}
		path = filepath.Join(homeDir, ".lanefinder", "lanefinder.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("create data directory: %w", err)
	}
	return path, nil
}
