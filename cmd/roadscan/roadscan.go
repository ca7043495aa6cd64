package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/akamensky/argparse"
	"github.com/coreos/go-systemd/daemon"
	"github.com/cyclopcam/roadscan/pkg/pipeline"
	"github.com/cyclopcam/roadscan/pkg/runlog"
	"github.com/cyclopcam/roadscan/pkg/storage"
	"github.com/cyclopcam/roadscan/server"
	"github.com/cyclopcam/roadscan/server/notify"
	"github.com/joho/godotenv"
)

func main() {
	parser := argparse.NewParser("roadscan", "Road defect detection from dashcam video and GPS logs")

	runCmd := parser.NewCommand("run", "Process a single request, and write the summary to stdout")
	requestFile := runCmd.String("r", "request", &argparse.Options{Help: "Request JSON file", Required: true})
	outDir := runCmd.String("o", "out", &argparse.Options{Help: "Root of the RESULT_* output directories", Default: "."})
	logDir := runCmd.String("", "log-dir", &argparse.Options{Help: "Directory for log files", Default: "LOGS"})
	detectorURL := runCmd.String("", "detector-url", &argparse.Options{Help: "HTTP object detection service (or set DETECTOR_URL)", Default: ""})
	labelsFile := runCmd.String("", "labels", &argparse.Options{Help: "Replay detections from a labels file instead of running a detector", Default: ""})
	serviceTracks := runCmd.Flag("", "service-tracks", &argparse.Options{Help: "The detection service assigns track ids itself", Default: false})
	frameSkip := runCmd.Int("", "skip", &argparse.Options{Help: "Process every Nth frame (overrides the request)", Default: 0})
	saveVideo := runCmd.Flag("", "save-video", &argparse.Options{Help: "Write an annotated video", Default: false})
	interactive := runCmd.Flag("", "interactive", &argparse.Options{Help: "Type 'q' and enter to stop early", Default: false})
	verbose := runCmd.Flag("v", "verbose", &argparse.Options{Help: "Debug logging", Default: false})

	serveCmd := parser.NewCommand("serve", "Run the HTTP service")
	configFile := serveCmd.String("c", "config", &argparse.Options{Help: "Config file path", Default: "roadscan.json"})

	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	// .env is optional
	godotenv.Load()

	if runCmd.Happened() {
		minLevel := runlog.LevelInfo
		if *verbose {
			minLevel = runlog.LevelDebug
		}
		detector := pipeline.DetectorConfig{
			URL:           *detectorURL,
			Labels:        *labelsFile,
			ServiceTracks: *serviceTracks,
		}
		if detector.URL == "" && detector.Labels == "" {
			detector.URL = os.Getenv("DETECTOR_URL")
		}
		os.Exit(runOnce(runArgs{
			requestFile: *requestFile,
			outDir:      *outDir,
			logDir:      *logDir,
			minLevel:    minLevel,
			detector:    detector,
			frameSkip:   *frameSkip,
			saveVideo:   *saveVideo,
			interactive: *interactive,
		}))
	} else if serveCmd.Happened() {
		os.Exit(serve(*configFile))
	}
}

type runArgs struct {
	requestFile string
	outDir      string
	logDir      string
	minLevel    runlog.Level
	detector    pipeline.DetectorConfig
	frameSkip   int
	saveVideo   bool
	interactive bool
}

// runOnce writes the summary JSON to stdout. Everything else goes to stderr and the log file.
func runOnce(args runArgs) int {
	logger, err := runlog.NewLog(runlog.Options{Console: os.Stderr, Dir: args.logDir, MinLevel: args.minLevel})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		return 1
	}
	defer logger.Close()

	emit := func(summary *pipeline.RunSummary) int {
		os.Stdout.Write(summary.Compact())
		os.Stdout.Write([]byte("\n"))
		if !summary.OK() {
			return 1
		}
		return 0
	}

	req, err := pipeline.LoadRequest(args.requestFile)
	if err != nil {
		logger.Errorf("%v", err)
		return emit(pipeline.NewErrorSummary(nil, err))
	}
	if args.frameSkip > 0 {
		req.FrameSkip = args.frameSkip
	}
	if args.saveVideo {
		req.SaveVideo = true
	}

	newDetector, err := args.detector.Factory(logger)
	if err != nil {
		logger.Errorf("%v", err)
		return emit(pipeline.NewErrorSummary(req, err))
	}
	store, err := storage.NewStorageFS(logger, args.outDir)
	if err != nil {
		logger.Errorf("%v", err)
		return emit(pipeline.NewErrorSummary(req, err))
	}

	opt := pipeline.DefaultOptions(store)
	opt.NewDetector = newDetector

	kafkaCfg := notify.Config{Brokers: os.Getenv("KAFKA_BROKERS"), Topic: os.Getenv("KAFKA_TOPIC")}
	if kafkaCfg.Brokers != "" {
		publisher, err := notify.NewPublisher(logger, kafkaCfg)
		if err != nil {
			logger.Errorf("%v", err)
			return emit(pipeline.NewErrorSummary(req, err))
		}
		defer publisher.Close(10 * time.Second)
		opt.Listeners = append(opt.Listeners, publisher)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args.interactive {
		quit := make(chan struct{})
		go func() {
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				if strings.TrimSpace(scanner.Text()) == "q" {
					logger.Infof("Quit requested")
					close(quit)
					return
				}
			}
		}()
		opt.Quit = quit
	}

	o := pipeline.NewOrchestrator(logger, opt, req, "")
	o.Run(ctx)
	return emit(o.Summary())
}

func serve(configFile string) int {
	cfg, err := server.LoadConfig(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	logger, err := runlog.NewLog(runlog.Options{Console: os.Stdout, Dir: cfg.LogDir, MinLevel: runlog.LevelInfo})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		return 1
	}
	srv, err := server.NewServer(logger, cfg)
	if err != nil {
		logger.Errorf("%v", err)
		logger.Close()
		return 1
	}
	srv.ListenForKillSignals()

	// Tell systemd that we're alive
	daemon.SdNotify(false, daemon.SdNotifyReady)

	err = srv.ListenHTTP(cfg.Listen)
	if !errors.Is(err, http.ErrServerClosed) {
		logger.Errorf("ListenHTTP returned: %v", err)
		srv.Shutdown()
		return 1
	}
	<-srv.ShutdownComplete
	return 0
}
