package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/presence.report/internal/api"
	"github.com/banshee-data/presence.report/internal/config"
	"github.com/banshee-data/presence.report/internal/ledger"
	"github.com/banshee-data/presence.report/internal/recognize"
	"github.com/banshee-data/presence.report/internal/schedule"
	"github.com/banshee-data/presence.report/internal/stream"
	"github.com/banshee-data/presence.report/internal/timeutil"
	"github.com/banshee-data/presence.report/internal/track"
	"github.com/banshee-data/presence.report/internal/version"
	"github.com/banshee-data/presence.report/internal/vision"
)

var (
	listen     = flag.String("listen", ":8080", "Listen address")
	dbFile     = flag.String("db", "attendance.db", "Attendance database path")
	configFile = flag.String("config", config.DefaultConfigPath, "Pipeline config JSON")
	timetable  = flag.String("timetable", "timetable.json", "Timetable JSON path")
	modelFile  = flag.String("model", "model.json", "Recognition model path")
	framesDir  = flag.String("frames", "", "Directory of frames to replay as the camera feed")
	devMode    = flag.Bool("dev", false, "Loop the frame directory forever")
	simpleDir  = flag.String("simple-dir", "", "Directory for flat-file day ledgers (empty disables)")

	enrollRoll = flag.String("enroll", "", "Enroll a roll number from -samples and exit")
	samplesDir = flag.String("samples", "", "Directory of face images for enrollment")
)

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg := loadConfig(*configFile)
	clock := timeutil.RealClock{}

	if *enrollRoll != "" {
		if err := enroll(cfg, *enrollRoll, *samplesDir, *modelFile); err != nil {
			log.Fatalf("enrollment failed: %v", err)
		}
		return
	}

	model, err := recognize.LoadLBPH(*modelFile)
	if err != nil {
		log.Fatalf("failed to load recognition model: %v", err)
	}
	if !model.Ready() {
		log.Printf("no model at %s, recognition inactive until someone is enrolled", *modelFile)
	} else {
		log.Printf("loaded model with %d enrolled labels", len(model.Labels()))
	}

	db, err := ledger.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.MigrateUp(ledger.Migrations()); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	resolver := schedule.NewResolver(*timetable, cfg.GetGraceMinutes())
	if err := resolver.Load(); err != nil {
		log.Fatalf("failed to load timetable: %v", err)
	}

	attendance := ledger.NewLedger(db, cfg, clock)
	aggregator := ledger.NewAggregator(attendance, resolver)

	var simple *ledger.SimpleLedger
	if *simpleDir != "" {
		simple = ledger.NewSimpleLedger(*simpleDir, clock)
	}

	doorTracker := track.NewDoorTracker(cfg, clock)
	verifier := recognize.NewVerifier(cfg, clock)

	reaper := track.NewReaper(clock, cfg.GetReapInterval(),
		track.ReapTarget{Name: "door", Tracker: doorTracker, Timeout: cfg.GetDoorTrackTimeout()},
		track.ReapTarget{Name: "verify", Tracker: verifier, Timeout: cfg.GetPeriodTrackTimeout()})
	reaper.OnReap = func(target string, s track.State) {
		if target == "door" {
			verifier.Forget(s.RollNo)
		}
	}
	reaper.Start()
	defer reaper.Stop()

	events := stream.NewEventLog(200)
	broadcast := stream.NewBroadcaster()

	pipeline := &stream.Pipeline{
		Gate:       vision.NewQualityGate(cfg),
		Pre:        vision.NewPreprocessor(cfg),
		Recognizer: recognize.NewAdapter(model, cfg),
		Verifier:   verifier,
		Tracker:    doorTracker,
		Resolver:   resolver,
		Ledger:     attendance,
		Simple:     simple,
		Clock:      clock,
		Events:     events,
		Broadcast:  broadcast,
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Capture loop, when a frame source is configured and a trained
	// model exists. The HTTP surface works without either, which is
	// how the unit runs while a camera is being repaired.
	if *framesDir != "" && model.Ready() {
		runner := &stream.Runner{
			Camera: &stream.DirCamera{
				Dir:      *framesDir,
				Interval: 100 * time.Millisecond,
				Loop:     *devMode,
				Clock:    clock,
			},
			Detector: stream.FullFrameDetector{},
			Pipeline: pipeline,
			Clock:    clock,
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := runner.Run(ctx); err != nil {
				log.Printf("capture loop failed: %v", err)
			}
		}()
	} else {
		log.Printf("no -frames source, running without capture")
	}

	// HTTP server goroutine.
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(cfg, resolver, attendance, aggregator, events).ServeMux()
		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("presence.report %s listening on %s", version.Version, *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

func loadConfig(path string) *config.PipelineConfig {
	cfg, err := config.LoadPipelineConfig(path)
	if err != nil {
		log.Printf("config %s not loaded (%v), using built-in defaults", path, err)
		return config.EmptyPipelineConfig()
	}
	return cfg
}

// enroll trains the model on every image in dir under the given roll
// number, gated the same way live capture is.
func enroll(cfg *config.PipelineConfig, rollNo, dir, modelPath string) error {
	if dir == "" {
		return fmt.Errorf("-samples directory is required for enrollment")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read samples dir: %w", err)
	}

	session := vision.NewCaptureSession(
		vision.NewQualityGate(cfg), vision.NewPreprocessor(cfg), len(entries))

	accepted := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		img, err := decodeImage(filepath.Join(dir, e.Name()))
		if err != nil {
			log.Printf("skipping %s: %v", e.Name(), err)
			continue
		}

		b := img.Bounds()
		box := vision.Rect{X: b.Min.X, Y: b.Min.Y, Width: b.Dx(), Height: b.Dy()}
		ok, reason := session.Offer(vision.FaceObservation{
			Box:  box,
			Crop: vision.CropGray(img, box),
		})
		if !ok {
			log.Printf("skipping %s: %s", e.Name(), reason)
			continue
		}
		accepted++
	}

	if accepted == 0 {
		return fmt.Errorf("no usable samples in %s", dir)
	}

	model, err := recognize.LoadLBPH(modelPath)
	if err != nil {
		return err
	}
	model.Train(rollNo, session.Samples())
	if err := model.Save(modelPath); err != nil {
		return err
	}

	log.Printf("enrolled %s with %d samples (%d labels total)", rollNo, accepted, len(model.Labels()))
	return nil
}

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	return img, err
}
