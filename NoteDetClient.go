package main

import (
	adhoc "NoteDetClient/Adhoc"
	"NoteDetClient/camera"
	"NoteDetClient/config"
	"NoteDetClient/engine"
	feed "NoteDetClient/gRPC"
	iface "NoteDetClient/interface"
	"NoteDetClient/logger"
	"NoteDetClient/monitor"
	"NoteDetClient/payload"
	"NoteDetClient/pipeline"
	"NoteDetClient/relay"
	"NoteDetClient/transport"
	"NoteDetClient/vision"
	"NoteDetClient/web"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

func main() {
	cfg, found, err := config.LoadAppConfig("config.yaml")
	if err != nil {
		fmt.Println("Failed to read config file:", err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.LogMode); err != nil {
		fmt.Println("Failed to init logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Log()

	if problems := cfg.Validate(); len(problems) > 0 {
		fmt.Println(strings.Repeat("!", 64))
		for _, p := range problems {
			fmt.Println(p)
		}
		fmt.Println(strings.Repeat("!", 64))
		os.Exit(1)
	}

	ip, err := transport.GetOutboundIP()
	if err != nil {
		log.Warn("failed to get outbound IP", zap.Error(err))
		ip = "127.0.0.1"
	}

	// Settings are read once; edits from the web form apply on the next start.
	store := config.NewStore(cfg.SettingsFile)
	settings, err := store.Load()
	if err != nil {
		log.Fatal("load settings", zap.String("path", store.Path()), zap.Error(err))
	}

	fmt.Println(strings.Repeat("#", 64))
	fmt.Printf("CPU Cores: %d\n", runtime.NumCPU())
	fmt.Println(" Outbound IP:", ip)
	if !found {
		fmt.Println(" config.yaml not found, using defaults")
	}
	fmt.Println(" Backend    :", cfg.Detector.Backend, "("+strings.Join(engine.Backends(), ", ")+")")
	fmt.Println(" Model      :", cfg.Detector.ModelPath)
	fmt.Println(" Camera     :", settings.CameraIndex())
	fmt.Printf(" Destination: %s:%d (%s)\n", settings.Destination(), cfg.DestPort, cfg.PayloadFormat)
	fmt.Println(" Web   Port :", cfg.WebPort)
	fmt.Println(" gRPC  Port :", cfg.RPCPort)
	fmt.Println(strings.Repeat("#", 64))
	fmt.Println("")

	detector, err := engine.New(cfg.Detector)
	if err != nil {
		log.Fatal("load detector", zap.String("backend", cfg.Detector.Backend), zap.Error(err))
	}
	defer detector.Destroy()

	enc, err := payload.New(cfg.PayloadFormat)
	if err != nil {
		log.Fatal("payload encoder", zap.Error(err))
	}
	// A bad destination only keeps the loop from starting; the web page stays
	// up so it can be corrected.
	destination := settings.Destination()
	sender, err := transport.NewUDPSender(destination, cfg.DestPort)
	if err != nil {
		log.Error("open socket, detection loop disabled", zap.Error(err))
	} else {
		destination = sender.Destination()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	var wg sync.WaitGroup

	metrics := monitor.New()
	wg.Add(1)
	go func() {
		defer wg.Done()
		metrics.StartMon(ctx, time.Duration(cfg.MetricsSampleMsec)*time.Millisecond)
	}()

	frames := relay.NewSlot[[]byte]()
	batches := relay.NewBroadcaster[iface.Batch]()

	if cfg.LogMode != "development" {
		gin.SetMode(gin.ReleaseMode)
	}
	// Probe before the loop takes the device; page loads read the cache.
	cameras := &camera.Lister{Max: cfg.MaxCameras}
	cameras.Refresh()

	webServer, err := web.New(web.Options{
		Port:    cfg.WebPort,
		Store:   store,
		Cameras: cameras,
		Frames:  frames,
		Metrics: metrics,
		Logger:  logger.Named("web"),
	})
	if err != nil {
		log.Fatal("web server", zap.Error(err))
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		webServer.Pump(ctx)
	}()
	webErr := make(chan error, 1)
	go func() { webErr <- webServer.Start() }()

	var loop *pipeline.Loop
	if sender != nil {
		loop = pipeline.New(pipeline.Runtime{
			Source:   camera.New(settings.CameraIndex()),
			Detector: detector,
			Encoder:  enc,
			Sender:   sender,
			Frames:   frames,
			JPEG:     vision.JPEGEncoder(cfg.JPEGQuality),
			Batches:  batches,
			Metrics:  metrics,
			Logger:   logger.Named("pipeline"),
		})
	}

	var rpc *grpc.Server
	if cfg.RPCPort > 0 {
		status := func() map[string]any {
			var iterations uint64
			if loop != nil {
				iterations = loop.Iterations()
			}
			return map[string]any{
				"backend":     cfg.Detector.Backend,
				"model":       cfg.Detector.ModelPath,
				"destination": destination,
				"format":      enc.Format(),
				"running":     loop != nil,
				"frames":      iterations,
			}
		}
		rpc, err = feed.StartGRPCServer(cfg.RPCPort, feed.NewServer(batches, status, metrics))
		if err != nil {
			log.Fatal("gRPC server", zap.Error(err))
		}
	}

	if cfg.UseRegServer {
		reg := adhoc.RegServerConfig{}
		reg.SetAddress(cfg.RegServerHost, cfg.RegServerPort)
		hb := adhoc.NewHeartbeat(reg, adhoc.NodeInfo{
			IP:          ip,
			WebPort:     cfg.WebPort,
			RPCPort:     cfg.RPCPort,
			CameraIndex: settings.CameraIndex(),
			Destination: destination,
			Backend:     cfg.Detector.Backend,
		}, time.Duration(cfg.HeartbeatSeconds)*time.Second)
		wg.Add(1)
		go hb.Run(ctx, &wg)
	} else {
		fmt.Println("UseRegServer is set to false, skipping registration")
	}

	// The web surface outlives the loop; only a signal or a web failure
	// stops the process.
	if loop != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := loop.Run(ctx); err != nil {
				if errors.Is(err, pipeline.ErrDeviceOpen) {
					log.Error("detection loop could not start", zap.Error(err))
					return
				}
				log.Error("detection loop exited", zap.Error(err))
			}
		}()
	}

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-webErr:
		if err != nil {
			log.Error("web server stopped", zap.Error(err))
		}
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := webServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("web server shutdown", zap.Error(err))
	}
	frames.Close()
	batches.Close()
	if rpc != nil {
		rpc.GracefulStop()
	}
	wg.Wait()
	fmt.Println("Safely exited")
}
