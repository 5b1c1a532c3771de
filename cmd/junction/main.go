package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/junction/internal/api"
	"github.com/banshee-data/junction/internal/capture"
	"github.com/banshee-data/junction/internal/config"
	"github.com/banshee-data/junction/internal/controller"
	"github.com/banshee-data/junction/internal/events"
	"github.com/banshee-data/junction/internal/hwlink"
	"github.com/banshee-data/junction/internal/perception"
	"github.com/banshee-data/junction/internal/timeutil"
	"github.com/banshee-data/junction/internal/traffic"
	"github.com/banshee-data/junction/internal/version"
	"github.com/banshee-data/junction/internal/vision"
)

var (
	configPath      = flag.String("config", "", "Path to JSON configuration (defaults apply when empty)")
	listen          = flag.String("listen", ":5500", "Listen address")
	serialPort      = flag.String("serial", "", "Serial port of the signal controller (overrides serial.port)")
	disableHardware = flag.Bool("disable-hardware", false, "Run without driving the signal hardware")
	detectorURL     = flag.String("detector", "", "Remote detector URL (overrides detector.url; empty uses background subtraction)")
	mqttBroker      = flag.String("mqtt", "", "MQTT broker for violation and emergency events (overrides mqtt.broker)")
	showVersion     = flag.Bool("version", false, "Print version and exit")
)

// Read pacing for file-backed sources; live cameras deliver at their own rate.
const (
	videoPace  = 33 * time.Millisecond
	imagesPace = 200 * time.Millisecond
)

func loadConfig() *config.Config {
	cfg := config.Empty()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}
	if *serialPort != "" {
		s := cfg.GetSerial()
		s.Port = *serialPort
		cfg.Serial = &s
	}
	if *detectorURL != "" {
		d := cfg.GetDetector()
		d.URL = *detectorURL
		cfg.Detector = &d
	}
	if *mqttBroker != "" {
		m := cfg.GetMQTT()
		m.Broker = *mqttBroker
		cfg.MQTT = &m
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	return cfg
}

func buildSources(cfg *config.Config) map[traffic.Direction]controller.SourceSpec {
	size := cfg.GetFrameSize()
	out := make(map[traffic.Direction]controller.SourceSpec)
	for d, src := range cfg.GetSources() {
		switch src.Type {
		case config.SourceVideo:
			out[d] = controller.SourceSpec{Open: vision.OpenVideoFile(src.Value, size), Pace: videoPace}
		case config.SourceCamera:
			out[d] = controller.SourceSpec{Open: vision.OpenCamera(src.Value, size)}
		case config.SourceImages:
			out[d] = controller.SourceSpec{Open: capture.OpenImageDir(src.Value), Pace: imagesPace}
		}
		log.Printf("%s source: %s %s", d, src.Type, src.Value)
	}
	return out
}

func buildLink(cfg *config.Config) hwlink.Sender {
	s := cfg.GetSerial()
	if *disableHardware || s.Port == "" {
		log.Printf("hardware disabled, signal frames will be logged only")
		return hwlink.NewDisabledLink()
	}
	opener, err := hwlink.OpenSerial(s.Port, hwlink.PortOptions{
		BaudRate: s.BaudRate,
		DataBits: s.DataBits,
		StopBits: s.StopBits,
		Parity:   s.Parity,
	})
	if err != nil {
		log.Fatalf("invalid serial settings: %v", err)
	}
	log.Printf("driving signal controller on %s at %d baud", s.Port, s.BaudRate)
	return hwlink.NewLink(opener, timeutil.RealClock{}, cfg.GetSettleDelay())
}

func buildDetector(cfg *config.Config) (perception.Detector, func()) {
	if url := cfg.GetDetector().URL; url != "" {
		log.Printf("using remote detector at %s", url)
		return perception.NewRemoteDetector(url, &http.Client{}, cfg.GetDetectorTimeout()), func() {}
	}
	log.Printf("using in-process background subtraction")
	m := vision.NewMOG2()
	return m, func() { m.Close() }
}

func buildSink(ctx context.Context, cfg *config.Config) events.Sink {
	m := cfg.GetMQTT()
	if m.Broker == "" {
		return events.NewLogSink()
	}
	sink, err := events.DialMQTT(ctx, events.MQTTOptions{Broker: m.Broker, ClientID: m.ClientID, Topic: m.Topic})
	if err != nil {
		log.Printf("mqtt unavailable, logging events instead: %v", err)
		return events.NewLogSink()
	}
	return sink
}

// Main
func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Current())
		os.Exit(0)
	}
	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	log.Printf("starting %s", version.Current())

	cfg := loadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	detector, closeDetector := buildDetector(cfg)
	defer closeDetector()
	enhancer := vision.NewCLAHE()
	defer enhancer.Close()

	junction, err := controller.New(cfg, controller.Deps{
		Clock:    timeutil.RealClock{},
		Sources:  buildSources(cfg),
		Detector: detector,
		Enhancer: enhancer,
		Link:     buildLink(cfg),
		Sink:     buildSink(ctx, cfg),
		Initial:  traffic.North,
	})
	if err != nil {
		log.Fatalf("failed to build controller: %v", err)
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := junction.Run(ctx); err != nil {
			log.Printf("controller stopped: %v", err)
			stop()
		}
		log.Print("controller routine terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := api.NewServer(junction).ServeMux()
		junction.AttachRoutes(mux)

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()
		log.Printf("listening on %s", *listen)

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
