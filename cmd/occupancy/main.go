package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/occupancy.report/internal/api"
	"github.com/banshee-data/occupancy.report/internal/config"
	"github.com/banshee-data/occupancy.report/internal/db"
	"github.com/banshee-data/occupancy.report/internal/eventhub"
	"github.com/banshee-data/occupancy.report/internal/occupancy"
	"github.com/banshee-data/occupancy.report/internal/sensors"
	"github.com/banshee-data/occupancy.report/internal/telemetry"
	"github.com/banshee-data/occupancy.report/internal/timeutil"
	"github.com/banshee-data/occupancy.report/internal/version"
)

var (
	configPath    = flag.String("config", "", "Path to a JSON config file (defaults are used when empty)")
	devMode       = flag.Bool("dev", false, "Run against a simulated doorway instead of GPIO/I2C hardware")
	listen        = flag.String("listen", "", "Listen address (overrides config)")
	dbPath        = flag.String("db", "", "SQLite database path (overrides config)")
	telemetryPort = flag.String("telemetry", "", "Telemetry UART device (overrides config)")
	showVersion   = flag.Bool("version", false, "Print version and exit")
)

// loadConfig reads the config file, if any, and applies flag overrides.
func loadConfig(path, listenAddr, databasePath, telemetryDev string) (*config.Config, error) {
	cfg := config.Empty()
	if path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if listenAddr != "" {
		cfg.Listen = &listenAddr
	}
	if databasePath != "" {
		cfg.DBPath = &databasePath
	}
	if telemetryDev != "" {
		cfg.TelemetryPort = &telemetryDev
	}
	return cfg, nil
}

func openSensors(cfg *config.Config, dev bool, clock timeutil.Clock) (*sensors.Set, error) {
	if dev {
		log.Printf("dev mode: using simulated doorway")
		return sensors.Simulated(clock), nil
	}
	return sensors.OpenHardware(cfg)
}

// startConsumer subscribes to hub before returning, then runs the consumer in
// its own goroutine until ctx is cancelled.
func startConsumer(ctx context.Context, wg *sync.WaitGroup, hub *eventhub.Hub[occupancy.Event], name string, run func(context.Context, <-chan occupancy.Event) error) {
	id, c := hub.Subscribe()
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer hub.Unsubscribe(id)
		if err := run(ctx, c); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("%s stopped: %v", name, err)
		}
		log.Printf("%s routine terminated", name)
	}()
}

// Main
func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	log.Print(version.String())

	cfg, err := loadConfig(*configPath, *listen, *dbPath, *telemetryPort)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	clock := timeutil.RealClock{}
	set, err := openSensors(cfg, *devMode, clock)
	if err != nil {
		log.Fatalf("failed to open sensors: %v", err)
	}
	defer set.Close()

	database, err := db.NewDB(cfg.GetDBPath())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	mcfg := occupancy.ConfigFromSettings(cfg)
	scores := occupancy.NewScoreLog(mcfg.PresenceHistory)
	sampler := occupancy.NewPresenceSampler(set.Thermal, mcfg.PresenceThreshold, mcfg.PresenceMetric, scores)
	machine := occupancy.NewMachine(mcfg, set.Enter, set.Leave, sampler)

	hub := eventhub.New[occupancy.Event](eventhub.DefaultBuffer)
	defer hub.Close()
	poller := occupancy.NewPoller(machine, clock, mcfg.PollInterval, occupancy.PublisherFunc(func(e occupancy.Event) {
		if err := hub.Publish(e); err != nil {
			log.Printf("failed to publish event %s: %v", e.ID, err)
		}
	}))

	var tw *telemetry.Writer
	if p := cfg.GetTelemetryPort(); p != "" {
		tw, err = telemetry.Open(p, telemetry.PortOptions{BaudRate: cfg.GetTelemetryBaud()})
		if err != nil {
			log.Fatalf("failed to open telemetry port: %v", err)
		}
		defer tw.Close()
		log.Printf("telemetry on %s", p)
	}

	// Create a wait group for the HTTP server, poll loop and event consumers
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// consumers subscribe before polling starts so no crossing is missed
	startConsumer(ctx, &wg, hub, "recorder", database.RecordFrom)
	if tw != nil {
		startConsumer(ctx, &wg, hub, "telemetry", tw.Run)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("poll loop stopped: %v", err)
		}
		log.Print("poll routine terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		apiServer := api.NewServer(machine, database, scores)
		mux := apiServer.ServeMux()
		apiServer.AttachAdminRoutes(mux)
		hub.AttachAdminRoutes(mux, "events")
		if err := database.AttachAdminRoutes(mux); err != nil {
			log.Printf("admin routes unavailable: %v", err)
		}

		server := &http.Server{
			Addr:    cfg.GetListen(),
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("listening on %s", server.Addr)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			// Force close the server if graceful shutdown fails
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()
	log.Printf("Graceful shutdown complete, occupancy was %d", machine.Count())
}
