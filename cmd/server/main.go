package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/thebowwman/delisim/internals/api"
	"github.com/thebowwman/delisim/internals/auth"
	"github.com/thebowwman/delisim/internals/config"
	"github.com/thebowwman/delisim/internals/domain"
	"github.com/thebowwman/delisim/internals/geo"
	"github.com/thebowwman/delisim/internals/hub"
	"github.com/thebowwman/delisim/internals/publish"
	"github.com/thebowwman/delisim/internals/sim"
	"github.com/thebowwman/delisim/internals/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetContext(ctx)
	Execute()
}

// repository is what both delivery stores provide.
type repository interface {
	api.Deliveries
	sim.DeliveryRepository
}

func serve(ctx context.Context, cfg *config.Config) error {
	var closers []io.Closer
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()

	var (
		repo  repository
		cache geo.Cache
	)
	if cfg.DatabaseURL != "" {
		octx, cancel := context.WithTimeout(ctx, 10*time.Second)
		pool, err := store.Open(octx, cfg.DatabaseURL)
		cancel()
		if err != nil {
			return err
		}
		defer pool.Close()
		repo = store.NewPostgresStore(pool)
		cache = store.NewGeocodeCache(pool)
		log.Printf("store: postgres")
	} else {
		repo = store.NewDeliveryStore()
		log.Printf("store: in-memory")
	}

	httpClient := &http.Client{Timeout: cfg.ORS.RouteTimeout}
	ors := geo.NewORSClient(httpClient, cfg.ORS.APIKey, cfg.ORS.BaseURL, cfg.ORS.Profile)
	if cfg.ORS.APIKey == "" {
		log.Printf("ors: no API key, using keyword table and fallbacks only")
	}

	geocoder := geo.NewGeocoder(geo.GeocoderOptions{
		Keywords: geo.KeywordTableFromConfig(cfg.Geocoder.Keywords),
		Lookup:   ors,
		Cache:    cache,
		Country:  cfg.Geocoder.Country,
		Default:  domain.Coordinate{Lat: cfg.Geocoder.DefaultLat, Lng: cfg.Geocoder.DefaultLng},
		Jitter:   cfg.Geocoder.Jitter,
		Timeout:  cfg.ORS.GeocodeTimeout,
	})
	router := geo.NewRouter(ors, cfg.Simulation.RouteJitter, cfg.ORS.RouteTimeout)

	hubs := hub.NewHubs()
	sinks := []publish.Sink{hubs}
	if cfg.Kafka.Enabled {
		k, err := publish.NewKafkaSink(splitList(cfg.Kafka.Brokers), cfg.Kafka.Topic)
		if err != nil {
			return err
		}
		closers = append(closers, k)
		sinks = append(sinks, k)
	}
	if cfg.Redis.URL != "" {
		r, err := publish.NewRedisSink(cfg.Redis.URL)
		if err != nil {
			return err
		}
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := r.Ping(pctx); err != nil {
			log.Printf("redis sink: ping failed, publishing anyway: %v", err)
		}
		cancel()
		closers = append(closers, r)
		sinks = append(sinks, r)
	}

	publisher := publish.New(publish.Options{
		DriverLabel:   cfg.Simulation.DriverLabel,
		RecordTimeout: 2 * time.Second,
	}, repo, sinks...)
	closers = append(closers, publisher)

	s := cfg.Simulation
	scheduler := sim.NewScheduler(sim.Options{
		Depot:          domain.Coordinate{Lat: s.DepotLat, Lng: s.DepotLng},
		TargetSteps:    s.TargetSteps,
		TickInterval:   s.TickInterval,
		FirstTickDelay: s.FirstTickDelay,
		Workers:        s.Workers,
		SpeedMin:       s.SpeedMin,
		SpeedMax:       s.SpeedMax,
	}, geocoder, router, publisher, sim.NewCompletion(repo, 5*time.Second), repo)

	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL)

	r := gin.Default()
	api.RegisterRoutes(r, api.NewServer(repo, scheduler, hubs, issuer))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", cfg.HTTPAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		log.Printf("shutting down")
	}

	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(sctx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	active := scheduler.Registry().IDs()
	if err := scheduler.Shutdown(sctx); err != nil {
		return err
	}
	log.Printf("stopped %d simulations: %v", len(active), active)
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
