package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/technosupport/ts-attend/internal/config"
	"github.com/technosupport/ts-attend/internal/data"
	"github.com/technosupport/ts-attend/internal/embeddings"
	"github.com/technosupport/ts-attend/internal/face"
	"github.com/technosupport/ts-attend/internal/notify"
	"github.com/technosupport/ts-attend/internal/ops"
	"github.com/technosupport/ts-attend/internal/pipeline"
	"github.com/technosupport/ts-attend/internal/presence"
	"github.com/technosupport/ts-attend/internal/retention"
	"github.com/technosupport/ts-attend/internal/schedule"
)

const alertPublishRetries = 3

func main() {
	configPath := flag.String("config", "config/default.yaml", "service config path")
	flag.Parse()

	cfg, err := config.LoadService(*configPath)
	if err != nil {
		log.Fatalf("[Main] Config error: %v", err)
	}

	params := config.NewParamStore(cfg.Paths.ParameterConfig)
	done := make(chan struct{})
	params.Watch(done)

	cameras, err := config.LoadCameraConfigs(cfg.Paths.CameraConfigs)
	if err != nil {
		log.Fatalf("[Main] Camera configs: %v", err)
	}
	log.Printf("[Main] Loaded %d camera configs", len(cameras))

	// Storage
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		log.Fatalf("[Main] DB open error: %v", err)
	}
	if err := db.Ping(); err != nil {
		log.Fatalf("[Main] DB ping error: %v", err)
	}
	defer db.Close()
	models := data.NewModels(db)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password})
	defer rdb.Close()

	nc, err := nats.Connect(cfg.NATS.URL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		log.Fatalf("[Main] NATS connect error: %v", err)
	}
	defer nc.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Seed the camera table from the on-disk configs so foreign keys
	// and the UI roster agree with what the pipeline runs.
	for _, cam := range cameras {
		if err := models.Cameras.Upsert(ctx, data.Camera{
			ID:            cam.ID,
			Name:          cam.Name,
			Area:          cam.Area,
			RTSPURL:       cam.RTSPURL,
			Enabled:       cam.Enabled,
			StreamEnabled: cam.StreamEnabled,
		}); err != nil {
			log.Printf("[Main] Camera %d seed failed: %v", cam.ID, err)
		}
	}

	// Face engine and embedding store
	backends := make([]face.Backend, 0, len(cfg.Face.Backends))
	for _, b := range cfg.Face.Backends {
		backends = append(backends, face.Backend{Name: b.Name, Subject: b.Subject})
	}
	engine := face.NewEngine(nc, backends, params.Current().DetectionSize)

	store := embeddings.NewStore(models.Employees, models.FaceTemplates)
	store.Load(ctx, true)
	go func() {
		ticker := time.NewTicker(embeddings.DefaultReloadInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				store.Load(ctx, false)
			}
		}
	}()

	// Schedule, presence, writer
	sched := schedule.NewController(cfg.Paths.TrackingMode)
	sched.Start()

	queue := presence.NewQueue()
	monitor := presence.NewMonitor(queue, sched, params.Current,
		models.Employees, presence.NewRedisWelcomeGate(rdb))
	monitor.Start()

	publisher := notify.NewAlertPublisher(nc, cfg.NATS.AlertSubject, alertPublishRetries)
	writer := presence.NewWriter(db, queue, publisher)
	writer.Start()

	// Pipeline and retention
	manager := pipeline.NewManager(engine, store, monitor, sched, params.Current, monitor, models, rdb)
	manager.Start(cameras)

	saver := retention.NewSaver(manager, cfg.Paths.Captures)
	saver.Start()
	evidence := retention.NewEvidenceWriter(manager, cfg.Paths.AttendanceCaptures, params.Current, monitor.EvidenceRequests())
	evidence.Start()
	purger := retention.NewPurger(models, params.Current, sched, cfg.Paths.AttendanceCaptures)
	purger.Start()

	// First-ever sightings refresh the template store so a just-enrolled
	// face starts matching without waiting for the periodic reload.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-monitor.NewEmployees():
				if !ok {
					return
				}
				log.Printf("[Main] First attendance for employee %d (camera %d)", sig.EmployeeID, sig.CameraID)
				store.Load(ctx, true)
			}
		}
	}()

	// Ops listener
	opsHandler := ops.NewHandler(db, engine, manager, sched, models.Attendance)
	go func() {
		if err := ops.Serve(ctx, cfg.Ops.Listen, opsHandler); err != nil {
			log.Printf("[Ops] Listener error: %v", err)
		}
	}()

	log.Printf("[Main] Tracker up. Backend=%s cameras=%d ops=%s", engine.Backend(), len(cameras), cfg.Ops.Listen)
	<-ctx.Done()
	log.Printf("[Main] Shutting down")

	// Stop producers before the writer so queued intents drain.
	manager.Stop()
	monitor.Stop()
	saver.Stop()
	evidence.Stop()
	purger.Stop()
	writer.Stop()
	sched.Stop()
	close(done)
	log.Printf("[Main] Bye")
}
