package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shiftwatch/fieldagent/internal/api"
	"github.com/shiftwatch/fieldagent/internal/config"
	"github.com/shiftwatch/fieldagent/internal/database"
	"github.com/shiftwatch/fieldagent/internal/handlers"
	"github.com/shiftwatch/fieldagent/internal/models"
	"github.com/shiftwatch/fieldagent/internal/push"
	"github.com/shiftwatch/fieldagent/internal/store"
	"github.com/shiftwatch/fieldagent/internal/syncer"
	"github.com/shiftwatch/fieldagent/internal/ws"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the agent daemon",
	Long: `Starts the local HTTP API, the durable report queue, the sync
orchestrator, and the push message receiver. This is the long-running
process the safety client talks to.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	engineCfg, err := config.LoadEngineConfig()
	if err != nil {
		log.Fatalf("Failed to load engine configuration: %v", err)
	}

	// 2. Initialize database (embedded vs external is auto-detected)
	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	// db.Close() is called manually in the shutdown handler below

	// 3. Auto-migrate schema
	log.Println("🚀 Synchronizing database schema...")
	err = db.AutoMigrate(
		&models.QueuedReport{},
		&models.EmergencyContact{},
		&models.StoredMessage{},
	)
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Println("✅ Schema synchronized successfully")

	// 4. Local stores
	queue := store.NewReportQueue(db)
	contacts := store.NewContactCache(db)
	messages := store.NewMessageStore(db)

	if !contacts.HasData() {
		log.Println("⚠️  No cached emergency contacts yet; lookups are empty until the first sync pass")
	}

	// 5. Remote API client and sync orchestrator
	remote := api.NewClient(cfg.Remote, cfg.DeviceID)
	monitor := syncer.NewNetworkMonitor(remote, engineCfg.ProbeInterval(), engineCfg.ProbeTimeout())
	engine := syncer.NewEngine(queue, contacts, messages, remote, monitor, engineCfg)

	// 6. UI event hub
	hub := ws.NewHub()
	go hub.Run()

	// Forward orchestrator state changes to connected UI clients
	go func() {
		for state := range engine.Subscribe() {
			hub.Broadcast(ws.Event{Type: ws.EventNetworkState, Data: state})
		}
	}()
	engine.OnReportUpdate = func(id string, status models.ReportStatus) {
		hub.Broadcast(ws.Event{
			Type: ws.EventReportUpdated,
			Data: map[string]string{"id": id, "status": string(status)},
		})
	}

	// 7. Push subscription manager
	pushMgr := push.NewManager(cfg.Push, engineCfg, remote, messages)
	pushMgr.OnMessage = func(msg models.IncomingMessage) {
		hub.Broadcast(ws.Event{Type: ws.EventMessageReceived, Data: msg})
	}

	if err := engine.Start(); err != nil {
		log.Fatalf("Failed to start sync orchestrator: %v", err)
	}
	log.Println("✅ Sync orchestrator started")

	// 8. HTTP surface
	router := handlers.NewRouter(queue, remote, contacts, messages, pushMgr, engine, hub)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		log.Printf("🚀 Agent (%s) listening on port %s\n", cfg.DeviceID, cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	sig := <-shutdown
	log.Printf("\n⚠️  Received signal: %v. Shutting down gracefully...\n", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	pushMgr.Stop()
	engine.Stop()

	log.Println("🛑 Closing database connection...")
	if err := db.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("✅ Shutdown complete")
	return nil
}
