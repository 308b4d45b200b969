package main // Entry point package

import (
	"context"
	"log"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/kwachira/tikiti/internal/chain"
	"github.com/kwachira/tikiti/internal/config"
	"github.com/kwachira/tikiti/internal/database"
	"github.com/kwachira/tikiti/internal/handler"
	"github.com/kwachira/tikiti/internal/queue"
	"github.com/kwachira/tikiti/internal/repository"
	"github.com/kwachira/tikiti/internal/rift"
	"github.com/kwachira/tikiti/internal/router"
	"github.com/kwachira/tikiti/internal/service"
)

func main() {
	// Load .env if present; real environments set variables directly.
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	rpc, err := ethclient.Dial(cfg.ChainRPCURL)
	if err != nil {
		log.Fatalf("chain rpc: %v", err)
	}
	validator, err := chain.New(rpc, chain.Config{
		Chain:     cfg.ChainName,
		Asset:     cfg.ChainAsset,
		Recipient: cfg.ChainRecipient,
		Tolerance: cfg.AmountTolerance,
	})
	if err != nil {
		log.Fatalf("chain validator: %v", err)
	}

	rdb := config.NewRedisClient() // nil when redis is unreachable; features degrade
	riftClient := rift.NewClient(cfg.RiftBaseURL, cfg.RiftAPIKey, rdb)
	poller := rift.NewPoller(riftClient)

	invoiceRepo := repository.NewInvoiceRepo(db)
	eventRepo := repository.NewEventRepo(db)
	rsvpRepo := repository.NewRSVPRepo(db)

	engine := service.NewEngine(
		invoiceRepo,
		eventRepo,
		validator,
		poller,
		riftClient,
		service.PublishTicketIssued,
		cfg.ChainName,
		cfg.ChainAsset,
		cfg.PendingMaxAge,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go service.NewReaper(invoiceRepo, cfg.PendingMaxAge).Start(ctx)
	go func() {
		if err := queue.StartTicketConsumer(); err != nil {
			log.Printf("ticket consumer stopped: %v", err)
		}
	}()

	rlCfg := config.LoadRateLimitConfig()
	e := echo.New()
	router.RegisterRoutes(e, handler.NewWebhookHandler(engine, cfg.RiftWebhookSecret), rlCfg, rdb)
	router.RegisterReservations(
		e,
		handler.NewReservationHandler(engine, rsvpRepo),
		handler.NewOrganizerHandler(rsvpRepo),
		cfg.JWTSecret,
		rlCfg,
		rdb,
	)

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
