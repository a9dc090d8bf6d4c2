package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/campusbites/campus-food-claims/internal/allocation"
	"github.com/campusbites/campus-food-claims/internal/config"
	"github.com/campusbites/campus-food-claims/internal/database"
	"github.com/campusbites/campus-food-claims/internal/handler"
	"github.com/campusbites/campus-food-claims/internal/queue"
	"github.com/campusbites/campus-food-claims/internal/repository"
	"github.com/campusbites/campus-food-claims/internal/router"
)

func main() {
	cfg := config.Load()

	db, err := database.Open(cfg)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Println("redis unavailable; rate limiting and caching disabled")
	}

	claims := repository.NewAllocationStore(db)
	events := repository.NewEventRepo(db)
	orgs := repository.NewOrganizationRepo(db)
	locations := repository.NewLocationRepo(db)
	users := repository.NewUserRepo(db)

	engine := allocation.New(claims, events, users)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Background sweep marks open claims EXPIRED once their event ends.
	go allocation.NewSweeper(engine, cfg.SweepInterval).Run(ctx)

	// Pickup-log consumer; reconnects on broker failure.
	go func() {
		if err := queue.StartClaimConsumer(); err != nil {
			log.Printf("queue consumer: %v", err)
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.Logger())

	router.Register(e, db, rdb, router.Handlers{
		Events: handler.NewEventHandler(events, orgs, locations, users, claims, engine),
		Items:  handler.NewItemHandler(engine),
		Claims: handler.NewClaimHandler(engine, claims, events),
		Orgs:   handler.NewOrganizationHandler(orgs, locations),
		Users:  handler.NewUserHandler(users),
	})

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)

	go func() {
		<-ctx.Done()
		if err := e.Shutdown(context.Background()); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	if err := e.Start(addr); err != nil {
		log.Printf("server stopped: %v", err)
	}
}
