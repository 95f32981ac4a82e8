package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nurpe/wasteops-pricing/internal/auth"
	"github.com/nurpe/wasteops-pricing/internal/config"
	"github.com/nurpe/wasteops-pricing/internal/db"
	"github.com/nurpe/wasteops-pricing/internal/excel"
	httphandler "github.com/nurpe/wasteops-pricing/internal/http"
	"github.com/nurpe/wasteops-pricing/internal/http/middleware"
	"github.com/nurpe/wasteops-pricing/internal/logger"
	"github.com/nurpe/wasteops-pricing/internal/payment"
	"github.com/nurpe/wasteops-pricing/internal/pdf"
	"github.com/nurpe/wasteops-pricing/internal/pricing"
	"github.com/nurpe/wasteops-pricing/internal/repository"
	"github.com/nurpe/wasteops-pricing/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect database")
	}

	requestRepo := repository.NewRequestRepository(database)
	ruleSetRepo := repository.NewRuleSetRepository(database)
	auditRepo := repository.NewAuditRepository(database)

	table, err := pricing.NewRuleTable(cfg.Pricing.FallbackRate)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init rule table")
	}
	ruleService := service.NewRuleService(ruleSetRepo, table, log)

	seed, err := loadSeed(cfg.Pricing.RulesFile)
	if err != nil {
		log.Fatal().Err(err).Str("file", cfg.Pricing.RulesFile).Msg("failed to read pricing rules")
	}
	if err := ruleService.Bootstrap(ctx, seed); err != nil {
		log.Fatal().Err(err).Msg("failed to load pricing rules")
	}

	computer := pricing.NewQuoteComputer(table, log)
	guard := pricing.NewReconciliationGuard(computer, cfg.Pricing.Epsilon, log, pricing.WithAuditSink(auditRepo))

	var payments service.PaymentGateway
	if cfg.Stripe.SecretKey != "" {
		payments = payment.NewStripeGateway(cfg.Stripe)
	} else {
		log.Warn().Msg("STRIPE_SECRET_KEY is not set, payment sessions are disabled")
	}

	requestService := service.NewRequestService(requestRepo, computer, guard, payments, pdf.NewGenerator(""), cfg, log)
	auditService := service.NewAuditService(auditRepo, excel.NewGenerator(), cfg)

	tokenParser := auth.NewParser(cfg.Auth.AccessSecret)
	handler := httphandler.NewHandler(requestService, ruleService, auditService, log)
	authMiddleware := middleware.Auth(tokenParser)
	router := httphandler.NewRouter(handler, authMiddleware, cfg.Environment, cfg.HTTP.CORSAllowedOrigins, log)

	go ruleService.Run(ctx, cfg.Pricing.RulesRefresh)

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("graceful shutdown failed")
		}
	}()

	log.Info().Str("addr", addr).Int64("rule_set_version", table.LatestVersion()).Msg("starting pricing service")

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
	log.Info().Msg("server stopped")
}

func loadSeed(path string) ([]*pricing.RuleSet, error) {
	if path == "" {
		return nil, nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return pricing.LoadRuleSets(file)
}
