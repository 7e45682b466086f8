package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ndrandal/fx-trader/internal/api"
	"github.com/ndrandal/fx-trader/internal/archive"
	"github.com/ndrandal/fx-trader/internal/bus"
	"github.com/ndrandal/fx-trader/internal/clock"
	"github.com/ndrandal/fx-trader/internal/config"
	"github.com/ndrandal/fx-trader/internal/feed"
	"github.com/ndrandal/fx-trader/internal/ledger"
	"github.com/ndrandal/fx-trader/internal/risk"
	"github.com/ndrandal/fx-trader/internal/rng"
	"github.com/ndrandal/fx-trader/internal/session"
	"github.com/ndrandal/fx-trader/internal/store"
	"github.com/ndrandal/fx-trader/internal/strategy"
	"github.com/ndrandal/fx-trader/internal/symbol"
	"github.com/ndrandal/fx-trader/internal/trading"
)

func main() {
	cfg := config.Load()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Println("fx trader starting")

	// Context with graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, shutting down...", sig)
		cancel()
	}()

	// PRNG
	r := rng.New(cfg.Seed)
	log.Printf("PRNG seed: %d", cfg.Seed)

	// Symbols
	reg := symbol.Default()
	log.Printf("loaded %d symbols", len(reg.All()))

	// Persistence
	st, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatalf("store: %v", err)
	}
	defer st.Close(context.Background())

	// Tick bus + feed simulator
	clk := clock.Real()
	b := bus.New(reg, cfg.HistoryCapacity, cfg.SendBufferSize)
	sim := feed.New(r, reg, b, clk, feed.Options{
		TickIntervalMin: time.Duration(cfg.TickIntervalMinMs) * time.Millisecond,
		TickIntervalMax: time.Duration(cfg.TickIntervalMaxMs) * time.Millisecond,
		Sigma:           cfg.VolatilitySigma,
	})
	restoreFeedState(ctx, st, sim, r)

	// Ledger + trading engine
	led := ledger.New(reg)
	eng := trading.New(reg, b, led, st, clk, trading.Options{
		Limits: risk.Limits{
			DailyCap:          cfg.DailyCapNotional,
			PerTradeFraction:  cfg.PerTradeCapFraction,
			PerSymbolFraction: cfg.PerSymbolCapFraction,
			MinNotional:       cfg.MinNotional,
			BasePosition:      cfg.BasePositionNotional,
			MinConfidence:     cfg.MinConfidence,
		},
		Strategy: strategy.Params{
			SMAShort:      cfg.SMAShort,
			SMALong:       cfg.SMALong,
			RSIPeriod:     cfg.RSIPeriod,
			RSIOverbought: cfg.RSIOverbought,
			RSIOversold:   cfg.RSIOversold,
			BBPeriod:      cfg.BBPeriod,
			BBStd:         cfg.BBStd,
		},
		EvaluationInterval: time.Duration(cfg.EvaluationIntervalMs) * time.Millisecond,
		PersistTimeout:     cfg.PersistTimeout,
	})
	if err := eng.Start(ctx); err != nil {
		log.Fatalf("engine start: %v", err)
	}
	defer eng.Stop()

	// WebSocket fan-out
	mgr := session.NewManager(reg, cfg.SendBufferSize)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { sim.Run(gctx); return nil })
	g.Go(func() error { mgr.Run(gctx, b); return nil })
	g.Go(func() error { runSnapshots(gctx, st, sim, r, cfg.SnapshotInterval); return nil })

	if cfg.NewsAuto {
		g.Go(func() error { sim.RunAutoNews(gctx); return nil })
	}
	if cfg.ArchiveDir != "" {
		archiver := archive.New(st, cfg.ArchiveDir, cfg.ArchiveMaxGB, cfg.ArchiveIntervalHours, cfg.ArchiveAfterHours)
		g.Go(func() error { archiver.Run(gctx); return nil })
	}

	// HTTP/WebSocket server
	mux := http.NewServeMux()
	mux.HandleFunc("/feed", session.Handler(mgr))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","clients":%d,"symbols":%d,"badTicks":%d}`,
			mgr.ClientCount(), len(reg.All()), b.BadTicks())
	})
	api.NewServer(st, led, eng, sim, b, mgr, reg).Register(mux)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	srv := &http.Server{Addr: addr, Handler: mux}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	})

	log.Printf("listening on http://%s (feed: ws://%s/feed)", addr, addr)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
	if err := g.Wait(); err != nil {
		log.Printf("shutdown: %v", err)
	}

	// Final feed-state snapshot so a restart resumes the same price path.
	saveFeedState(context.Background(), st, sim, r)
	log.Println("fx trader stopped")
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case "mongo":
		return store.NewMongo(ctx, cfg.MongoURI)
	case "sqlite":
		return store.OpenSQLite(cfg.SQLitePath)
	case "memory":
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func restoreFeedState(ctx context.Context, st store.Store, sim *feed.Simulator, r *rng.RNG) {
	if raw, err := st.LoadState(ctx, store.StateFeedPrices); err == nil && len(raw) > 0 {
		var prices map[string]float64
		if err := json.Unmarshal(raw, &prices); err == nil {
			for code, mid := range prices {
				sim.SetPrice(code, mid)
			}
			log.Printf("restored %d feed prices", len(prices))
		}
	}
	if raw, err := st.LoadState(ctx, store.StateRNG); err == nil && len(raw) >= 16 {
		r.RestoreStateBytes(raw)
		log.Println("restored PRNG state")
	}
}

func saveFeedState(ctx context.Context, st store.Store, sim *feed.Simulator, r *rng.RNG) {
	raw, err := json.Marshal(sim.Prices())
	if err == nil {
		if err := st.SaveState(ctx, store.StateFeedPrices, raw); err != nil {
			log.Printf("save feed prices: %v", err)
		}
	}
	if err := st.SaveState(ctx, store.StateRNG, r.StateBytes()); err != nil {
		log.Printf("save rng state: %v", err)
	}
}

// runSnapshots persists feed prices and PRNG state on an interval.
func runSnapshots(ctx context.Context, st store.Store, sim *feed.Simulator, r *rng.RNG, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			saveFeedState(ctx, st, sim, r)
		}
	}
}
