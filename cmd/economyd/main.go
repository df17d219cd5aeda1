// Command economyd runs the intent resolution and settlement daemon.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/talgya/mini-economy/internal/api"
	"github.com/talgya/mini-economy/internal/chain"
	"github.com/talgya/mini-economy/internal/config"
	"github.com/talgya/mini-economy/internal/economy"
	"github.com/talgya/mini-economy/internal/metrics"
	"github.com/talgya/mini-economy/internal/settle"
	"github.com/talgya/mini-economy/internal/sim"
	"github.com/talgya/mini-economy/internal/store"
)

var configPath string

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	root := &cobra.Command{
		Use:   "economyd",
		Short: "Intent resolution and settlement engine",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "economy.toml", "path to TOML config")

	root.AddCommand(serveCmd(), tickCmd(), requeueCmd(), cleanupCmd())

	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

// openWorld opens the database and loads the saved world, seeding a
// fresh one on first run.
func openWorld(cfg config.Config) (*store.DB, *sim.World, error) {
	os.MkdirAll(filepath.Dir(cfg.DB.Path), 0755)
	db, err := store.Open(cfg.DB.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	var w *sim.World
	if db.HasWorld() {
		w, err = db.LoadWorld(cfg.World.Seed)
		if err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("load world: %w", err)
		}
		slog.Info("world restored",
			"tick", w.Tick,
			"sim_time", sim.SimTime(w.Tick),
			"actors", len(w.Actors),
			"businesses", len(w.Businesses),
		)
	} else {
		slog.Info("no saved world, seeding a new one", "seed", cfg.World.Seed)
		w = sim.NewWorld(cfg.World.Seed)
		genesis(w)
		if err := db.SaveWorld(w); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("initial save: %w", err)
		}
	}
	return db, w, nil
}

// genesis populates a fresh world: a handful of citizens with public
// jobs, one founder with capital, and a city restaurant.
func genesis(w *sim.World) {
	founders := []struct {
		id, name string
		balance  float64
		jobKey   string
		rate     float64
	}{
		{"actor-mayor", "Aldous Finch", 5000, "", 0},
		{"actor-clerk", "Mira Voss", 300, "city_clerk", 120},
		{"actor-medic", "Theo Brandt", 250, "city_medic", 140},
		{"actor-guard", "Isla Reyn", 200, "city_guard", 110},
		{"actor-cook", "Bruno Kessler", 150, "", 0},
	}

	for i, f := range founders {
		w.Actors[f.id] = &sim.Actor{ID: f.id, Name: f.name, Reputation: 500}
		w.States[f.id] = &sim.AgentState{
			ActorID: f.id,
			Energy:  80, Hunger: 70, Health: 90,
			Social: 60, Fun: 50, Purpose: 55,
			JobType: f.jobKey,
		}
		bal := decimal.NewFromFloat(f.balance)
		w.Wallets[f.id] = &sim.Wallet{ActorID: f.id, Balance: bal}
		w.States[f.id].WealthTier = sim.WealthTierFor(bal)

		if f.jobKey != "" {
			eid := fmt.Sprintf("emp-genesis-%d", i)
			w.Employments[eid] = &sim.Employment{
				ID:        eid,
				ActorID:   f.id,
				JobKey:    f.jobKey,
				DailyRate: decimal.NewFromFloat(f.rate),
				Status:    sim.EmploymentActive,
			}
		}
	}

	w.Businesses["biz-commons"] = &sim.Business{
		ID:            "biz-commons",
		OwnerID:       "actor-mayor",
		Type:          sim.BusinessRestaurant,
		Name:          "The Commons Table",
		Level:         1,
		Treasury:      decimal.NewFromInt(1500),
		Status:        sim.BusinessActive,
		QualityScore:  50,
		Reputation:    500,
		Price:         decimal.NewFromInt(12),
		RequiresStaff: true,
	}
	w.Employments["emp-cook"] = &sim.Employment{
		ID:         "emp-cook",
		ActorID:    "actor-cook",
		BusinessID: "biz-commons",
		JobKey:     "cook",
		DailyRate:  decimal.NewFromInt(90),
		Status:     sim.EmploymentActive,
	}
	w.States["actor-cook"].JobType = "cook"

	w.CityVault = decimal.NewFromInt(50000)
}

func chainClient(cfg config.Config) chain.Client {
	if cfg.Chain.Enabled {
		slog.Info("external ledger enabled", "endpoint", cfg.Chain.Endpoint, "rps", cfg.Chain.RPS)
		return chain.NewHTTPClient(cfg.Chain.Endpoint, cfg.Chain.APIKey, cfg.Chain.RPS)
	}
	slog.Info("external ledger disabled, using in-process fake")
	return chain.NewFake()
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the full daemon (tick loop, settlement, deposits, API)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			db, w, err := openWorld(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			m := metrics.New()
			orch := &sim.Orchestrator{
				World:          w,
				Sink:           db,
				Observer:       m,
				PlatformFeePct: decimal.NewFromFloat(cfg.World.PlatformFeePct),
			}
			cycle := &sim.DailyCycle{
				World:       w,
				Sink:        db,
				Index:       economy.NewMarketIndex(cfg.World.Seed),
				CityTaxRate: decimal.NewFromFloat(cfg.World.CityTaxRate),
			}

			client := chainClient(cfg)

			worker := settle.NewWorker(db, client, w)
			worker.MaxRetries = cfg.Settle.MaxRetries
			worker.BackoffBase = config.Duration(cfg.Settle.BackoffBase, 500*time.Millisecond)
			worker.PollInterval = config.Duration(cfg.Settle.WorkerPoll, 2*time.Second)

			watcher := settle.NewDepositWatcher(db, client, w,
				decimal.NewFromFloat(cfg.World.RevivalThreshold))
			watcher.PollInterval = config.Duration(cfg.Settle.DepositPoll, 5*time.Second)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go worker.Run(ctx)
			go watcher.Run(ctx)

			// Jobs stranded in "processing" by a crash are returned to
			// the queue once they exceed the staleness window.
			staleness := config.Duration(cfg.Settle.StalenessWindow, 5*time.Minute)
			go func() {
				ticker := time.NewTicker(staleness)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						n, err := db.RequeueStuck(staleness, cfg.Settle.RequeueBatchSize)
						if err != nil {
							slog.Error("stuck-job sweep failed", "error", err)
						} else if n > 0 {
							slog.Warn("requeued stuck settlement jobs", "count", n)
						}
					}
				}
			}()

			apiServer := &api.Server{
				World:           w,
				Orchestrator:    orch,
				DB:              db,
				Metrics:         m,
				Host:            cfg.API.Host,
				Port:            cfg.API.Port,
				AdminKey:        cfg.API.AdminKey,
				StalenessWindow: staleness,
				RequeueLimit:    cfg.Settle.RequeueBatchSize,
			}
			if apiServer.AdminKey == "" {
				slog.Warn("api.admin_key not set, admin endpoints are disabled")
			}
			apiServer.Start()

			clock := sim.NewClock()
			clock.Interval = config.Duration(cfg.World.TickInterval, time.Second)
			clock.Speed = cfg.World.Speed
			clock.OnTick = func(tick uint64) {
				w.WithLock(func() {
					orch.RunTick()
					depth := 0
					if jobs, err := db.JobsByStatus(sim.JobQueued, 1000); err == nil {
						depth = len(jobs)
					}
					m.QueueDepth.Set(float64(depth))
				})
			}
			clock.OnDay = func(tick uint64) {
				// SaveWorld ranges every world map; the settlement
				// worker and deposit watcher mutate them concurrently,
				// so the snapshot must run under the world lock too.
				w.WithLock(func() {
					cycle.Run(tick)
					if err := db.SaveWorld(w); err != nil {
						slog.Error("daily save failed", "error", err)
					}
				})
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				sig := <-sigCh
				slog.Info("received signal, shutting down", "signal", sig)
				clock.Stop()
				cancel()
			}()

			fmt.Printf("economyd up: %d actors, %d businesses, tick %d (%s)\n",
				len(w.Actors), len(w.Businesses), w.Tick, sim.SimTime(w.Tick))
			fmt.Printf("API: http://%s:%d/api/v1/status\n", cfg.API.Host, cfg.API.Port)

			clock.Run(w.Tick)

			slog.Info("final save...")
			w.WithLock(func() {
				if err := db.SaveWorld(w); err != nil {
					slog.Error("final save failed", "error", err)
				}
			})
			return nil
		},
	}
}

func tickCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Advance the world offline by N ticks and save",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			db, w, err := openWorld(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			orch := &sim.Orchestrator{
				World:          w,
				Sink:           db,
				PlatformFeePct: decimal.NewFromFloat(cfg.World.PlatformFeePct),
			}
			cycle := &sim.DailyCycle{
				World:       w,
				Sink:        db,
				Index:       economy.NewMarketIndex(cfg.World.Seed),
				CityTaxRate: decimal.NewFromFloat(cfg.World.CityTaxRate),
			}

			for i := 0; i < n; i++ {
				tick := orch.RunTick()
				if tick%sim.TicksPerDay == 0 {
					cycle.Run(tick)
				}
			}
			if err := db.SaveWorld(w); err != nil {
				return fmt.Errorf("save world: %w", err)
			}
			fmt.Printf("advanced to tick %d (%s)\n", w.Tick, sim.SimTime(w.Tick))
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "n", "n", 1, "number of ticks to run")
	return cmd
}

func requeueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "requeue",
		Short: "Return stuck settlement jobs to the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			db, err := store.Open(cfg.DB.Path)
			if err != nil {
				return err
			}
			defer db.Close()

			window := config.Duration(cfg.Settle.StalenessWindow, 5*time.Minute)
			n, err := db.RequeueStuck(window, cfg.Settle.RequeueBatchSize)
			if err != nil {
				return err
			}
			fmt.Printf("requeued %d stuck jobs\n", n)
			return nil
		},
	}
}

func cleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Drop pending intents older than one sim-day",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			db, w, err := openWorld(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			orch := &sim.Orchestrator{World: w, Sink: db}
			removed := orch.CleanupStaleIntents(uint64(sim.TicksPerDay), 0)
			if err := db.SaveWorld(w); err != nil {
				return fmt.Errorf("save world: %w", err)
			}
			fmt.Printf("removed %d stale intents\n", removed)
			return nil
		},
	}
}
