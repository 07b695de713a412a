package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/evoloop/evoloop/config"
	"github.com/evoloop/evoloop/evolution"
	"github.com/evoloop/evoloop/internal/database"
)

// seedEpisode is one canned telemetry sample.
type seedEpisode struct {
	query    string
	returned []string
	saved    []string
	followup int
	failed   bool
}

// runSeed writes a demo topic plus a burst of episodes into the configured
// store, enough to watch the evolution loop fire.
func runSeed(args []string) {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	title := fs.String("title", "Demo: weekly research digest", "Topic title to create")
	fs.Parse(args)

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	db, err := openDatabase(cfg.Database, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		os.Exit(1)
	}

	pool, err := database.NewPool(db, database.PoolConfig{
		MaxIdleConns: cfg.Database.MaxIdleConns,
		MaxOpenConns: cfg.Database.MaxOpenConns,
	}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init pool: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	gormStore := evolution.NewGormStore(pool, logger)
	if err := gormStore.AutoMigrate(); err != nil {
		fmt.Fprintf(os.Stderr, "Schema migration failed: %v\n", err)
		os.Exit(1)
	}

	analyzer := evolution.NewAnalyzer(gormStore, nil, logger)
	audit := evolution.NewAuditLog(gormStore, nil, logger)
	engine := evolution.NewEngine(gormStore, analyzer, audit, nil, nil, nil,
		engineOptions(cfg.Engine), logger)

	ctx := context.Background()
	topic, version, err := engine.CreateTopic(ctx, *title, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create topic: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Created topic %s (version %d)\n", topic.ID, version.Version)

	episodes := []seedEpisode{
		{"latest transformer papers", []string{"a", "b", "c", "d"}, []string{"a", "b"}, 1, false},
		{"gpu pricing trends", []string{"a", "b", "c"}, []string{"a"}, 2, false},
		{"vector db benchmarks", []string{"a", "b", "c", "d", "e"}, nil, 6, false},
		{"open weights releases", []string{"a", "b"}, nil, 7, false},
		{"inference cost survey", []string{"a", "b", "c"}, nil, 8, false},
		{"agent eval harnesses", nil, nil, 4, true},
		{"retrieval eval datasets", []string{"a", "b", "c", "d"}, nil, 6, false},
	}

	for _, s := range episodes {
		ep, err := engine.ReportEpisode(ctx, topic.ID, version.Version, &evolution.Outcome{
			Query:           s.query,
			SourcesReturned: s.returned,
			SourcesSaved:    s.saved,
			FollowupCount:   s.followup,
			Failed:          s.failed,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to report episode: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Reported episode %s (%s)\n", ep.ID, ep.Status)
	}

	versions, err := gormStore.ListVersions(ctx, topic.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list versions: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Topic now has %d version(s)\n", len(versions))
	for _, v := range versions {
		fmt.Printf("  version %d: %s (rollout %d%%)\n", v.Version, v.Status, v.RolloutPercentage)
	}

	logger.Info("seed complete", zap.String("topic_id", topic.ID))
}
