// Command recalld is the privacy-aware retrieval service for the
// personal-data assistant backend.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"cloud.google.com/go/firestore"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/config"
	"github.com/fyrsmithlabs/recalld/internal/embeddings"
	"github.com/fyrsmithlabs/recalld/internal/logging"
	"github.com/fyrsmithlabs/recalld/internal/metering"
	"github.com/fyrsmithlabs/recalld/internal/privacy"
	"github.com/fyrsmithlabs/recalld/internal/relationship"
	"github.com/fyrsmithlabs/recalld/internal/retrieval"
	"github.com/fyrsmithlabs/recalld/internal/services"
	"github.com/fyrsmithlabs/recalld/internal/telemetry"
	"github.com/fyrsmithlabs/recalld/internal/vectorstore"
)

var (
	configPath string
)

func main() {
	root := &cobra.Command{
		Use:   "recalld",
		Short: "Privacy-aware retrieval over the assistant's vector indices",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	root.AddCommand(newQueryCmd())
	root.AddCommand(newStatsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRegistry constructs every service from config. Construction order
// matters: metering feeds embeddings, and the orchestrator composes the rest.
func buildRegistry(ctx context.Context, cfg *config.Config, logger *zap.Logger) (services.Registry, func(), error) {
	recorder := metering.NewRecorder(logger.Named("metering"))

	embedder, err := embeddings.NewService(embeddings.Config{
		BaseURL:       cfg.Embeddings.BaseURL,
		APIKey:        cfg.Embeddings.APIKey,
		Model:         cfg.Embeddings.Model,
		Dimensions:    cfg.Embeddings.Dimensions,
		CacheCapacity: cfg.Embeddings.CacheCapacity,
		Timeout:       cfg.Embeddings.Timeout,
	}, recorder, logger.Named("embeddings"))
	if err != nil {
		return nil, nil, fmt.Errorf("constructing embedding service: %w", err)
	}

	store, err := vectorstore.NewStore(ctx, vectorstore.Config{
		Host:               cfg.Qdrant.Host,
		Port:               cfg.Qdrant.Port,
		UseTLS:             cfg.Qdrant.UseTLS,
		SemanticCollection: cfg.Qdrant.SemanticCollection,
		VisualCollection:   cfg.Qdrant.VisualCollection,
	}, logger.Named("vectorstore"))
	if err != nil {
		return nil, nil, fmt.Errorf("constructing vector store: %w", err)
	}

	fsClient, err := firestore.NewClientWithDatabase(ctx, cfg.Firestore.ProjectID, cfg.Firestore.Database)
	if err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("constructing firestore client: %w", err)
	}

	gateway, err := relationship.NewGateway(fsClient, relationship.Config{
		Collection:  cfg.Firestore.Collection,
		MaxInFlight: cfg.Retrieval.MaxInFlight,
	}, logger.Named("relationship"))
	if err != nil {
		_ = store.Close()
		_ = fsClient.Close()
		return nil, nil, fmt.Errorf("constructing relationship gateway: %w", err)
	}

	orchestrator, err := retrieval.NewOrchestrator(embedder, store, gateway, logger.Named("retrieval"))
	if err != nil {
		_ = store.Close()
		_ = fsClient.Close()
		return nil, nil, fmt.Errorf("constructing orchestrator: %w", err)
	}

	cleanup := func() {
		_ = store.Close()
		_ = fsClient.Close()
	}

	return services.NewRegistry(services.Options{
		Embeddings:    embedder,
		VectorStore:   store,
		Relationships: gateway,
		Retrieval:     orchestrator,
		Metering:      recorder,
	}), cleanup, nil
}

func setup(ctx context.Context) (*config.Config, *zap.Logger, *telemetry.Telemetry, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, nil, err
	}

	tel, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		return nil, nil, nil, err
	}
	if degraded, msg := tel.Degraded(); degraded {
		logger.Warn("telemetry degraded", zap.String("reason", msg))
	}

	return cfg, logger, tel, nil
}

func newQueryCmd() *cobra.Command {
	var (
		requester    string
		topK         int
		categories   []string
		counterparts []string
		circleSpec   []string
		endpoint     string
	)

	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Run a privacy-scoped similarity query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, tel, err := setup(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = tel.Shutdown(ctx) }()
			defer func() { _ = logger.Sync() }()

			registry, cleanup, err := buildRegistry(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			req := retrieval.Request{
				RequesterID:  requester,
				Query:        args[0],
				TopK:         topK,
				Counterparts: counterparts,
				Endpoint:     endpoint,
			}
			for _, c := range categories {
				req.Categories = append(req.Categories, privacy.Category(c))
			}
			if len(circleSpec) > 0 {
				circle, err := parseCircle(circleSpec)
				if err != nil {
					return err
				}
				req.Circle = circle
			}

			result, err := registry.Retrieval().Retrieve(ctx, req)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}

	cmd.Flags().StringVar(&requester, "requester", "", "requesting identity (required)")
	cmd.Flags().IntVar(&topK, "top-k", 0, "maximum results")
	cmd.Flags().StringSliceVar(&categories, "category", nil, "restrict to categories")
	cmd.Flags().StringSliceVar(&counterparts, "counterpart", nil, "counterpart identities for circle retrieval")
	cmd.Flags().StringSliceVar(&circleSpec, "circle-allow", nil, "categories the circle policy allows")
	cmd.Flags().StringVar(&endpoint, "endpoint", "cli", "usage attribution label")
	_ = cmd.MarkFlagRequired("requester")

	return cmd
}

// parseCircle builds a circle policy from allowed category names.
func parseCircle(allowed []string) (*privacy.CircleSharingPolicy, error) {
	var circle privacy.CircleSharingPolicy
	for _, name := range allowed {
		switch privacy.Category(strings.TrimSpace(name)) {
		case privacy.CategoryHealth:
			circle.Health = true
		case privacy.CategoryLocation:
			circle.Location = true
		case privacy.CategoryActivities:
			circle.Activities = true
		case privacy.CategoryDiary:
			circle.Diary = true
		case privacy.CategoryVoiceNotes:
			circle.VoiceNotes = true
		case privacy.CategoryPhotos:
			circle.Photos = true
		default:
			return nil, fmt.Errorf("unknown circle category %q", name)
		}
	}
	return &circle, nil
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show point counts for both vector indices",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, logger, tel, err := setup(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = tel.Shutdown(ctx) }()
			defer func() { _ = logger.Sync() }()

			registry, cleanup, err := buildRegistry(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			for _, index := range []vectorstore.Index{vectorstore.IndexSemantic, vectorstore.IndexVisual} {
				stats, err := registry.VectorStore().Stats(ctx, index)
				if err != nil {
					return err
				}
				if err := enc.Encode(stats); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
