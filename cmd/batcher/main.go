package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/SteelMorgan/kman/internal/abundance"
	"github.com/SteelMorgan/kman/internal/batch"
	"github.com/SteelMorgan/kman/internal/clickhouse"
	"github.com/SteelMorgan/kman/internal/config"
	"github.com/SteelMorgan/kman/internal/kmer"
	"github.com/SteelMorgan/kman/internal/observability"
	"github.com/SteelMorgan/kman/internal/service"
	"github.com/SteelMorgan/kman/internal/writer"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogFile)

	log.Info().
		Str("version", version).
		Msg("Starting k-mer batcher")

	shutdown, err := observability.InitTracer(observability.TracerConfig{
		ServiceName:    observability.ServiceName,
		ServiceVersion: version,
		Endpoint:       cfg.TracingEndpoint,
		Protocol:       cfg.TracingProtocol,
		Enabled:        cfg.TracingEnabled,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize tracer")
		shutdown = func(context.Context) error { return nil }
	}
	defer shutdown(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info().Msg("Received shutdown signal, batching aborted")
		} else {
			log.Error().Err(err).Msg("Batching failed")
		}
		shutdown(context.Background())
		os.Exit(1)
	}

	log.Info().Msg("Batcher stopped")
}

// run batches the configured FASTA file, exports the collection and tears the
// spill directory down
func run(ctx context.Context, cfg *config.Config) error {
	na, err := kmer.ParseNAType(cfg.NAType)
	if err != nil {
		return err
	}

	b, err := batch.New(batch.Config{
		Size:     cfg.BatchSize,
		Kind:     kmer.Kind,
		Decode:   kmer.Decode,
		Threads:  cfg.Threads,
		TempRoot: cfg.TmpDir,
	})
	if err != nil {
		return fmt.Errorf("failed to create batcher: %w", err)
	}
	defer func() {
		if err := b.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to remove batch temp directory")
		}
	}()

	exporter, closeSink, err := newExporter(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSink()

	if _, err := service.NewFastaBatcher(b, na).Do(ctx, cfg.FastaPath, cfg.KmerLength); err != nil {
		return err
	}

	if err := writer.ExportAll(ctx, exporter, b.Collection()); err != nil {
		return fmt.Errorf("failed to export batches: %w", err)
	}
	log.Info().
		Str("mode", cfg.ExportMode).
		Int("batches", len(b.Collection())).
		Msg("Batches exported")

	if cfg.AbundanceDir != "" {
		if err := writeAbundance(ctx, cfg, b.Collection()); err != nil {
			return err
		}
	}
	return nil
}

// newExporter builds the sink for cfg.ExportMode and a func releasing it
func newExporter(ctx context.Context, cfg *config.Config) (writer.Exporter, func(), error) {
	switch cfg.ExportMode {
	case config.ExportDir:
		e, err := writer.NewDirExporter(cfg.OutputDir)
		if err != nil {
			return nil, nil, err
		}
		return e, func() { e.Close() }, nil

	case config.ExportClickHouse:
		client, err := clickhouse.NewClientFromConfig(ctx,
			cfg.ClickHouseHost, cfg.ClickHousePort, cfg.ClickHouseDB,
			cfg.RetryMaxAttempts, cfg.RetryInitialDelayMs, cfg.RetryMaxDelayMs, cfg.RetryMultiplier,
		)
		if err != nil {
			return nil, nil, err
		}
		if err := client.EnsureKmerTable(ctx, cfg.ClickHouseTable); err != nil {
			client.Close()
			return nil, nil, err
		}
		e, err := writer.NewClickHouseExporter(writer.FromClient(client), writer.ClickHouseConfig{
			Table:     cfg.ClickHouseTable,
			ChunkSize: cfg.ClickHouseChunkSize,
			Retry:     client.RetryConfig(),
		})
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		return e, func() {
			e.Close()
			client.Close()
		}, nil

	default:
		return writer.NopExporter{}, func() {}, nil
	}
}

// writeAbundance counts k-mer start positions into the configured store and
// writes the vectors to cfg.AbundanceDir
func writeAbundance(ctx context.Context, cfg *config.Config, batches []*batch.Batch) error {
	var v abundance.Vector
	if cfg.AbundanceStore == config.StoreLocal {
		lv, err := abundance.NewLocalVector(cfg.TmpDir)
		if err != nil {
			return err
		}
		v = lv
	} else {
		v = abundance.NewMemoryVector()
	}
	defer v.Close()

	if err := service.CountStarts(ctx, batches, v, cfg.KmerLength); err != nil {
		return fmt.Errorf("failed to count k-mer starts: %w", err)
	}
	if err := v.WriteTo(cfg.AbundanceDir); err != nil {
		return fmt.Errorf("failed to write abundance vectors: %w", err)
	}
	return nil
}
