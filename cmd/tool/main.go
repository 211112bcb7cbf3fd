// Command tool builds a training dataset once and writes it to a local
// directory, from synthetic data or from the postgres source tables.
package main

import (
	"context"
	"database/sql"
	"flag"
	"os"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	zlog "github.com/rs/zerolog/log"

	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/application/pipeline"
	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/datagen"
	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/domain"
	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/infrastructure/db/postgres"
	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/infrastructure/storage"
	"github.com/baechuer/real-time-ressys/services/dataset-service/internal/logger"
)

func main() {
	var (
		source     = flag.String("source", "synthetic", "synthetic or postgres")
		dsn        = flag.String("dsn", os.Getenv("DATABASE_URL"), "postgres DSN when -source=postgres")
		fromFlag   = flag.String("from", "2025-01-01", "first UTC day (inclusive)")
		toFlag     = flag.String("to", "2025-01-08", "last UTC day (exclusive)")
		out        = flag.String("out", "./out", "output directory")
		seed       = flag.Uint64("seed", 42, "synthetic data seed")
		customers  = flag.Int("customers", 100, "synthetic customers")
		maxHistory = flag.Int("max-history", domain.MaxHistoryLength, "actions kept per customer")
	)
	flag.Parse()
	logger.Init(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))

	from, err := time.Parse(domain.PartitionLayout, *fromFlag)
	if err != nil {
		zlog.Fatal().Err(err).Msg("invalid -from")
	}
	to, err := time.Parse(domain.PartitionLayout, *toFlag)
	if err != nil {
		zlog.Fatal().Err(err).Msg("invalid -to")
	}
	if !to.After(from) {
		zlog.Fatal().Msg("-to must be after -from")
	}

	var src pipeline.Source
	switch *source {
	case "synthetic":
		o := datagen.DefaultOptions()
		o.Seed = *seed
		o.Customers = *customers
		src = datagen.NewSource(o)
	case "postgres":
		db, err := sql.Open("postgres", *dsn)
		if err != nil {
			zlog.Fatal().Err(err).Msg("db open failed")
		}
		defer db.Close()
		src = postgres.NewSource(db)
	default:
		zlog.Fatal().Str("source", *source).Msg("unknown source")
	}

	ctx := context.Background()
	runID := uuid.NewString()
	log := logger.WithRunID(runID)

	in, err := src.Load(ctx, from, to)
	if err != nil {
		log.Fatal().Err(err).Msg("load failed")
	}
	ds, err := pipeline.NewBuilder(*maxHistory).Build(ctx, in)
	if err != nil {
		log.Fatal().Err(err).Msg("build failed")
	}
	if err := storage.NewFileSink(*out).WritePartitions(ctx, runID, ds.Partitions); err != nil {
		log.Fatal().Err(err).Msg("write failed")
	}

	c := ds.Counts(in)
	log.Info().
		Str("out", *out).
		Int("actions", c.Actions).
		Int("customers", c.Customers).
		Int("training_rows", c.TrainingRows).
		Strs("dts", ds.DTs()).
		Msg("dataset written")
}
