package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ursiee-ase1/survwatch-pipeline/internal/config"
	"github.com/ursiee-ase1/survwatch-pipeline/internal/database"
	"github.com/ursiee-ase1/survwatch-pipeline/internal/detectconfig"
	"github.com/ursiee-ase1/survwatch-pipeline/internal/kafka"
	"github.com/ursiee-ase1/survwatch-pipeline/internal/notify"
	"github.com/ursiee-ase1/survwatch-pipeline/internal/outbox"
	"github.com/ursiee-ase1/survwatch-pipeline/internal/runner"
	"github.com/ursiee-ase1/survwatch-pipeline/internal/s3"
	"github.com/ursiee-ase1/survwatch-pipeline/internal/services/detection"
	"github.com/ursiee-ase1/survwatch-pipeline/internal/watchdog"
)

// batch holds what the recorded footage runner owns.
type batch struct {
	db       *database.Database
	consumer *kafka.Consumer
	producer *kafka.Producer
}

func (b *batch) Close() {
	if err := b.consumer.Close(); err != nil {
		log.Error().Err(err).Msg("Main: closing Kafka consumer")
	}
	if err := b.producer.Close(); err != nil {
		log.Error().Err(err).Msg("Main: closing Kafka producer")
	}
	if err := b.db.Close(); err != nil {
		log.Error().Err(err).Msg("Main: closing database")
	}
}

func startBatch(ctx context.Context, cfg *config.Config, store *detectconfig.Store, detector *detection.Client, goRun func(func())) (*batch, error) {
	db, err := database.New(ctx, cfg.Postgres.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.Init(ctx); err != nil {
		return nil, errors.Join(err, db.Close())
	}

	minioClient, err := s3.NewMinioClient(cfg.Minio.Endpoint, cfg.Minio.AccessKey, cfg.Minio.SecretKey, cfg.Minio.Secure, s3.Buckets{
		Footage:  cfg.Minio.FootageBucket,
		Analysis: cfg.Minio.AnalysisBucket,
		Frames:   cfg.Minio.FramesBucket,
	})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to connect to MinIO: %w", err), db.Close())
	}
	if err := minioClient.EnsureBuckets(ctx); err != nil {
		return nil, errors.Join(err, db.Close())
	}

	producer, err := kafka.NewProducer(cfg.Kafka.Brokers, kafka.Topics{
		Jobs:          cfg.Kafka.JobTopic,
		Heartbeats:    cfg.Kafka.HeartbeatTopic,
		Notifications: cfg.Kafka.NotificationTopic,
	})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to create Kafka producer: %w", err), db.Close())
	}
	consumer, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.JobTopic)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to create Kafka consumer: %w", err), producer.Close(), db.Close())
	}
	consumer.StartListening(ctx)

	var notifier outbox.Notifier
	if cfg.Notify.Enabled {
		sender, err := notify.NewShoutrrrSender(cfg.Notify.URLs, cfg.Notify.Timeout)
		if err != nil {
			return nil, errors.Join(err, consumer.Close(), producer.Close(), db.Close())
		}
		notifier = notify.NewNotifier(sender)
	}

	r := runner.New(runner.Deps{
		DB:       db,
		Storage:  minioClient,
		Detector: detector,
		Configs:  store,
		Producer: producer,
		Consumer: consumer,
	}, runner.Settings{
		SampleFPS:     cfg.Batch.SampleFPS,
		DefaultFPS:    cfg.Batch.DefaultFPS,
		ClipSeconds:   cfg.Batch.ClipSeconds,
		WorkDir:       cfg.Batch.WorkDir,
		MaxConcurrent: cfg.Batch.MaxConcurrent,
	})
	goRun(func() { r.ListenAndRun(ctx) })

	dispatcher := outbox.NewDispatcher(db, producer, notifier, cfg.Batch.OutboxInterval, 10)
	goRun(func() { dispatcher.Start(ctx) })

	// Runners beat every 5s; three missed beats mean the job is stuck.
	wd := watchdog.New(db, producer, cfg.Batch.WatchInterval, 15*time.Second)
	goRun(func() { wd.Start(ctx) })

	log.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.JobTopic).Msg("Main: batch runner started")
	return &batch{db: db, consumer: consumer, producer: producer}, nil
}
