package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/pithecene-io/armlink/adapter"
	"github.com/pithecene-io/armlink/adapter/redis"
	"github.com/pithecene-io/armlink/adapter/webhook"
	"github.com/pithecene-io/armlink/cli/config"
	"github.com/pithecene-io/armlink/lode"
)

// stubLimit caps the states kept by the stub publisher.
const stubLimit = 1000

// defaultLodePath is the fs root used when publisher.lode.path is empty.
const defaultLodePath = "armlink-data"

// sink is the publisher built from configuration.
type sink struct {
	name      string
	publisher adapter.Publisher
	// recorder is set for the lode publisher so the session metrics can
	// be written next to the states.
	recorder *lode.Recorder
}

// sessionID names one process run. It is also the lode session partition.
func sessionID(start time.Time) string {
	return start.UTC().Format("20060102T150405Z")
}

// buildSink creates the configured publisher.
func buildSink(ctx context.Context, cfg *config.Config, session string, start time.Time) (*sink, error) {
	pc := cfg.Publisher
	switch pc.Type {
	case "", config.PublisherNone:
		return &sink{name: config.PublisherNone, publisher: adapter.NewStubPublisher(1)}, nil

	case config.PublisherStub:
		return &sink{name: pc.Type, publisher: adapter.NewStubPublisher(stubLimit)}, nil

	case config.PublisherRedis:
		p, err := redis.New(redis.Config{
			URL:       pc.Redis.URL,
			Channel:   pc.Redis.Channel,
			LatestKey: pc.Redis.LatestKey,
			LatestTTL: pc.Redis.LatestTTL.Duration,
			Encoding:  pc.Redis.Encoding,
			Timeout:   pc.Redis.Timeout.Duration,
			Retries:   intOr(pc.Redis.Retries, 0),
		})
		if err != nil {
			return nil, err
		}
		return &sink{name: pc.Type, publisher: p}, nil

	case config.PublisherWebhook:
		p, err := webhook.New(webhook.Config{
			URL:         pc.Webhook.URL,
			Headers:     pc.Webhook.Headers,
			Timeout:     pc.Webhook.Timeout.Duration,
			Retries:     intOr(pc.Webhook.Retries, 0),
			MinInterval: pc.Webhook.MinInterval.Duration,
		})
		if err != nil {
			return nil, err
		}
		return &sink{name: pc.Type, publisher: p}, nil

	case config.PublisherLode:
		rec, err := buildRecorder(ctx, cfg, session, start)
		if err != nil {
			return nil, err
		}
		return &sink{name: pc.Type, publisher: rec, recorder: rec}, nil

	default:
		return nil, fmt.Errorf("unknown publisher type: %s", pc.Type)
	}
}

// buildRecorder creates a lode recorder for the configured backend.
func buildRecorder(ctx context.Context, cfg *config.Config, session string, start time.Time) (*lode.Recorder, error) {
	lc := cfg.Publisher.Lode
	rcfg := lode.Config{
		Dataset:   lc.Dataset,
		RobotID:   cfg.RobotID,
		Day:       lode.DeriveDay(start),
		Session:   session,
		BatchSize: lc.BatchSize,
	}

	switch lc.Backend {
	case "", "fs":
		path := lc.Path
		if path == "" {
			path = defaultLodePath
		}
		return lode.NewRecorder(rcfg, path)
	case "memory":
		return lode.NewMemoryRecorder(rcfg)
	case "s3":
		return lode.NewS3Recorder(ctx, rcfg, s3Config(lc))
	default:
		return nil, fmt.Errorf("unknown lode backend: %s (must be fs, s3 or memory)", lc.Backend)
	}
}

func s3Config(lc config.LodeConfig) lode.S3Config {
	bucket, prefix := lode.ParseS3Path(lc.Path)
	return lode.S3Config{
		Bucket:       bucket,
		Prefix:       prefix,
		Region:       lc.Region,
		Endpoint:     lc.Endpoint,
		UsePathStyle: lc.S3PathStyle,
	}
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}
