package feeds

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/sony/gobreaker"

	"github.com/i474232898/coverage-heatmap/internal/common"
	"github.com/i474232898/coverage-heatmap/internal/coverage"
	"github.com/i474232898/coverage-heatmap/internal/metrics"
)

// Source tags intervals that arrive through the submission topic.
const Source = "kafka"

// ConsumerConfig captures the Kafka settings of the submission feed.
type ConsumerConfig struct {
	Brokers     []string
	Topic       string
	GroupID     string
	PollTimeout time.Duration
	Backoff     BackoffConfig
}

// Ingester stores decoded records for a domain.
type Ingester interface {
	Ingest(ctx context.Context, domainKey, source string, records []coverage.Record) (int, error)
}

// DomainResolver maps an object spec URI to its domain.
type DomainResolver interface {
	BySpec(spec string) (coverage.Domain, error)
}

type messageCommitter interface {
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Consumer ingests data-object submission events from Kafka.
type Consumer struct {
	cfg       ConsumerConfig
	reader    io.Closer
	fetcher   messageFetcher
	committer messageCommitter
	breaker   *gobreaker.CircuitBreaker
	ingest    Ingester
	domains   DomainResolver
	metrics   *metrics.Metrics
	log       *slog.Logger
}

// NewConsumer builds a Kafka reader guarded by a circuit breaker.
func NewConsumer(cfg ConsumerConfig, ingest Ingester, domains DomainResolver, m *metrics.Metrics, log *slog.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one broker is required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("submission topic must not be empty")
	}
	if strings.TrimSpace(cfg.GroupID) == "" {
		return nil, errors.New("consumer group must not be empty")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.GroupID,
		Topic:       cfg.Topic,
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	return newConsumer(cfg, reader, reader, reader, ingest, domains, m, log), nil
}

func newConsumer(
	cfg ConsumerConfig,
	closer io.Closer,
	fetcher messageFetcher,
	committer messageCommitter,
	ingest Ingester,
	domains DomainResolver,
	m *metrics.Metrics,
	log *slog.Logger,
) *Consumer {
	if log == nil {
		log = slog.Default()
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 5 * time.Second
	}
	if cfg.Backoff.InitialInterval <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	name := "kafka:" + cfg.Topic
	return &Consumer{
		cfg:       cfg,
		reader:    closer,
		fetcher:   fetcher,
		committer: committer,
		breaker: newBreaker(name, func(to gobreaker.State) {
			m.BreakerState(name, int(to))
			log.Warn("submission feed breaker state changed", slog.String("state", to.String()))
		}),
		ingest:  ingest,
		domains: domains,
		metrics: m,
		log:     log,
	}
}

// Close shuts down the underlying Kafka reader.
func (c *Consumer) Close() error {
	if c == nil || c.reader == nil {
		return nil
	}
	return c.reader.Close()
}

// Run consumes messages until ctx is cancelled or the reader is closed.
func (c *Consumer) Run(ctx context.Context) error {
	if c == nil {
		return errors.New("nil consumer")
	}

	c.log.Info("submission feed started",
		slog.String("topic", c.cfg.Topic),
		slog.String("group", c.cfg.GroupID),
		slog.String("brokers", strings.Join(c.cfg.Brokers, ",")),
		slog.Duration("pollTimeout", c.cfg.PollTimeout),
	)
	defer c.log.Info("submission feed stopped")

	for {
		msg, err := fetchWithResilience(ctx, c.cfg.Backoff, c.breaker, c.fetcher, c.cfg.PollTimeout)
		if err != nil {
			switch {
			case errors.Is(err, errIdle):
				continue
			case ctx.Err() != nil:
				return ctx.Err()
			case errors.Is(err, io.ErrClosedPipe), errors.Is(err, kafka.ErrGroupClosed), errors.Is(err, io.EOF):
				return nil
			case errors.Is(err, errCircuitOpen):
				c.metrics.FeedError("breaker")
				if waitErr := sleepCtx(ctx, c.cfg.Backoff.MaxInterval); waitErr != nil {
					return waitErr
				}
				continue
			default:
				c.metrics.FeedError("fetch")
				c.log.Error("submission fetch failed", slog.Any("err", err))
				continue
			}
		}

		if err := c.handleWithRetry(ctx, msg); err != nil {
			return err
		}

		commitCtx, cancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
		if err := c.committer.CommitMessages(commitCtx, msg); err != nil {
			if !(errors.Is(err, context.Canceled) && ctx.Err() != nil) {
				c.metrics.FeedError("commit")
				c.log.Error("submission commit failed", slog.Any("err", err), slog.Int64("offset", msg.Offset))
			}
		}
		cancel()
	}
}

// errRejected marks messages that can never be ingested.
var errRejected = errors.New("submission rejected")

// permanent reports whether err can not be cured by handling the message again.
func permanent(err error) bool {
	return errors.Is(err, errRejected) ||
		errors.Is(err, coverage.ErrUnknownDomain) ||
		errors.Is(err, coverage.ErrInvalidInterval)
}

// handleWithRetry handles msg until it is ingested or permanently rejected.
// Transient failures are retried with exponential backoff and the offset is
// not committed meanwhile. It only fails when ctx ends.
func (c *Consumer) handleWithRetry(ctx context.Context, msg kafka.Message) error {
	delay := c.cfg.Backoff.InitialInterval
	for {
		err := c.handle(ctx, msg)
		if err == nil {
			return nil
		}
		if permanent(err) {
			c.log.Warn("submission skipped", slog.Any("err", err), slog.Int64("offset", msg.Offset))
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.metrics.FeedError("ingest")
		c.log.Error("submission ingest failed; retrying",
			slog.Any("err", err),
			slog.Int64("offset", msg.Offset),
			slog.Duration("backoff", delay),
		)
		if err := sleepCtx(ctx, delay); err != nil {
			return err
		}
		delay *= 2
		if maxDelay := c.cfg.Backoff.MaxInterval; maxDelay > 0 && delay > maxDelay {
			delay = maxDelay
		}
	}
}

// handle ingests one message.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) error {
	sub, err := decodeSubmission(msg.Value)
	if err != nil {
		c.metrics.FeedError("decode")
		return fmt.Errorf("%w: %v", errRejected, err)
	}

	domainKey := sub.Domain
	if domainKey == "" {
		d, err := c.domains.BySpec(sub.ObjectSpec)
		if err != nil {
			c.metrics.FeedError("route")
			return fmt.Errorf("file %q: %w", sub.Record.FileName, err)
		}
		domainKey = d.Name
	}

	n, err := c.ingest.Ingest(ctx, domainKey, Source, []coverage.Record{sub.Record})
	if err != nil {
		return fmt.Errorf("ingest %s file %q: %w", domainKey, sub.Record.FileName, err)
	}
	c.log.Debug("submission ingested",
		slog.String("domain", domainKey),
		slog.String("fileName", sub.Record.FileName),
		slog.Int("stored", n),
	)
	return nil
}

// submissionEnvelope mirrors the fields read from a submission event;
// unknown fields are ignored.
type submissionEnvelope struct {
	FileName   string `json:"fileName"`
	ObjectSpec string `json:"objectSpec"`
	Domain     string `json:"domain"`
	Station    string `json:"station"`
	TimeStart  string `json:"timeStart"`
	TimeEnd    string `json:"timeEnd"`
}

type submission struct {
	Domain     string
	ObjectSpec string
	Record     coverage.Record
}

func decodeSubmission(raw []byte) (submission, error) {
	var env submissionEnvelope
	if err := json.NewDecoder(bytes.NewReader(raw)).Decode(&env); err != nil {
		return submission{}, fmt.Errorf("decode submission payload: %w", err)
	}

	env.Domain = strings.TrimSpace(env.Domain)
	env.ObjectSpec = strings.TrimSpace(env.ObjectSpec)
	if env.Domain == "" && env.ObjectSpec == "" {
		return submission{}, errors.New("domain or objectSpec is required")
	}
	if strings.TrimSpace(env.FileName) == "" && strings.TrimSpace(env.Station) == "" {
		return submission{}, errors.New("fileName or station is required")
	}

	start, err := common.ParseTime(env.TimeStart)
	if err != nil {
		return submission{}, fmt.Errorf("timeStart: %w", err)
	}
	end, err := common.ParseTime(env.TimeEnd)
	if err != nil {
		return submission{}, fmt.Errorf("timeEnd: %w", err)
	}

	return submission{
		Domain:     env.Domain,
		ObjectSpec: env.ObjectSpec,
		Record: coverage.Record{
			FileName: strings.TrimSpace(env.FileName),
			Station:  strings.TrimSpace(env.Station),
			Start:    start,
			End:      end,
		},
	}, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		d = time.Second
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
