// Command catalogpub publishes catalog events read from stdin, one JSON
// document per line, to the catalog queue. The queue's stream is declared by
// the catalog service on startup.
package main

import (
	"bufio"
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.elastic.co/apm/v2"

	"github.com/skynet2/catalogsync/codec"
	"github.com/skynet2/catalogsync/config"
	"github.com/skynet2/catalogsync/module/apmelastic"
	"github.com/skynet2/catalogsync/publisher"
)

const maxLineSize = 1 << 20

type pubConfig struct {
	NatsURL    string `env:"NATS_URL" envDefault:"nats://127.0.0.1:4222"`
	QueueName  string `env:"QUEUE_NAME" envDefault:"messages"`
	APMEnabled bool   `env:"APM_ENABLED" envDefault:"false"`
}

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatal().Err(err).Send()
	}
}

func run(ctx context.Context) error {
	var cfg pubConfig
	if err := config.ParseEnv(&cfg); err != nil {
		return err
	}

	con, err := nats.Connect(cfg.NatsURL, nats.Name("catalogpub"))
	if err != nil {
		return errors.Wrapf(err, "connect to nats %v", cfg.NatsURL)
	}
	defer con.Close()

	var interceptors []publisher.UnaryPublisherInterceptorFunc
	if cfg.APMEnabled {
		tracer := apm.DefaultTracer()
		defer tracer.Flush(nil)

		tx := tracer.StartTransaction("catalogpub "+cfg.QueueName, "cli")
		defer tx.End()

		ctx = apm.ContextWithTransaction(ctx, tx)
		interceptors = append(interceptors, apmelastic.PublisherInterceptor())
	}

	pub := publisher.NewNatsPublisher(con, cfg.QueueName, interceptors...)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	published, skipped := 0, 0

	for line := 1; scanner.Scan(); line++ {
		if ctx.Err() != nil {
			break
		}

		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		event, err := codec.Decode(raw)
		if err != nil {
			skipped++
			log.Warn().Err(err).Int("line", line).Msg("skipping malformed event")

			continue
		}

		if err = pub.Publish(ctx, event, nil); err != nil {
			return errors.Wrapf(err, "publish line %d", line)
		}

		published++
	}

	if err = scanner.Err(); err != nil {
		return errors.Wrap(err, "read stdin")
	}

	log.Info().Int("published", published).Int("skipped", skipped).Str("queue", cfg.QueueName).Msg("done")

	return nil
}
