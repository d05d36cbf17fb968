// Package projector connects the queue consumer to the codec and the applier
// and decides how every message is confirmed.
//
//	malformed payload          -> ack, dropped
//	data error while applying  -> ack, dropped
//	store failure              -> nack, redelivered by the broker
//	applied / not found / etc. -> ack
package projector

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/skynet2/catalogsync/applier"
	"github.com/skynet2/catalogsync/codec"
	"github.com/skynet2/catalogsync/common"
	"github.com/skynet2/catalogsync/consumer"
)

type Projector struct {
	applier *applier.Applier
}

func New(a *applier.Applier) *Projector {
	return &Projector{applier: a}
}

// Handle is a consumer.UnaryFunc.
func (p *Projector) Handle(ctx context.Context, request consumer.MessageRequest) (consumer.ConfirmationType, error) {
	logger := zerolog.Ctx(ctx)

	event, err := codec.Decode(request.Data())
	if err != nil {
		logger.Warn().Err(err).Int("size", len(request.Data())).Msg("dropping malformed catalog event")
		return consumer.ConfirmationTypeAck, nil
	}

	eventLogger := logger.With().
		Str("event_type", string(event.Type())).
		Str("book_id", event.ID()).
		Logger()

	result, err := p.applier.Apply(eventLogger.WithContext(ctx), event)
	if err != nil {
		if applier.IsRetryable(err) {
			return consumer.ConfirmationTypeNack, errors.Wrap(err, "apply catalog event")
		}

		eventLogger.Warn().Err(err).Msg("dropping catalog event with invalid data")

		return consumer.ConfirmationTypeAck, nil
	}

	switch result {
	case applier.ResultNotFound:
		eventLogger.Warn().Msg("book not found, nothing to apply")
	case applier.ResultUnrecognized:
		eventLogger.Warn().Msg("unknown event type")
	case applier.ResultAlreadyExists:
		eventLogger.Info().Msg("book already exists, creation skipped")
	default:
		eventLogger.Info().Str("result", result.String()).Msg(describe(event))
	}

	return consumer.ConfirmationTypeAck, nil
}

func describe(event common.CatalogEvent) string {
	switch event.(type) {
	case common.BookCreated:
		return "book inserted"
	case common.BookUpdated:
		return "book updated"
	case common.BookDeleted:
		return "book deleted"
	default:
		return "event applied"
	}
}
