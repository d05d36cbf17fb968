// Package codec turns raw queue payloads into typed catalog events and back.
//
// Decoding is structural: the payload must be a JSON object with a string
// eventType and an object data, and every known event type must carry a
// book_id. Business rules are left to the applier.
package codec

import (
	"bytes"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	jsoniter "github.com/json-iterator/go"

	"github.com/skynet2/catalogsync/common"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DecodeError reports a payload that can never be applied, no matter how often it is redelivered.
type DecodeError struct {
	Reason string
	Cause  error
}

func (e *DecodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("decode catalog event: %s: %v", e.Reason, e.Cause)
	}

	return "decode catalog event: " + e.Reason
}

func (e *DecodeError) Unwrap() error {
	return e.Cause
}

func IsDecodeError(err error) bool {
	var target *DecodeError
	return errors.As(err, &target)
}

type envelope struct {
	EventType *string             `json:"eventType"`
	Data      jsoniter.RawMessage `json:"data"`
}

type bookData struct {
	BookID    *string       `json:"book_id"`
	Title     *string       `json:"title"`
	Author    *common.Named `json:"author"`
	Genre     *common.Named `json:"genre"`
	UserID    *string       `json:"user_id"`
	CreatedAt *time.Time    `json:"createdAt"`
	UpdatedAt *time.Time    `json:"updatedAt"`
}

// Decode parses a single queue payload.
func Decode(raw []byte) (common.CatalogEvent, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, &DecodeError{Reason: "payload is not a JSON object"}
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, &DecodeError{Reason: "malformed envelope", Cause: err}
	}

	if env.EventType == nil {
		return nil, &DecodeError{Reason: "eventType is missing"}
	}

	data := bytes.TrimSpace(env.Data)
	if len(data) == 0 || data[0] != '{' {
		return nil, &DecodeError{Reason: "data is not an object"}
	}

	eventType := common.EventType(*env.EventType)

	switch eventType {
	case common.EventTypeBookCreated, common.EventTypeBookUpdated, common.EventTypeBookDeleted:
	default:
		return common.UnknownEvent{EventType: eventType, Data: append([]byte(nil), data...)}, nil
	}

	var payload bookData
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, &DecodeError{Reason: "malformed data", Cause: err}
	}

	if payload.BookID == nil || *payload.BookID == "" {
		return nil, &DecodeError{Reason: fmt.Sprintf("%s requires data.book_id", eventType)}
	}

	switch eventType {
	case common.EventTypeBookCreated:
		rec := common.BookRecord{
			BookID:    *payload.BookID,
			Author:    payload.Author,
			Genre:     payload.Genre,
			CreatedAt: payload.CreatedAt,
			UpdatedAt: payload.UpdatedAt,
		}
		if payload.Title != nil {
			rec.Title = *payload.Title
		}
		if payload.UserID != nil {
			rec.UserID = *payload.UserID
		}

		return common.BookCreated{Book: rec}, nil
	case common.EventTypeBookUpdated:
		return common.BookUpdated{
			BookID: *payload.BookID,
			Changes: common.BookPatch{
				Title:     payload.Title,
				Author:    payload.Author,
				Genre:     payload.Genre,
				UserID:    payload.UserID,
				CreatedAt: payload.CreatedAt,
				UpdatedAt: payload.UpdatedAt,
			},
		}, nil
	default:
		return common.BookDeleted{BookID: *payload.BookID}, nil
	}
}

type wireEvent struct {
	EventType common.EventType `json:"eventType"`
	Data      any              `json:"data"`
}

// Encode produces the wire form Decode accepts.
func Encode(event common.CatalogEvent) ([]byte, error) {
	var data any

	switch e := event.(type) {
	case common.BookCreated:
		data = e.Book
	case common.BookUpdated:
		data = struct {
			BookID string `json:"book_id"`
			common.BookPatch
		}{BookID: e.BookID, BookPatch: e.Changes}
	case common.BookDeleted:
		data = struct {
			BookID string `json:"book_id"`
		}{BookID: e.BookID}
	case common.UnknownEvent:
		if len(e.Data) == 0 {
			data = struct{}{}
		} else {
			data = jsoniter.RawMessage(e.Data)
		}
	case nil:
		return nil, errors.New("encode catalog event: nil event")
	default:
		return nil, errors.Newf("encode catalog event: unsupported type %T", event)
	}

	out, err := json.Marshal(wireEvent{EventType: event.Type(), Data: data})
	if err != nil {
		return nil, errors.Wrap(err, "encode catalog event")
	}

	return out, nil
}
