package events

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// ErrPermanent marks failures that redelivery cannot fix. Listeners send such
// messages straight to the dead-letter exchange.
var ErrPermanent = errors.New("permanent event failure")

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return errors.Mark(err, ErrPermanent)
}

func IsPermanent(err error) bool {
	return errors.Is(err, ErrPermanent)
}

type Envelope struct {
	Subject Subject         `json:"subject"`
	Data    json.RawMessage `json:"data"`
}

func Encode(p Payload) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, errors.Wrapf(err, "encode %s", p.Subject())
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s", p.Subject())
	}
	return json.Marshal(Envelope{Subject: p.Subject(), Data: data})
}

func Peek(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, Permanent(errors.Wrap(err, "decode envelope"))
	}
	if !env.Subject.Valid() {
		return Envelope{}, Permanent(errors.Newf("unknown subject %q", env.Subject))
	}
	if len(bytes.TrimSpace(env.Data)) == 0 || bytes.Equal(bytes.TrimSpace(env.Data), []byte("null")) {
		return Envelope{}, Permanent(errors.Newf("%s: missing data", env.Subject))
	}
	return env, nil
}

// Decode parses an envelope carrying T. Unknown fields are ignored; declared
// fields are validated. Every error is permanent.
func Decode[T Payload](body []byte) (T, error) {
	var data T
	env, err := Peek(body)
	if err != nil {
		return data, err
	}
	if want := data.Subject(); env.Subject != want {
		return data, Permanent(errors.Newf("subject %q does not carry %s", env.Subject, want))
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return data, Permanent(errors.Wrapf(err, "decode %s", env.Subject))
	}
	if err := data.Validate(); err != nil {
		return data, Permanent(errors.Wrapf(err, "invalid %s", env.Subject))
	}
	return data, nil
}

type Handler[T Payload] func(ctx context.Context, data T) error

// Binding ties a subject to a handler of its payload type.
type Binding struct {
	Subject  Subject
	dispatch func(ctx context.Context, body []byte) error
}

func Bind[T Payload](h Handler[T]) Binding {
	var zero T
	return Binding{
		Subject: zero.Subject(),
		dispatch: func(ctx context.Context, body []byte) error {
			data, err := Decode[T](body)
			if err != nil {
				return err
			}
			return h(ctx, data)
		},
	}
}

func (b Binding) Dispatch(ctx context.Context, body []byte) error {
	return b.dispatch(ctx, body)
}
