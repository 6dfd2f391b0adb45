package deploy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/frantjc/cargo-apk/internal/apkerr"
	"github.com/go-logr/logr"
)

var transientMessages = []string{
	"connection reset",
	"connection refused",
	"broken pipe",
	"device offline",
	"device busy",
	"device still authorizing",
	"protocol fault",
	"closed",
	"EOF",
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, errTransferMismatch) {
		return true
	}

	msg := err.Error()
	for _, m := range transientMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}

	return false
}

func retry[T any](ctx context.Context, d *Deployer, phase string, op func() (T, error)) (T, error) {
	log := logr.FromContextOrDiscard(ctx)

	return backoff.Retry(ctx,
		func() (T, error) {
			res, err := op()
			if err != nil && (apkerr.KindOf(err) != apkerr.Unknown || !IsTransient(err)) {
				return res, backoff.Permanent(err)
			}

			return res, err
		},
		backoff.WithBackOff(backoff.NewConstantBackOff(d.interval())),
		backoff.WithMaxTries(d.maxTries()),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.V(1).Info("retrying", "phase", phase, "err", err.Error(), "after", next.String())
		}),
	)
}

// asTransport classifies err as a TransportError unless it already carries a Kind.
func asTransport(phase string, err error) error {
	if err == nil {
		return nil
	}

	if apkerr.KindOf(err) != apkerr.Unknown {
		return err
	}

	return apkerr.New(apkerr.Transport, fmt.Errorf("%s: %w", phase, err))
}
