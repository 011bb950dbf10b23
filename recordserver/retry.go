// Copyright 2026 The election Authors
// SPDX-License-Identifier: Apache-2.0

package recordserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// transientTxStates are the SQLSTATEs after which a record transaction is
// replayed from the start.
var transientTxStates = map[string]string{
	"40001": "serialization_failure",
	"40P01": "deadlock_detected",
	"55P03": "lock_not_available",
}

// retryReason names the transient Postgres condition behind err, if any.
func retryReason(err error) (string, bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	reason, ok := transientTxStates[pgErr.Code]
	return reason, ok
}

// inTx runs fn in a transaction. Serialization, deadlock and lock failures
// are replayed up to MaxTxRetries more times with doubling backoff.
func (s *Service) inTx(ctx context.Context, op string, fn func(tx pgx.Tx) error) error {
	backoff := s.config.RetryBackoff
	for attempt := 1; ; attempt++ {
		err := pgx.BeginFunc(ctx, s.pool, fn)
		reason, transient := retryReason(err)
		if !transient || attempt > s.config.MaxTxRetries {
			return err
		}
		s.logger.Warn("Replaying record transaction", "op", op, "attempt", attempt, "reason", reason)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s abandoned after %s: %w", op, reason, ctx.Err())
		case <-timer.C:
		}
		backoff *= 2
	}
}
