package core

import (
	"github.com/cenkalti/backoff/v4"
	pkgerrors "github.com/pkg/errors"
)

// RetryCommit runs commit, retrying up to two further times with
// exponential backoff on failure (three attempts total) before giving
// up — a SQL lock/timeout hit on commit is retried, and only then
// surfaced as Transient.
// The final failure's cause is wrapped with a stack trace so a
// transient commit failure is still diagnosable from a log line even
// though the HTTP-facing message never includes it.
func RetryCommit(label string, commit func() error) error {
	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)
	if err := backoff.Retry(commit, policy); err != nil {
		return Transient(label, pkgerrors.Wrap(err, label))
	}
	return nil
}
