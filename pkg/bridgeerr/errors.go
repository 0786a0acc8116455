// Package bridgeerr classifies the errors the relayer can encounter into
// the handful of kinds that determine retry-vs-fatal policy at each
// boundary: transient network trouble, provider inconsistency, decode
// failure on a recognized event, database trouble, a domain-level
// duplicate rejection, database tampering, an unexpected failed
// confirmation, and an exhausted retry budget.
package bridgeerr

import (
	"errors"
	"fmt"
)

// Kind identifies how a caller should react to an error.
type Kind int

const (
	// KindTransient covers network/rate-limit errors that a bounded
	// retry loop can recover from.
	KindTransient Kind = iota
	// KindProviderInconsistency covers a reorg inside a confirmed
	// window or a finalized receipt without a block number. Fatal.
	KindProviderInconsistency
	// KindDecode covers an ABI/event-layout decode failure on a
	// recognized topic or tag byte. Fatal.
	KindDecode
	// KindDatabase covers connection or query errors against the
	// persistence layer. Retried after reconnect; the failed batch is
	// replayed.
	KindDatabase
	// KindDomainDuplicate covers the CHILD contract rejecting a
	// replayed event id. Treated as success.
	KindDomainDuplicate
	// KindTampering covers a stored event that no longer matches what
	// the chain reports. Fatal.
	KindTampering
	// KindUnexpectedFailedConfirmation covers a confirmed ROOT
	// transaction that did not emit the expected MerkleRoot log.
	// Logged, not fatal: the next tick re-attempts.
	KindUnexpectedFailedConfirmation
	// KindRetriesExhausted covers a bounded retry loop (e.g. a chunk of
	// log fetches) that never succeeded within its retry budget. Unlike
	// a single KindTransient failure, this means the provider has been
	// unreachable or failing for the loop's entire backoff window, not
	// just one call; the caller has nothing left to retry and must
	// abort. Fatal.
	KindRetriesExhausted
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindProviderInconsistency:
		return "provider_inconsistency"
	case KindDecode:
		return "decode"
	case KindDatabase:
		return "database"
	case KindDomainDuplicate:
		return "domain_duplicate"
	case KindTampering:
		return "tampering"
	case KindUnexpectedFailedConfirmation:
		return "unexpected_failed_confirmation"
	case KindRetriesExhausted:
		return "retries_exhausted"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with its Kind so callers can branch on
// classification without string matching.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with the given Kind and operation name. Returns nil if
// err is nil.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err was classified with the given Kind.
func Is(err error, kind Kind) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind == kind
	}
	return false
}

// Fatal reports whether err's kind should terminate the process rather
// than retry locally.
func Fatal(err error) bool {
	var be *Error
	if !errors.As(err, &be) {
		return false
	}
	switch be.Kind {
	case KindProviderInconsistency, KindDecode, KindTampering, KindRetriesExhausted:
		return true
	default:
		return false
	}
}
