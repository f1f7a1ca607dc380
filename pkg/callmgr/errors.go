package callmgr

import (
	"errors"
	"fmt"
)

// Expected operational failures. Controller operations return these as values;
// callers decide whether to retry.
var (
	ErrProviderNotInitialized   = errors.New("telephony provider not initialized")
	ErrWebhookURLMissing        = errors.New("webhook url not configured")
	ErrFromNumberMissing        = errors.New("from number not configured")
	ErrConcurrencyLimitExceeded = errors.New("concurrent call limit reached")
	ErrCallNotFound             = errors.New("call not found")
	ErrCallNotConnected         = errors.New("call not connected")
	ErrCallEnded                = errors.New("call ended")
	ErrTranscriptTimeout        = errors.New("timed out waiting for transcript")
	ErrWaitSuperseded           = errors.New("transcript wait superseded")
)

// ProviderRequestError wraps a telephony backend failure with the operation
// that triggered it.
type ProviderRequestError struct {
	Op  string
	Err error
}

func (e *ProviderRequestError) Error() string {
	return fmt.Sprintf("provider request failed (%s): %v", e.Op, e.Err)
}

func (e *ProviderRequestError) Unwrap() error { return e.Err }

func providerErr(op string, err error) error {
	return &ProviderRequestError{Op: op, Err: err}
}
