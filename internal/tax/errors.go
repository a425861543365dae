package tax

import "errors"

var (
	// ErrInvalidRequest marks a calculation request that cannot be sent.
	ErrInvalidRequest = errors.New("tax: invalid calculation request")
	// ErrMalformedResponse marks a remote answer that violates the contract.
	ErrMalformedResponse = errors.New("tax: malformed remote response")
	// ErrRateStore marks failures persisting local rate records.
	ErrRateStore = errors.New("tax: rate store failure")
)
