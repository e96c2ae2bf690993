package engine

import (
	"errors"
	"fmt"

	"diario/internal/collect"
	diariosdk "diario/sdk/go"
)

var (
	// ErrMissingIdentifier is returned when a step after planning is submitted
	// before the backend assigned a planning id. The backend is not called.
	ErrMissingIdentifier = errors.New("planning id not assigned")
	// ErrAlreadyPlanned is returned when planning is submitted twice for one entry.
	ErrAlreadyPlanned = errors.New("planning already submitted for this entry")
	// ErrSubmissionInFlight is returned while a previous submit of the same step is pending.
	ErrSubmissionInFlight = errors.New("submission already in flight")
	// ErrAlreadyFinalized is returned when a finalized entry is submitted or
	// finalized again. The backend is not called.
	ErrAlreadyFinalized = errors.New("entry already finalized")
	// ErrStale is returned when the entry was reset while the request was pending.
	// The response is discarded.
	ErrStale = errors.New("entry reset while request was pending")
)

// ValidationError is a required planning field left empty.
type ValidationError = collect.ValidationError

// ServerRejection is a non-success response from the backend.
type ServerRejection struct {
	Status  int
	Message string
}

func (e *ServerRejection) Error() string {
	return fmt.Sprintf("server rejected request (status %d): %s", e.Status, e.Message)
}

// NetworkError is a transport failure; no response was obtained.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// classify maps a backend call error onto the error taxonomy. fallback is the
// message used when the backend sent no error text.
func classify(err error, fallback string) error {
	var apiErr *diariosdk.APIError
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = fallback
		}
		return &ServerRejection{Status: apiErr.StatusCode, Message: msg}
	}
	return &NetworkError{Err: err}
}

// Message is the text shown to the operator for err.
func Message(err error) string {
	var (
		rej  *ServerRejection
		nerr *NetworkError
		verr *ValidationError
	)
	switch {
	case errors.As(err, &rej):
		return rej.Message
	case errors.As(err, &nerr):
		return msgNetwork
	case errors.As(err, &verr):
		return verr.Error()
	case errors.Is(err, ErrMissingIdentifier):
		return msgMissingID
	case errors.Is(err, ErrAlreadyPlanned):
		return msgAlreadyPlanned
	case errors.Is(err, ErrSubmissionInFlight):
		return msgInFlight
	case errors.Is(err, ErrAlreadyFinalized):
		return msgAlreadyFinalized
	case err == nil:
		return ""
	}
	return err.Error()
}
