package summarizer

import "fmt"

// FetchError is returned when chat history or group metadata could not be read.
type FetchError struct {
	ChatID string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetching history of %s: %v", e.ChatID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ServiceError is returned when the completion service failed or answered
// with something unusable.
type ServiceError struct {
	Model string
	Err   error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("completion with %s: %v", e.Model, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// DeliveryError is returned when a reply could not be sent or deleted.
type DeliveryError struct {
	Op     string // "send" or "delete"
	ChatID string
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s reply in %s: %v", e.Op, e.ChatID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
