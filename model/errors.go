package model

import (
	"errors"
	"fmt"
)

var (
	// ErrCapacity is returned when a bounded structure is at its limit.
	ErrCapacity = errors.New("model: capacity reached")
	// ErrEmpty is returned by Pop on an empty queue.
	ErrEmpty = errors.New("model: queue is empty")
	// ErrSubscriberClosed is returned by Deliver on a closed subscriber.
	ErrSubscriberClosed = errors.New("model: subscriber closed")
	// ErrSubscriberFull is returned by Deliver when the subscriber buffer is full.
	ErrSubscriberFull = errors.New("model: subscriber buffer full")
	// ErrNotNumeric is returned when an increment targets a non-numeric value.
	ErrNotNumeric = errors.New("model: value is not an integer")
)

// TypeMismatchError is returned when a value does not match the requested entry type.
type TypeMismatchError struct {
	Want EntryType
	Got  EntryType
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("model: type mismatch: want %s, got %s", e.Want, e.Got)
}
