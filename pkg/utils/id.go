package utils

import (
	"fmt"

	"github.com/google/uuid"
)

// NewConnID generates a unique signaling connection id.
func NewConnID() string {
	return fmt.Sprintf("conn_%s", uuid.NewString())
}

// NewTransportID generates a unique transport id.
func NewTransportID() string {
	return fmt.Sprintf("transport_%s", uuid.NewString())
}

// NewProducerID generates a unique producer id.
func NewProducerID() string {
	return fmt.Sprintf("producer_%s", uuid.NewString())
}

// NewConsumerID generates a unique consumer id.
func NewConsumerID() string {
	return fmt.Sprintf("consumer_%s", uuid.NewString())
}

// NewRouterID generates a unique router id.
func NewRouterID() string {
	return fmt.Sprintf("router_%s", uuid.NewString())
}
