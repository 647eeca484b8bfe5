// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Passy Contributors

// Package bus provides an in-process publish/subscribe broadcast bus.
//
// The bus has no notion of request/response pairing: every message published
// on a topic is offered to every current subscriber of that topic.
package bus

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Message is a single broadcast on a topic.
type Message struct {
	ID        ulid.ULID
	Topic     string
	Timestamp time.Time
	Payload   []byte
}

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// NewID generates a new ULID for a message.
func NewID() ulid.ULID {
	entropyLock.Lock()
	defer entropyLock.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy)
}
