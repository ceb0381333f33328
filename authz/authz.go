// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package authz centralizes the authorization check performed before any
// administrative state mutation. Components name the capability they
// need; the authorizer decides whether the caller holds it. Vote and
// tally logic never consult this package.
package authz

import (
	"errors"
	"fmt"

	"github.com/luxfi/ids"
)

var ErrUnauthorized = errors.New("unauthorized")

// Capability names one administrative surface.
type Capability string

const (
	ConfigureRelay    Capability = "relay.configure"
	ConfigureReceiver Capability = "receiver.configure"
	ConfigureVoting   Capability = "voting.configure"
)

// Authorizer decides whether a caller holds a capability. Implementations
// must be side-effect free; a call is rejected by returning an error
// wrapping ErrUnauthorized.
type Authorizer interface {
	Authorize(caller ids.ShortID, capability Capability) error
}

// SingleAdmin authorizes every capability for exactly one account.
type SingleAdmin struct {
	admin ids.ShortID
}

func NewSingleAdmin(admin ids.ShortID) *SingleAdmin {
	return &SingleAdmin{admin: admin}
}

func (a *SingleAdmin) Authorize(caller ids.ShortID, capability Capability) error {
	if caller != a.admin {
		return fmt.Errorf("%w: %s requires %s", ErrUnauthorized, caller, capability)
	}
	return nil
}
