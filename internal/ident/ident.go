// Package ident packs (agent, profile, order kind) into the numeric tag
// attached to every venue order, so venue-reported orders can be correlated
// back to their logical operation without any venue-side metadata.
package ident

import (
	"errors"
	"fmt"
)

var ErrInvalidArgument = errors.New("ident: invalid argument")

// Kind distinguishes the two legs of a paired entry.
type Kind int

const (
	KindMarket  Kind = 1
	KindPending Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindMarket:
		return "market"
	case KindPending:
		return "pending"
	default:
		return "unknown"
	}
}

func (k Kind) Valid() bool { return k == KindMarket || k == KindPending }

// Identifier is the decimal-packed tag: agent*10000 + profile*100 + kind.
// Agent and profile each occupy two decimal digits.
type Identifier uint32

const (
	minField = 1
	maxField = 99
)

// Encode builds the tag. Agent and profile must be in [1,99].
func Encode(agent, profile int, kind Kind) (Identifier, error) {
	if agent < minField || agent > maxField {
		return 0, fmt.Errorf("%w: agent=%d out of range [%d,%d]", ErrInvalidArgument, agent, minField, maxField)
	}
	if profile < minField || profile > maxField {
		return 0, fmt.Errorf("%w: profile=%d out of range [%d,%d]", ErrInvalidArgument, profile, minField, maxField)
	}
	if !kind.Valid() {
		return 0, fmt.Errorf("%w: kind=%d", ErrInvalidArgument, int(kind))
	}
	return Identifier(agent*10000 + profile*100 + int(kind)), nil
}

// Decode is the exact inverse of Encode.
func Decode(id Identifier) (agent, profile int, kind Kind, err error) {
	n := int(id)
	kind = Kind(n % 100)
	profile = (n / 100) % 100
	agent = n / 10000
	if agent < minField || agent > maxField || profile < minField || profile > maxField || !kind.Valid() {
		return 0, 0, 0, fmt.Errorf("%w: malformed identifier %d", ErrInvalidArgument, n)
	}
	return agent, profile, kind, nil
}

// Sibling returns the identifier of the other leg of the same operation.
func Sibling(id Identifier) (Identifier, error) {
	agent, profile, kind, err := Decode(id)
	if err != nil {
		return 0, err
	}
	other := KindPending
	if kind == KindPending {
		other = KindMarket
	}
	return Encode(agent, profile, other)
}
