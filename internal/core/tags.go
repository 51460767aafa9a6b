package core

import "fmt"

// Transfer legs are correlated through a positional, versioned micro-format
// carried in a transaction's tags:
//
//	[0] format version ("v1")
//	[1] kind marker ("transfer" or "dps_transfer")
//	[2] shared correlator
//
// Unknown versions or malformed shapes are decode errors, never coerced.
const tagVersion = "v1"

type TransferKind string

const (
	KindTransfer    TransferKind = "transfer"
	KindDPSTransfer TransferKind = "dps_transfer"
)

// EncodeTransferTags builds the tag sequence for one transfer leg.
func EncodeTransferTags(kind TransferKind, correlator string) []string {
	return []string{tagVersion, string(kind), correlator}
}

// DecodeTransferTags extracts the kind and correlator from a leg's tags.
func DecodeTransferTags(tags []string) (TransferKind, string, error) {
	if len(tags) < 3 {
		return "", "", fmt.Errorf("%w: want 3 positions, got %d", ErrMalformedTags, len(tags))
	}
	if tags[0] != tagVersion {
		return "", "", fmt.Errorf("%w: unknown version %q", ErrMalformedTags, tags[0])
	}
	kind := TransferKind(tags[1])
	switch kind {
	case KindTransfer, KindDPSTransfer:
	default:
		return "", "", fmt.Errorf("%w: unknown kind %q", ErrMalformedTags, tags[1])
	}
	if tags[2] == "" {
		return "", "", fmt.Errorf("%w: empty correlator", ErrMalformedTags)
	}
	return kind, tags[2], nil
}

// IsTransferLeg reports whether the tags mark a transaction as one leg of a
// transfer. It only inspects the marker position; a true result does not
// guarantee the tags decode cleanly.
func IsTransferLeg(tags []string) bool {
	return len(tags) >= 2 && tags[0] == tagVersion &&
		(tags[1] == string(KindTransfer) || tags[1] == string(KindDPSTransfer))
}
