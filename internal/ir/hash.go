package ir

import (
	"crypto/sha256"
	"encoding/hex"
)

// Domain prefixes for payload digests.
// Version suffix enables future algorithm migration.
const (
	DomainTxState = "cpool/txstate/v1"
	DomainArgs    = "cpool/args/v1"
	DomainResult  = "cpool/result/v1"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// StateDigest identifies a serialized transaction state without storing it.
// Returns "" for a nil state so that "no state produced" stays visible.
func StateDigest(state Blob) string {
	if state == nil {
		return ""
	}
	return hashWithDomain(DomainTxState, state)
}

// ArgsDigest identifies an operation payload.
func ArgsDigest(args Blob) string {
	return hashWithDomain(DomainArgs, args)
}

// ResultDigest identifies a result payload. A failed call has no result
// and yields "".
func ResultDigest(result Blob) string {
	if result == nil {
		return ""
	}
	return hashWithDomain(DomainResult, result)
}
