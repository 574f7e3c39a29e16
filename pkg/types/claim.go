package types

import (
	"fmt"
	"strings"
)

// Claim is one row of the claim index. Many claims may share a Name; ClaimID
// is globally unique.
type Claim struct {
	Name          string  `json:"name"`
	ClaimID       string  `json:"claimId"`
	Height        int64   `json:"height"` // Registration height; lower is earlier.
	Amount        float64 `json:"amount"` // Stake used to rank claims under one name.
	CertificateID string  `json:"certificateId,omitempty"`
	Address       string  `json:"address,omitempty"`
}

// QualifiedName returns the "<name>#<claimId>" form understood by the
// content provider.
func QualifiedName(name, claimID string) string {
	return name + "#" + claimID
}

// ValidateKey reports whether name and claimID are usable as a lookup key.
// Neither part may be empty or contain '#', so QualifiedName is injective
// over valid keys.
func ValidateKey(name, claimID string) error {
	switch {
	case name == "":
		return ErrInvalidName
	case strings.Contains(name, "#"):
		return fmt.Errorf("%w: %q contains '#'", ErrInvalidName, name)
	case claimID == "":
		return ErrInvalidClaimID
	case strings.Contains(claimID, "#"):
		return fmt.Errorf("%w: %q contains '#'", ErrInvalidClaimID, claimID)
	}
	return nil
}
