// Package types defines the claim and asset entities, the ClaimIndex,
// AssetCache and ContentProvider contracts, configuration, and the standard
// errors shared by every speech backend.
package types
