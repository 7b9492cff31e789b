// Package programs ships the example programs.
package programs

import _ "embed"

// Auction is the sealed-bid auction program.
//
//go:embed auction.yaml
var Auction []byte
