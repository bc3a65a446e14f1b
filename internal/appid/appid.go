// Package appid exposes the static identity of the dripgate binary.
package appid

import (
	"context"

	"github.com/fulmenhq/gofulmen/appidentity"
)

const (
	Vendor     = "dripgate"
	BinaryName = "dripgate"
	ConfigName = "dripgate"
	EnvPrefix  = "DRIPGATE_"
)

var identity = &appidentity.Identity{
	Vendor:      Vendor,
	BinaryName:  BinaryName,
	ConfigName:  ConfigName,
	EnvPrefix:   EnvPrefix,
	Description: "Abuse-control gateway for testnet token faucets",
}

// Get returns the dripgate identity. The context is accepted for parity with
// the gofulmen loader and is currently unused.
func Get(ctx context.Context) (*appidentity.Identity, error) {
	_ = ctx
	copied := *identity
	return &copied, nil
}
