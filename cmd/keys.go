package cmd

import (
	"fmt"

	"go.dedis.ch/secretcompute/config"
	"go.dedis.ch/secretcompute/keys"
	"go.dedis.ch/secretcompute/mpcerr"
)

// Identity describes the public identity of conf: user id, party id and the
// address it pays from.
func Identity(conf config.Config) (string, error) {
	if conf.Seed == "" {
		return "", mpcerr.New(mpcerr.Config, mpcerr.OpLoad, mpcerr.ErrConfig, "seed is not set").WithField("seed")
	}

	kp, err := keys.Derive(conf.Seed)
	if err != nil {
		return "", err
	}
	addr, err := walletAddress(conf)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("user:    %s\nparty:   %s\naddress: %s",
		kp.Network().UserID(), kp.Network().PartyID(), addr), nil
}
