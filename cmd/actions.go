package cmd

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/AlecAivazis/survey/v2"
	"go.dedis.ch/secretcompute/program"
)

// errExit ends the prompt loop.
var errExit = errors.New("exit")

// -----------------------------------------------------------------------------
// CMD Prompt

var actionOpts = []string{
	"🦑 Run auction",
	"🐋 Show balance",
	"🐊 Show identity",
	"🍃 Exit",
}

var actions = map[string]func(context.Context, *Network, program.Source) error{
	actionOpts[0]: runAuction,
	actionOpts[1]: showBalance,
	actionOpts[2]: showIdentity,
	actionOpts[3]: exit,
}

// StartCMD runs the interactive prompt until the user exits or ctx is done.
func StartCMD(ctx context.Context, n *Network, src program.Source) {
	prompt := &survey.Select{
		Message: "What do you want to do ?",
		Options: actionOpts,
	}

	var action string
	for {
		if ctx.Err() != nil {
			return
		}

		err := survey.AskOne(prompt, &action)
		if err != nil {
			printError(err)
			return
		}

		method := actions[action]
		err = method(ctx, n, src)
		if errors.Is(err, errExit) {
			return
		}
		if err != nil {
			printError(err)
		}
	}
}

// -----------------------------------------------------------------------------
// CMD Actions

func runAuction(ctx context.Context, n *Network, src program.Source) error {
	_, m, err := src.LoadManifest()
	if err != nil {
		return err
	}

	a := Auction{Source: src, Inputs: map[string][]string{}}
	for _, in := range m.Inputs {
		var raw string
		question := &survey.Input{
			Message: fmt.Sprintf("%s, enter %s (%s):", in.Party, in.Name, in.Type),
		}
		err := survey.AskOne(question, &raw, survey.WithValidator(func(ans interface{}) error {
			if !in.Type.IsInteger() {
				return nil
			}
			s, _ := ans.(string)
			if _, ok := new(big.Int).SetString(s, 10); !ok {
				return fmt.Errorf("%q is not an integer", s)
			}
			return nil
		}))
		if err != nil {
			return err
		}
		a.Inputs[in.Party] = append(a.Inputs[in.Party], in.Name+"="+raw)
	}

	ev, err := a.Run(ctx, n)
	if err != nil {
		return err
	}
	PrintResult(ev)
	return nil
}

func showBalance(ctx context.Context, n *Network, _ program.Source) error {
	addr, err := walletAddress(n.Conf)
	if err != nil {
		return err
	}

	info, err := n.Ledger.Account(ctx, addr)
	if err != nil {
		return err
	}
	fmt.Printf("%s has %d (nonce %d)\n", addr, info.Balance, info.Nonce)
	return nil
}

func showIdentity(_ context.Context, n *Network, _ program.Source) error {
	id, err := Identity(n.Conf)
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func exit(context.Context, *Network, program.Source) error {
	return errExit
}
