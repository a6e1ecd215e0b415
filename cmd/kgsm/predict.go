package main

import (
	"github.com/posener/complete"

	"github.com/TheKrystalShip/kgsm"
)

// instancePredictor and blueprintPredictor back kong-completion's shell
// completion for <instance>/<blueprint> positional args. Root is read
// straight from the still-unparsed CLI struct's default/env value rather
// than the Context built later in main, since shell completion runs before
// a full kgsm.Context would otherwise exist.
func instancePredictor(cli *CLI) complete.Predictor {
	return complete.PredictFunc(func(complete.Args) []string {
		dctx, err := kgsm.NewContext(cli.Root)
		if err != nil {
			return nil
		}
		defer dctx.Close()
		names, err := dctx.Registry.List("")
		if err != nil {
			return nil
		}
		return names
	})
}

func blueprintPredictor(cli *CLI) complete.Predictor {
	return complete.PredictFunc(func(complete.Args) []string {
		dctx, err := kgsm.NewContext(cli.Root)
		if err != nil {
			return nil
		}
		defer dctx.Close()
		names, err := dctx.Blueprints.List()
		if err != nil {
			return nil
		}
		return names
	})
}
