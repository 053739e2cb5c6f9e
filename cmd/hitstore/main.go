package main

import (
	"context"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/roniherschmann/go-hitstore/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		log.Error().Err(err).Msg("hitstore")
		os.Exit(1)
	}
}
