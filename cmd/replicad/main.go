// Command replicad runs the cube sample: an authority spawning colored cubes and peers that mirror them.
package main

import (
	"os"

	"github.com/rs/zerolog/log"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("replicad failed")
		os.Exit(1)
	}
}
