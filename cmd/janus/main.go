package main

import (
	"os"

	"github.com/janus-ipc/janus/internal/logging"
)

func main() {
	logging.ConfigureRuntime()
	os.Exit(Execute())
}
