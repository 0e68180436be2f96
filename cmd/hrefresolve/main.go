// Command hrefresolve fetches, inspects and proxies the resources behind SVG
// image hrefs.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	a := newApp(os.Stdout, os.Stderr, afero.NewOsFs())
	err := a.execute(ctx, os.Args[1:])
	stop()
	if err != nil {
		os.Exit(1)
	}
}
