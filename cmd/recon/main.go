// Command recon is the operator CLI of the reconciliation engine.
//
//	recon infer    --sources sources.yaml --out schema_registry.json
//	recon clean    [--load] [source...]
//	recon load     [source...]
//	recon generate --fields portal:customer_name;bank:rrn --from 2024-01-01 --to 2024-01-31
//	recon run      --best-match --out reports/
//
// Settings come from the environment (and .env) like the server; flags
// override them. Only load, run and clean --load need DATABASE_URL.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, formatError(err))
		os.Exit(1)
	}
}
