package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/agromarket/agro-bot/internal/config"
	"github.com/agromarket/agro-bot/internal/db"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "agrobot",
		Short: "Agro marketplace Telegram bot",
		Long: `agrobot connects farmers, buyers and logistics operators on Telegram.

Run without arguments to start the bot. Configuration comes from the YAML
file named by CONFIG_FILE, a .env file and environment variables, in
increasing order of precedence.`,
		SilenceUsage: true,
		RunE:         runBot,
	}

	root.AddCommand(newRunCmd(), newMigrateCmd(), newUserCmd(), newLotCmd())
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openStore loads the configuration and opens the database. Maintenance
// commands do not need a bot token, so the config is not validated here.
func openStore() (*config.Config, *db.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	store, err := db.New(cfg.DBFile)
	if err != nil {
		return nil, nil, err
	}
	return cfg, store, nil
}
