package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ts4z/cyclepot/config"
	"github.com/ts4z/cyclepot/logger"
	"github.com/ts4z/cyclepot/urlpath"
)

func main() {
	config.Init()
	slog.SetDefault(logger.New(config.Verbose()))

	rootCmd := &cobra.Command{
		Short:        "cyclepot administration tool",
		Use:          "cyclepotadmin",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Check the current cycle and allocate if it has ended",
		RunE:  check,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "force-allocate",
		Short: "Allocate the prize pool now, ending the current cycle early",
		RunE:  forceAllocate,
	})

	cycleCmd := &cobra.Command{
		Use:   "cycle",
		Short: "Inspect or adjust the current cycle",
	}
	cycleCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the current cycle",
		RunE:  showCycle,
	}, &cobra.Command{
		Use:   "set-duration [days]",
		Short: "Change the cycle length, moving the current cycle's end (e.g. 7, 0.5, 1w, 36h)",
		Args:  cobra.ExactArgs(1),
		RunE:  setDuration,
	})
	rootCmd.AddCommand(cycleCmd)

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage allocation parameters",
	}
	setConfigCmd := &cobra.Command{
		Use:   "set",
		Short: "Change allocation parameters",
		RunE:  setConfig,
	}
	setConfigCmd.Flags().Float64Var(&configDays, "days", 7, "Cycle length in days")
	setConfigCmd.Flags().IntVar(&configWinners, "winners", 3, "Number of winners paid (1-10)")
	setConfigCmd.Flags().IntVar(&configFee, "fee", 0, "Operator fee in basis points")
	configCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show allocation parameters",
		RunE:  showConfig,
	}, setConfigCmd)
	rootCmd.AddCommand(configCmd)

	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List completed cycles",
		RunE:  listHistory,
	}
	historyCmd.Flags().IntVar(&historyOffset, "offset", 0, "Skip this many cycles")
	historyCmd.Flags().IntVar(&historyLimit, "limit", urlpath.DefaultLimit, "Show at most this many cycles")
	historyCmd.AddCommand(&cobra.Command{
		Use:   "show [cycle]",
		Short: "Show one completed cycle and its winners",
		Args:  cobra.ExactArgs(1),
		RunE:  showHistory,
	}, &cobra.Command{
		Use:   "export [cycle]",
		Short: "Write a completed cycle's final leaderboard as CSV",
		Args:  cobra.ExactArgs(1),
		RunE:  exportHistory,
	})
	rootCmd.AddCommand(historyCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "pool",
		Short: "Show the prize pool held by the contract",
		RunE:  showPool,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "hash-password",
		Short: "Hash an admin password for ADMIN_PASSWORD_HASH",
		RunE:  hashPassword,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "generate-cookie-keys",
		Short: "Generate COOKIE_HASH_KEY and COOKIE_BLOCK_KEY values",
		RunE:  generateCookieKeys,
	})

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE:  migrate,
	}
	migrateCmd.Flags().BoolVar(&migrateStatusOnly, "status", false, "Only report which migrations are applied")
	rootCmd.AddCommand(migrateCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
