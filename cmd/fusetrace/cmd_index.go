package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jingkaihe/fusebridge/internal/errx"
	"github.com/jingkaihe/fusebridge/pkg/trace"
)

var indexCmd = &cobra.Command{
	Use:   "index <trace>",
	Short: "Load a trace into a SQLite database",
	Long: `Load every frame of a trace into the "frames" table of a SQLite
database. Re-indexing a session replaces its rows.`,
	Args: cobra.ExactArgs(1),
	RunE: runIndex,
}

func init() {
	indexCmd.Flags().String("db", "", "Database path (default <trace>.db)")
	viper.BindPFlag("index.db", indexCmd.Flags().Lookup("db"))

	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	dbPath := viper.GetString("index.db")
	if dbPath == "" {
		dbPath = strings.TrimSuffix(args[0], ".trace") + ".db"
	}

	f, r, err := openTrace(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	db, err := trace.OpenIndex(dbPath)
	if err != nil {
		return errx.Wrap(ErrIndexTrace, err)
	}
	defer db.Close()

	n, err := trace.Index(cmd.Context(), db, r)
	if err != nil {
		return errx.Wrap(ErrIndexTrace, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d frames of session %s into %s\n", n, r.Header().Session, dbPath)
	return nil
}
