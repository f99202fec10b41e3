package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	resetTables  bool
	resetUploads bool
	resetYes     bool
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset system state (run history, leftover uploads)",
	Long:  "Clears all data. By default, it resets everything. Use flags to clear specific components.",
	RunE: func(cmd *cobra.Command, args []string) error {
		// If no flags are set, default to clearing EVERYTHING
		if !resetTables && !resetUploads {
			resetTables = true
			resetUploads = true
		}

		reader := bufio.NewReader(os.Stdin)

		if resetTables {
			if resetYes || confirm(reader, "⚠️  Are you sure you want to DROP all database tables?") {
				db, err := openStore(cmd.Context(), true)
				if err != nil {
					return fail("Failed to open run history", err)
				}
				fmt.Println("🗑️  Clearing Database...")
				if err := db.Reset(cmd.Context()); err != nil {
					return fail("Failed to reset database", err)
				}
			}
		}

		if resetUploads {
			if resetYes || confirm(reader, fmt.Sprintf("⚠️  Are you sure you want to delete everything in %s?", cfg.Server.UploadDir)) {
				fmt.Println("🗑️  Clearing Uploads...")
				removeDir(cfg.Server.UploadDir)
			}
		}

		fmt.Println("✨ System Reset Complete.")
		return nil
	},
}

func init() {
	resetCmd.Flags().BoolVar(&resetTables, "tables", false, "Drop the PostgreSQL run history")
	resetCmd.Flags().BoolVar(&resetUploads, "uploads", false, "Delete leftover server uploads")
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "Do not ask for confirmation")
	rootCmd.AddCommand(resetCmd)
}

func confirm(r *bufio.Reader, prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	res, _ := r.ReadString('\n')
	res = strings.TrimSpace(strings.ToLower(res))
	return res == "y" || res == "yes"
}

func removeDir(path string) {
	if err := os.RemoveAll(path); err != nil {
		fmt.Fprintf(os.Stderr, "⚠️  Failed to remove %s: %v\n", path, err)
	}
}
