package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/user/forwardmon/internal/store"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the persisted health state and configured mappings",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	statuses := st.IterHealthStatuses()
	subjects := make([]string, 0, len(statuses))
	for subject := range statuses {
		subjects = append(subjects, subject)
	}
	sort.Strings(subjects)
	if len(subjects) == 0 {
		fmt.Println("No health state recorded yet.")
	}
	for _, subject := range subjects {
		fmt.Printf("%-40s %s\n", subject, statuses[subject])
	}

	mappings, err := st.LoadMappings()
	if err != nil {
		return fmt.Errorf("load mappings: %w", err)
	}
	fmt.Printf("\n%d mapping(s) configured\n", len(mappings))
	for _, m := range mappings {
		state := "active"
		if !m.Active {
			state = "disabled"
		}
		fmt.Printf("  %s -> %s [%s, %s]\n", m.DiscordID, m.TelegramChatID, m.Mode, state)
	}
	return nil
}
