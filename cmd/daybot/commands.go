package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/daybot/internal/config"
	"github.com/kalambet/daybot/internal/storage"
)

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Send a chat message to daybot",
	Long: `Send a chat message to daybot.

Examples:
  daybot chat --owner me "schedule a run tomorrow at 7am"
  daybot chat --owner me "what do I have on friday?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		if owner == "" {
			return fmt.Errorf("--owner is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/chat", map[string]string{
			"owner": owner,
			"input": strings.Join(args, " "),
		})
		if err != nil {
			return err
		}

		var result map[string]any
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if isConflict, _ := result["isConflict"].(bool); isConflict {
			printWarning("schedule conflict")
		}
		if text, _ := result["text"].(string); text != "" {
			fmt.Println(text)
		}
		return nil
	},
}

// --- tasks ---

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List your tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		if owner == "" {
			return fmt.Errorf("--owner is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/tasks?owner="+owner)
		if err != nil {
			return err
		}

		var tasks []storage.Task
		if err := decodeJSON(resp, &tasks); err != nil {
			return err
		}

		if len(tasks) == 0 {
			fmt.Println("no tasks")
			return nil
		}
		for _, t := range tasks {
			line := fmt.Sprintf("%s  %s", colorize(colorBold, t.Title), t.ID)
			fmt.Println(line)
			if t.StartDate != "" || t.StartTime != "" {
				when := strings.TrimSpace(t.StartDate + " " + t.StartTime)
				if t.Daily {
					when = "daily at " + t.StartTime
				}
				fmt.Printf("    %s\n", when)
			}
		}
		return nil
	},
}

// --- messages ---

var messagesCmd = &cobra.Command{
	Use:   "messages",
	Short: "Show or clear the chat transcript",
}

var messagesListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show the chat transcript",
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		if owner == "" {
			return fmt.Errorf("--owner is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/messages?owner="+owner)
		if err != nil {
			return err
		}

		var msgs []storage.Message
		if err := decodeJSON(resp, &msgs); err != nil {
			return err
		}

		for _, m := range msgs {
			role := m.Role
			if role == storage.RoleBot {
				role = colorize(colorGreen, role)
			}
			fmt.Printf("%s: %s\n", role, m.Text)
		}
		return nil
	},
}

var messagesClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete the chat transcript",
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, _ := cmd.Flags().GetString("owner")
		if owner == "" {
			return fmt.Errorf("--owner is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/messages?owner="+owner)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Transcript cleared")
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	chatCmd.Flags().String("owner", "", "user key the message belongs to")
	tasksCmd.Flags().String("owner", "", "user key whose tasks to list")
	messagesListCmd.Flags().String("owner", "", "user key whose transcript to show")
	messagesClearCmd.Flags().String("owner", "", "user key whose transcript to clear")

	messagesCmd.AddCommand(messagesListCmd)
	messagesCmd.AddCommand(messagesClearCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
