package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/lanchat/lanchat/internal/cli/output"
	"github.com/lanchat/lanchat/internal/cli/prompt"
	"github.com/lanchat/lanchat/pkg/config"
	"github.com/lanchat/lanchat/pkg/store/user"
	"github.com/spf13/cobra"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "Manage chat accounts",
	Long: `Manage chat accounts directly in the server's data directory.

These commands operate on the account files on disk and are meant for
server-side administration. Run them on the host where the server stores
its data; password changes take effect on the next login.`,
}

var userListOutput string

var userListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List all accounts",
	RunE:    runUserList,
}

var userAddCmd = &cobra.Command{
	Use:   "add <login>",
	Short: "Add a new account (prompts for password and display name)",
	Args:  cobra.ExactArgs(1),
	RunE:  runUserAdd,
}

var userPasswdCmd = &cobra.Command{
	Use:     "passwd <login>",
	Aliases: []string{"password"},
	Short:   "Reset an account's password",
	Args:    cobra.ExactArgs(1),
	RunE:    runUserPasswd,
}

func init() {
	userListCmd.Flags().StringVarP(&userListOutput, "output", "o", "table", "Output format (table|json|yaml)")

	userCmd.AddCommand(userAddCmd)
	userCmd.AddCommand(userListCmd)
	userCmd.AddCommand(userPasswdCmd)
}

// openUserStore loads the config and opens the account store under its
// data directory.
func openUserStore() (*user.Store, error) {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	store, err := user.NewStore(filepath.Join(cfg.Storage.DataDir, "users"))
	if err != nil {
		return nil, err
	}
	return store, nil
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	login := args[0]

	store, err := openUserStore()
	if err != nil {
		return err
	}

	if store.Exists(login) {
		return fmt.Errorf("user %q already exists", login)
	}

	display, err := prompt.Input("Display name", login)
	if err != nil {
		return err
	}

	password, err := prompt.PasswordWithConfirmation("Password", "Confirm password", 1)
	if err != nil {
		return err
	}

	if err := store.Create(login, password, display); err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	fmt.Printf("User %q created\n", login)
	return nil
}

func runUserList(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(userListOutput)
	if err != nil {
		return err
	}

	store, err := openUserStore()
	if err != nil {
		return err
	}

	logins, err := store.List()
	if err != nil {
		return err
	}
	sort.Strings(logins)

	type userRow struct {
		Login       string `json:"login" yaml:"login"`
		DisplayName string `json:"display_name" yaml:"display_name"`
	}
	rows := make([]userRow, 0, len(logins))
	for _, login := range logins {
		acct, err := store.Get(login)
		if err != nil {
			// Skip unreadable account files but keep listing the rest
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
			continue
		}
		rows = append(rows, userRow{Login: acct.Login, DisplayName: acct.DisplayName})
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, rows)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, rows)
	default:
		if len(rows) == 0 {
			fmt.Println("No users")
			return nil
		}
		table := output.NewTable("LOGIN", "DISPLAY NAME")
		for _, r := range rows {
			table.AddRow(r.Login, r.DisplayName)
		}
		return table.Render(os.Stdout)
	}
}

func runUserPasswd(cmd *cobra.Command, args []string) error {
	login := args[0]

	store, err := openUserStore()
	if err != nil {
		return err
	}

	if !store.Exists(login) {
		return fmt.Errorf("user %q not found", login)
	}

	password, err := prompt.PasswordWithConfirmation("New password", "Confirm password", 1)
	if err != nil {
		return err
	}

	if err := store.ResetPassword(login, password); err != nil {
		return fmt.Errorf("failed to reset password: %w", err)
	}

	fmt.Printf("Password for %q updated\n", login)
	return nil
}
