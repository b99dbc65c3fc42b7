package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/lanchat/lanchat/internal/cli/output"
	"github.com/lanchat/lanchat/pkg/config"
	"github.com/lanchat/lanchat/pkg/store/group"
	"github.com/spf13/cobra"
)

var groupCmd = &cobra.Command{
	Use:   "group",
	Short: "Inspect chat groups",
	Long: `Inspect the chat groups stored in the server's data directory.

Groups are created by clients over the wire protocol; these commands are
read-only server-side tooling.`,
}

var groupListOutput string

var groupListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List all groups with their multicast endpoints",
	RunE:    runGroupList,
}

var groupMembersCmd = &cobra.Command{
	Use:   "members <name>",
	Short: "List the members of a group",
	Args:  cobra.ExactArgs(1),
	RunE:  runGroupMembers,
}

func init() {
	groupListCmd.Flags().StringVarP(&groupListOutput, "output", "o", "table", "Output format (table|json|yaml)")

	groupCmd.AddCommand(groupListCmd)
	groupCmd.AddCommand(groupMembersCmd)
}

func openGroupStore() (*group.Store, error) {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	store, err := group.NewStore(filepath.Join(cfg.Storage.DataDir, "groups"))
	if err != nil {
		return nil, err
	}
	return store, nil
}

func runGroupList(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(groupListOutput)
	if err != nil {
		return err
	}

	store, err := openGroupStore()
	if err != nil {
		return err
	}

	names, err := store.List()
	if err != nil {
		return err
	}
	sort.Strings(names)

	type groupRow struct {
		Name      string `json:"name" yaml:"name"`
		McastAddr string `json:"mcast_addr" yaml:"mcast_addr"`
		McastPort uint16 `json:"mcast_port" yaml:"mcast_port"`
		Members   int    `json:"members" yaml:"members"`
	}
	rows := make([]groupRow, 0, len(names))
	for _, name := range names {
		info, err := store.GetInfo(name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
			continue
		}
		members, err := store.Members(name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
			continue
		}
		rows = append(rows, groupRow{
			Name:      info.Name,
			McastAddr: info.McastAddr,
			McastPort: info.McastPort,
			Members:   len(members),
		})
	}

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, rows)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, rows)
	default:
		if len(rows) == 0 {
			fmt.Println("No groups")
			return nil
		}
		table := output.NewTable("NAME", "MULTICAST", "MEMBERS")
		for _, r := range rows {
			table.AddRow(r.Name, r.McastAddr+":"+strconv.Itoa(int(r.McastPort)), strconv.Itoa(r.Members))
		}
		return table.Render(os.Stdout)
	}
}

func runGroupMembers(cmd *cobra.Command, args []string) error {
	store, err := openGroupStore()
	if err != nil {
		return err
	}

	members, err := store.Members(args[0])
	if err != nil {
		return err
	}
	sort.Strings(members)

	for _, m := range members {
		fmt.Println(m)
	}
	return nil
}
