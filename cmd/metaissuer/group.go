package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/capiscio/meta-issuer/pkg/catalog"
	"github.com/capiscio/meta-issuer/pkg/groups"
	"github.com/capiscio/meta-issuer/pkg/principal"
)

var (
	groupOwner string
	groupArgs  string
	groupSetTo string
)

var groupCmd = &cobra.Command{
	Use:   "group",
	Short: "Manage groups over the issuer API",
}

var groupAddCmd = &cobra.Command{
	Use:   "add NAME",
	Short: "Create a group owned by the caller",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		data, err := c.AddGroup(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), data)
	},
}

var groupGetCmd = &cobra.Command{
	Use:   "get NAME",
	Short: "Show a caller-owned group with its members",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		data, err := c.GetGroup(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), data)
	},
}

var groupListCmd = &cobra.Command{
	Use:   "list [SUBSTRING]",
	Short: "List groups",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		var substring string
		if len(args) == 1 {
			substring = args[0]
		}
		data, err := c.ListGroups(cmd.Context(), substring)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), data)
	},
}

var groupJoinCmd = &cobra.Command{
	Use:   "join NAME",
	Short: "Ask to join a group",
	Example: `  metaissuer group join "Verified Age" --key me.jwk \
    --owner did:key:z6Mk... --args '{"ageAtLeast":{"Int":21}}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, err := principal.Parse(groupOwner)
		if err != nil {
			return fmt.Errorf("--owner: %w", err)
		}
		req := groups.JoinRequest{GroupName: args[0], Owner: owner}
		if groupArgs != "" {
			var vcArgs catalog.Arguments
			if err := json.Unmarshal([]byte(groupArgs), &vcArgs); err != nil {
				return fmt.Errorf("--args: %w", err)
			}
			req.Arguments = vcArgs
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		return c.JoinGroup(cmd.Context(), req)
	},
}

var groupSetStatusCmd = &cobra.Command{
	Use:   "set-status NAME MEMBER",
	Short: "Change a member's status in a caller-owned group",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		member, err := principal.Parse(args[1])
		if err != nil {
			return err
		}
		status := groups.Status(groupSetTo)
		if !status.Valid() {
			return fmt.Errorf("--status: unknown status %q", groupSetTo)
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		return c.UpdateMembership(cmd.Context(), args[0], []groups.MembershipUpdate{{Member: member, NewStatus: status}})
	},
}

var groupTypesCmd = &cobra.Command{
	Use:   "types",
	Short: "List the supported group types",
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		types, err := c.GroupTypes(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), types)
	},
}

func init() {
	rootCmd.AddCommand(groupCmd)
	groupCmd.AddCommand(groupAddCmd, groupGetCmd, groupListCmd, groupJoinCmd, groupSetStatusCmd, groupTypesCmd)
	addClientFlags(groupCmd)

	groupJoinCmd.Flags().StringVar(&groupOwner, "owner", "", "Group owner identity")
	groupJoinCmd.Flags().StringVar(&groupArgs, "args", "", "Credential arguments (JSON)")
	groupSetStatusCmd.Flags().StringVar(&groupSetTo, "status", string(groups.Accepted), "New membership status")
}
