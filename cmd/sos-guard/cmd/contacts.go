package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/oshokin/sos-guard/internal/adapter/contacts"
	"github.com/oshokin/sos-guard/internal/config"
	"github.com/oshokin/sos-guard/internal/domain/sos"
)

var (
	// contactsCmd groups the emergency contact subcommands.
	contactsCmd = &cobra.Command{
		Use:   "contacts",
		Short: "Manage emergency contacts.",
	}

	contactsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List emergency contacts.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := contactStore()
			if err != nil {
				return err
			}

			list, err := store.List(cmd.Context())
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "NAME\tPHONE")

			for _, c := range list {
				_, _ = fmt.Fprintf(tw, "%s\t%s\n", c.Name, c.Phone)
			}

			return tw.Flush()
		},
	}

	contactsAddCmd = &cobra.Command{
		Use:   "add <name> <phone>",
		Short: "Add or replace an emergency contact.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := contactStore()
			if err != nil {
				return err
			}

			return store.Add(cmd.Context(), sos.Contact{Name: args[0], Phone: args[1]})
		},
	}

	contactsRemoveCmd = &cobra.Command{
		Use:   "remove <phone>",
		Short: "Remove an emergency contact.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := contactStore()
			if err != nil {
				return err
			}

			return store.Remove(cmd.Context(), args[0])
		},
	}
)

func contactStore() (*contacts.FileStore, error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, err
	}

	return contacts.NewFileStore(cfg.ContactsFile), nil
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	contactsCmd.AddCommand(contactsListCmd, contactsAddCmd, contactsRemoveCmd)
}
