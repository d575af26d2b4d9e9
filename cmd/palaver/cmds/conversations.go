package cmds

import (
	"fmt"
	"text/tabwriter"

	"github.com/go-go-golems/palaver/pkg/config"
	"github.com/go-go-golems/palaver/pkg/conversation"
	"github.com/go-go-golems/palaver/pkg/identity"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func NewConversationsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conversations",
		Short: "Inspect stored conversations",
	}
	cmd.AddCommand(
		newConversationsListCommand(),
		newConversationsExportCommand(),
		newConversationsShowCommand(),
	)
	return cmd
}

func listStored(cmd *cobra.Command) ([]*conversation.Conversation, error) {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	settings, err := config.ClientSettingsFromViper(viper.GetViper())
	if err != nil {
		return nil, err
	}
	if settings.Mode != config.ModeRemote {
		return nil, errors.New("stored conversations only exist in remote mode, pass --mode remote")
	}
	id, err := identity.Parse(settings.User)
	if err != nil {
		return nil, errors.Wrap(err, "--user is required")
	}
	b, err := settings.BackendFactory()(id)
	if err != nil {
		return nil, err
	}
	list, err := b.List(cmd.Context())
	if err != nil {
		return nil, err
	}
	for _, c := range list {
		c.Title = conversation.TitleFromMessages(c.Messages)
	}
	return list, nil
}

func newConversationsListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's stored conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := listStored(cmd)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tMESSAGES\tCREATED")
			for _, c := range list {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", c.ID, c.Title, len(c.Messages), c.CreatedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}
	config.AddClientFlags(cmd.Flags())
	return cmd
}

func newConversationsExportCommand() *cobra.Command {
	var format, output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a user's stored conversations as YAML or JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := conversation.ParseTranscriptFormat(format)
			if err != nil {
				return err
			}
			list, err := listStored(cmd)
			if err != nil {
				return err
			}
			if output != "" {
				return conversation.SaveTranscript(output, list)
			}
			return conversation.WriteTranscript(cmd.OutOrStdout(), f, list)
		},
	}
	config.AddClientFlags(cmd.Flags())
	cmd.Flags().StringVar(&format, "format", "yaml", "Output format (yaml, json)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write to file instead of stdout (format from extension)")
	return cmd
}

func newConversationsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <file>",
		Short: "Print the conversations of an exported transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := conversation.LoadTranscript(args[0])
			if err != nil {
				return errors.Wrapf(err, "could not load %s", args[0])
			}
			out := cmd.OutOrStdout()
			for _, c := range list {
				fmt.Fprintf(out, "== %s (%s) ==\n", c.Title, c.ID)
				for _, m := range c.Messages {
					fmt.Fprintln(out, m.String())
				}
			}
			return nil
		},
	}
}
