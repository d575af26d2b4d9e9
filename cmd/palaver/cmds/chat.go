package cmds

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-go-golems/palaver/pkg/chat"
	"github.com/go-go-golems/palaver/pkg/config"
	"github.com/go-go-golems/palaver/pkg/identity"
	"github.com/go-go-golems/palaver/pkg/session"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// defaultLocalUser signs in ephemeral sessions that did not name a user.
const defaultLocalUser = "local"

func NewChatCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			settings, err := config.ClientSettingsFromViper(viper.GetViper())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			repl, closeEvents, err := buildREPL(ctx, settings)
			if err != nil {
				return err
			}
			defer closeEvents()

			return repl.Run(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	config.AddClientFlags(cmd.Flags())
	return cmd
}

func buildREPL(ctx context.Context, settings *config.ClientSettings) (*REPL, func(), error) {
	generator, err := settings.Generator()
	if err != nil {
		return nil, nil, err
	}

	pubSub := session.NewEventPubSub()
	events, err := pubSub.Subscribe(ctx, session.DefaultTopic)
	if err != nil {
		_ = pubSub.Close()
		return nil, nil, errors.Wrap(err, "could not subscribe to session events")
	}
	go func() {
		for msg := range events {
			if e, err := session.ParseEvent(msg); err == nil {
				log.Debug().
					Str("event", string(e.Type)).
					Str("conversation_id", e.ConversationID.String()).
					Msg("session event")
			}
			msg.Ack()
		}
	}()

	store := session.NewStore(nil, session.WithPublisher(pubSub, session.DefaultTopic))
	tracker := identity.NewTracker(store, settings.BackendFactory())

	user := settings.User
	if user == "" && settings.Mode == config.ModeEphemeral {
		user = defaultLocalUser
	}
	if user != "" {
		id, err := identity.Parse(user)
		if err != nil {
			_ = pubSub.Close()
			return nil, nil, err
		}
		if _, err := tracker.Set(ctx, id); err != nil {
			_ = pubSub.Close()
			return nil, nil, err
		}
	}

	runner := chat.NewRunner(store, generator)
	return NewREPL(store, runner, tracker), func() { _ = pubSub.Close() }, nil
}
