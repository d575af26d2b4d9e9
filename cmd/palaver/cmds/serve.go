package cmds

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/go-go-golems/palaver/pkg/config"
	"github.com/go-go-golems/palaver/pkg/repository"
	"github.com/go-go-golems/palaver/pkg/server"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the conversation persistence service",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := viper.BindPFlags(cmd.Flags()); err != nil {
				return err
			}
			settings, err := config.ServerSettingsFromViper(viper.GetViper())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			repo, err := repository.Open(ctx, settings.Database)
			if err != nil {
				return err
			}
			defer func() {
				if err := repo.Close(); err != nil {
					log.Warn().Err(err).Msg("could not close repository")
				}
			}()

			s := server.NewServer(repo, server.Settings{
				Listen:          settings.Listen,
				AllowedOrigins:  settings.AllowedOrigins,
				ShutdownTimeout: settings.ShutdownTimeout,
			})
			return s.Run(ctx)
		},
	}
	config.AddServerFlags(cmd.Flags())
	return cmd
}
