package cmds

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/charmbracelet/glamour"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	input "github.com/tcnksm/go-input"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/pandora/pkg/bot"
	"github.com/go-go-golems/pandora/pkg/chatgpt"
	"github.com/go-go-golems/pandora/pkg/events"
	"github.com/go-go-golems/pandora/pkg/tokens"
)

const version = "0.4.0"

var ChatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat session",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		render, _ := cmd.Flags().GetBool("render")

		store, closeStore, err := openTokenStore()
		if err != nil {
			return err
		}
		defer closeStore()

		client := chatgpt.NewClient(viper.GetString("api-prefix"), store)

		pubSub := gochannel.NewGoChannel(gochannel.Config{
			// deltas have to reach the terminal in publish order
			BlockPublishUntilSubscriberAck: true,
		}, watermill.NopLogger{})
		defer func(pubSub *gochannel.GoChannel) {
			if err := pubSub.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close pubsub")
			}
		}(pubSub)

		router, err := message.NewRouter(message.RouterConfig{}, watermill.NopLogger{})
		if err != nil {
			return err
		}
		router.AddNoPublisherHandler("chat-printer", "chat", pubSub,
			events.StepPrinterFunc("ChatGPT", os.Stdout))

		publisher := events.NewPublisherManager()
		publisher.SubscribePublisher("chat", pubSub)

		driver := bot.NewSessionDriver(client, publisher,
			bot.WithSessionWriter(os.Stdout),
			bot.WithSessionInput(os.Stdin),
			bot.WithSessionUI(&input.UI{Writer: os.Stdout, Reader: os.Stdin}),
			bot.WithSessionRenderer(newAssistantRenderer(render)),
			bot.WithVersion(version),
		)

		ctx, cancel := context.WithCancel(ctx)
		eg, ctx := errgroup.WithContext(ctx)
		eg.Go(func() error {
			return router.Run(ctx)
		})
		eg.Go(func() error {
			defer cancel()
			<-router.Running()
			return driver.Run(ctx)
		})

		err = eg.Wait()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	ChatCmd.Flags().Bool("render", false, "Render replayed assistant turns as markdown (tty only)")
}

func openTokenStore() (tokens.Store, func(), error) {
	if accessToken := viper.GetString("access-token"); accessToken != "" {
		return tokens.NewStaticStore(accessToken), func() {}, nil
	}

	dsn := viper.GetString("database")
	if dsn == "" {
		var err error
		dsn, err = tokens.DefaultDSN()
		if err != nil {
			return nil, nil, err
		}
	}

	store, err := tokens.NewSQLiteStore(dsn)
	if err != nil {
		return nil, nil, err
	}
	return store, func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close token store")
		}
	}, nil
}

// newAssistantRenderer returns a glamour markdown renderer when --render was
// given and stdout is a terminal, nil otherwise.
func newAssistantRenderer(render bool) func(string) (string, error) {
	if !render || !isatty.IsTerminal(os.Stdout.Fd()) {
		return nil
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(0),
	)
	if err != nil {
		log.Warn().Err(err).Msg("failed to build markdown renderer")
		return nil
	}
	return renderer.Render
}
