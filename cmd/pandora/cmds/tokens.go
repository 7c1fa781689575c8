package cmds

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/pandora/pkg/tokens"
)

var TokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "Manage stored access tokens",
}

var tokensListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored token keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeStore, err := openSQLiteTokenStore()
		if err != nil {
			return err
		}
		defer closeStore()

		keys, err := store.Keys(cmd.Context())
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			fmt.Println("No access tokens stored.")
			return nil
		}
		for _, key := range keys {
			fmt.Println(key)
		}
		return nil
	},
}

var tokensSetCmd = &cobra.Command{
	Use:   "set <key> <access-token>",
	Short: "Store an access token under a key",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeStore, err := openSQLiteTokenStore()
		if err != nil {
			return err
		}
		defer closeStore()

		return store.Put(cmd.Context(), args[0], args[1])
	},
}

var tokensRmCmd = &cobra.Command{
	Use:   "rm <key>",
	Short: "Delete a stored access token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, closeStore, err := openSQLiteTokenStore()
		if err != nil {
			return err
		}
		defer closeStore()

		return store.Delete(cmd.Context(), args[0])
	},
}

func openSQLiteTokenStore() (*tokens.SQLiteStore, func(), error) {
	dsn := viper.GetString("database")
	if dsn == "" {
		var err error
		dsn, err = tokens.DefaultDSN()
		if err != nil {
			return nil, nil, errors.Wrap(err, "resolving token database path")
		}
	}

	store, err := tokens.NewSQLiteStore(dsn)
	if err != nil {
		return nil, nil, err
	}
	return store, func() {
		_ = store.Close()
	}, nil
}

func init() {
	TokensCmd.AddCommand(tokensListCmd)
	TokensCmd.AddCommand(tokensSetCmd)
	TokensCmd.AddCommand(tokensRmCmd)
}
