package cmd

import (
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/DevEngageLab/mtpush-sdk/internal/core/auth"
	"github.com/DevEngageLab/mtpush-sdk/internal/core/config"
)

var apikeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage collector API keys",
}

var apikeyIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a new API key for an app",
	RunE:  runAPIKeyIssue,
}

var apikeyRevokeCmd = &cobra.Command{
	Use:   "revoke <key-id>",
	Short: "Revoke an API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keys, closeDB, err := openKeys()
		if err != nil {
			return err
		}
		defer closeDB()
		if err := keys.Revoke(args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "revoked %s\n", args[0])
		return nil
	},
}

var apikeyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the API keys of an app",
	RunE: func(cmd *cobra.Command, args []string) error {
		appID, _ := cmd.Flags().GetString("app")
		keys, closeDB, err := openKeys()
		if err != nil {
			return err
		}
		defer closeDB()

		infos, err := keys.List(appID)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSECRET\tCREATED\tREVOKED")
		for _, k := range infos {
			revoked := "-"
			if k.RevokedAt.Valid {
				revoked = k.RevokedAt.Time.Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", k.ID, k.Name, k.SecretID, k.CreatedAt, revoked)
		}
		return w.Flush()
	},
}

func init() {
	apikeyIssueCmd.Flags().String("app", "", "app id the key authenticates as")
	apikeyIssueCmd.Flags().String("name", "", "human-readable key name")
	apikeyIssueCmd.Flags().String("secret-id", "", "HMAC secret id to sign under (defaults to the only configured secret)")
	apikeyIssueCmd.MarkFlagRequired("app")
	apikeyListCmd.Flags().String("app", "", "app id")
	apikeyListCmd.MarkFlagRequired("app")

	apikeyCmd.AddCommand(apikeyIssueCmd, apikeyRevokeCmd, apikeyListCmd)
	rootCmd.AddCommand(apikeyCmd)
}

func runAPIKeyIssue(cmd *cobra.Command, args []string) error {
	appID, _ := cmd.Flags().GetString("app")
	name, _ := cmd.Flags().GetString("name")
	secretID, _ := cmd.Flags().GetString("secret-id")

	secrets, err := config.HMACSecrets()
	if err != nil {
		return errors.Wrap(err, "failed to load HMAC secrets")
	}
	if secretID == "" {
		ids := make([]string, 0, len(secrets))
		for id := range secrets {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		if len(ids) != 1 {
			return errors.Errorf("--secret-id required (configured: %v)", ids)
		}
		secretID = ids[0]
	}

	keys, closeDB, err := openKeys()
	if err != nil {
		return err
	}
	defer closeDB()

	key, id, err := keys.Issue(appID, name, secretID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "id:  %s\nkey: %s\n", id, key)
	return nil
}

func openKeys() (*auth.Keys, func(), error) {
	secrets, err := config.HMACSecrets()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load HMAC secrets")
	}
	database, queries, err := openCollectorDatabase()
	if err != nil {
		return nil, nil, err
	}
	return auth.NewKeys(secrets, queries), func() { database.Close() }, nil
}
