package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"studentsupport/backend/internal/config"
	"studentsupport/backend/internal/identity"
	"studentsupport/backend/internal/models"
	"studentsupport/backend/internal/notification"
	"studentsupport/backend/internal/settings"
	"studentsupport/backend/internal/storage"

	"github.com/spf13/cobra"
)

var (
	configPath      string
	settingCategory string
	tokenSubject    string
	tokenEmail      string
	tokenName       string
	tokenTTL        time.Duration

	cfg   *config.Config
	store storage.Storage

	rootCmd = &cobra.Command{
		Use:          "admin",
		Short:        "Operator tooling for the student support backend",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}
			if cmd.Name() == "token" {
				return nil
			}
			db, err := storage.Open(cfg.Storage.Driver, cfg.DatabaseURL, cfg.Storage.SQLitePath)
			if err != nil {
				return err
			}
			store = storage.NewStorageService(db)
			return nil
		},
	}

	setRoleCmd = &cobra.Command{
		Use:   "set-role <user-id|email> <role>",
		Short: "Change a user's role (STUDENT, STAFF, ADMIN)",
		Args:  cobra.ExactArgs(2),
		RunE:  runSetRole,
	}

	setSettingCmd = &cobra.Command{
		Use:   "set-setting <key> <json-value>",
		Short: "Write a setting, e.g. set-setting max_upload_mb 20",
		Args:  cobra.ExactArgs(2),
		RunE:  runSetSetting,
	}

	tokenCmd = &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for local testing",
		RunE:  runToken,
	}

	purgeCmd = &cobra.Command{
		Use:   "purge-notifications",
		Short: "Delete read notifications older than the configured retention",
		Args:  cobra.NoArgs,
		RunE:  runPurge,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to the config file")

	setSettingCmd.Flags().StringVar(&settingCategory, "category", "", "category stored with the setting")

	tokenCmd.Flags().StringVar(&tokenSubject, "sub", "", "external identity (JWT subject)")
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "", "email claim")
	tokenCmd.Flags().StringVar(&tokenName, "name", "", "display name claim")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
	_ = tokenCmd.MarkFlagRequired("sub")

	rootCmd.AddCommand(setRoleCmd, setSettingCmd, tokenCmd, purgeCmd)
}

func runSetRole(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	userID := args[0]
	if strings.Contains(userID, "@") {
		u, err := store.GetUserByEmail(ctx, strings.ToLower(userID))
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("no user with email %s", userID)
			}
			return err
		}
		userID = u.ID
	}
	u, err := identity.NewUsers(store).SetRole(ctx, nil, userID, models.Role(strings.ToUpper(args[1])))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) is now %s\n", u.Name, u.Email, u.Role)
	return nil
}

func runSetSetting(cmd *cobra.Command, args []string) error {
	raw := json.RawMessage(args[1])
	if !json.Valid(raw) {
		return fmt.Errorf("value must be JSON, e.g. 20 or '[\"Academic\"]'")
	}
	// The server caches settings in redis; writes here bypass it until the TTL runs out.
	st, err := settings.NewService(store, nil, 0).Set(cmd.Context(), nil, args[0], raw, settingCategory)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", st.Key, string(st.Value))
	return nil
}

func runToken(cmd *cobra.Command, _ []string) error {
	auth := identity.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	tok, err := auth.Issue(identity.Principal{ExternalID: tokenSubject, Email: tokenEmail, Name: tokenName}, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), tok)
	return nil
}

func runPurge(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	retention, err := settings.NewService(store, nil, 0).NotificationRetention(ctx)
	if err != nil {
		return err
	}
	n, err := notification.NewDispatcher(store, nil, nil).Purge(ctx, retention)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "purged %d read notifications older than %s\n", n, retention)
	return nil
}
