package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/deviation-watch/internal/cli"
	"github.com/Veraticus/deviation-watch/internal/common"
	"github.com/Veraticus/deviation-watch/internal/sheets"
)

func authCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authenticate with external services",
	}
	cmd.AddCommand(authSheetsCmd())
	return cmd
}

func authSheetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sheets",
		Short: "Authenticate with Google Sheets",
		Long: `Run the OAuth2 consent flow for Google Sheets and store the refresh token
in the config file. A saved token that is still usable is reused.`,
		RunE: runAuthSheets,
	}
	cmd.Flags().String("client-id", "", "OAuth2 client ID (overrides config)")
	cmd.Flags().String("client-secret", "", "OAuth2 client secret (overrides config)")
	cmd.Flags().String("callback", sheets.DefaultCallbackAddr, "Address the redirect listener binds to")
	cmd.Flags().Bool("force", false, "Ignore any saved token")
	return cmd
}

func runAuthSheets(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	clientID := firstNonEmpty(flagString(cmd, "client-id"), viper.GetString("sheets.client_id"), os.Getenv("GOOGLE_SHEETS_CLIENT_ID"))
	clientSecret := firstNonEmpty(flagString(cmd, "client-secret"), viper.GetString("sheets.client_secret"), os.Getenv("GOOGLE_SHEETS_CLIENT_SECRET"))
	if clientID == "" || clientSecret == "" {
		return common.NewUserError(
			"OAuth2 credentials not found: set sheets.client_id and sheets.client_secret or pass --client-id and --client-secret",
			common.ErrMissingConfig)
	}

	dir, err := configDir()
	if err != nil {
		return err
	}
	tokenFile := filepath.Join(dir, "sheets-token.json")
	if force, _ := cmd.Flags().GetBool("force"); force {
		if err := os.Remove(tokenFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove saved token: %w", err)
		}
	}

	common.LogDebug("Starting Google Sheets authentication", common.Fields{
		"token_file": tokenFile,
		"callback":   flagString(cmd, "callback"),
	})
	token, err := sheets.GetOrCreateToken(ctx, sheets.OAuth2Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenFile:    tokenFile,
		CallbackAddr: flagString(cmd, "callback"),
	})
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	out := cmd.OutOrStdout()
	viper.Set("sheets.refresh_token", token.RefreshToken)
	if err := saveConfig(); err != nil {
		common.LogWarn("Failed to update config file with refresh token", common.Fields{"error": err})
		_, _ = fmt.Fprintln(out, cli.FormatWarning("Could not save the refresh token. Add it to config.yaml:"))
		_, _ = fmt.Fprintf(out, "sheets:\n  refresh_token: %q\n", token.RefreshToken)
		return nil
	}
	_, _ = fmt.Fprintln(out, cli.FormatSuccess("Google Sheets is configured. Use 'devwatch run --sheets' to publish reports."))
	return nil
}

func saveConfig() error {
	configFile := viper.ConfigFileUsed()
	if configFile == "" {
		dir, err := configDir()
		if err != nil {
			return err
		}
		configFile = filepath.Join(dir, "config.yaml")
	}
	if err := os.MkdirAll(filepath.Dir(configFile), 0o750); err != nil {
		return err
	}
	return viper.WriteConfigAs(configFile)
}

func flagString(cmd *cobra.Command, name string) string {
	s, _ := cmd.Flags().GetString(name)
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
