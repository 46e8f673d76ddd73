package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"lexvault/internal/domain"
)

var consentVersion string

func init() {
	consentGrantCmd.Flags().StringVar(&consentVersion, "version", "1.0", "version of the consent text the user agreed to")

	consentCmd.AddCommand(consentGrantCmd)
	consentCmd.AddCommand(consentRevokeCmd)
	consentCmd.AddCommand(consentListCmd)
}

var consentCmd = &cobra.Command{
	Use:   "consent",
	Short: "Record and inspect user consent",
}

var consentGrantCmd = &cobra.Command{
	Use:   "grant <user-id> <type>",
	Short: "Record a consent grant",
	Long: `Grant records that the user consented to a processing purpose.

Valid types: data_processing, encryption, ai_processing, marketing`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := parseUserID(args[0])
		if err != nil {
			return err
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.consent.Grant(cmd.Context(), userID, domain.ConsentType(args[1]), consentVersion)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render(fmt.Sprintf("granted %s (v%s) for user %d", rec.ConsentType, rec.Version, userID)))
		return nil
	},
}

var consentRevokeCmd = &cobra.Command{
	Use:   "revoke <user-id> <type>",
	Short: "Revoke an active consent",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := parseUserID(args[0])
		if err != nil {
			return err
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.consent.Revoke(cmd.Context(), userID, domain.ConsentType(args[1])); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render(fmt.Sprintf("revoked %s for user %d", args[1], userID)))
		return nil
	},
}

var consentListCmd = &cobra.Command{
	Use:   "list <user-id>",
	Short: "Show a user's consent history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := parseUserID(args[0])
		if err != nil {
			return err
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		records, err := a.consent.List(cmd.Context(), userID)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("Consent history for user %d", userID)))
		if len(records) == 0 {
			fmt.Fprintln(out, dimStyle.Render("  no consent recorded"))
			return nil
		}
		for _, r := range records {
			line := fmt.Sprintf("%-16s v%-5s active=%s  created %s", r.ConsentType, r.Version, yesNo(r.Active()), r.CreatedAt.Format("2006-01-02 15:04"))
			if r.RevokedAt != nil {
				line += dimStyle.Render("  revoked " + r.RevokedAt.Format("2006-01-02 15:04"))
			}
			fmt.Fprintln(out, "  "+line)
		}
		return nil
	},
}
