package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"lexvault/internal/domain"
)

var (
	auditUser  string
	auditType  string
	auditLimit int
)

func init() {
	auditListCmd.Flags().StringVar(&auditUser, "user", "", "only entries for this user id")
	auditListCmd.Flags().StringVar(&auditType, "type", "", "only entries of this event type, e.g. gdpr.erasure")
	auditListCmd.Flags().IntVar(&auditLimit, "limit", 50, "maximum number of entries")

	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditListCmd)
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the audit trail",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check the audit hash chain",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.auditLog.Verify(cmd.Context())
		if err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), warnStyle.Render(fmt.Sprintf("%d entries verified before the break", n)))
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), okStyle.Render(fmt.Sprintf("audit chain intact: %d entries", n)))
		return nil
	},
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit entries, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		events, err := a.auditLog.Query(cmd.Context(), domain.AuditFilter{
			UserID: auditUser,
			Type:   domain.AuditEventType(auditType),
			Limit:  auditLimit,
		})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, ev := range events {
			status := okStyle.Render("ok  ")
			if !ev.Success {
				status = errStyle.Render("FAIL")
			}
			fmt.Fprintf(out, "%s %s %-16s user=%-6s %s\n",
				dimStyle.Render(ev.Timestamp.Format("2006-01-02 15:04:05")), status, ev.Type, ev.UserID, formatDetails(ev.Details))
			if ev.ErrorMessage != "" {
				fmt.Fprintln(out, "    "+warnStyle.Render(ev.ErrorMessage))
			}
		}
		return nil
	},
}
