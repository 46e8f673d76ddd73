package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"lexvault/internal/domain"
)

var (
	exportFormat string
	exportStdout bool

	deleteConfirmed   bool
	deleteReason      string
	deleteExportFirst bool
)

func init() {
	exportCmd.Flags().StringVar(&exportFormat, "format", "", "export format: json or yaml (default from config)")
	exportCmd.Flags().BoolVar(&exportStdout, "stdout", false, "print the document instead of writing a file")

	deleteCmd.Flags().BoolVar(&deleteConfirmed, "yes", false, "confirm the permanent erasure")
	deleteCmd.Flags().StringVar(&deleteReason, "reason", "user request", "reason recorded in the audit trail")
	deleteCmd.Flags().BoolVar(&deleteExportFirst, "export-first", false, "write a JSON export before erasing")
}

var exportCmd = &cobra.Command{
	Use:   "export <user-id>",
	Short: "Export everything a user owns",
	Long: `Export builds the portability document for a user with encrypted fields
decrypted, and writes it under the configured export directory.

Example:
  lexvault export 42
  lexvault export 42 --format yaml
  lexvault export 42 --stdout`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func runExport(cmd *cobra.Command, args []string) error {
	userID, err := parseUserID(args[0])
	if err != nil {
		return err
	}
	format := exportFormat
	if format == "" {
		format = cfg.GDPR.DefaultFormat
	}
	ef, err := domain.ParseExportFormat(format)
	if err != nil {
		return err
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.gdpr.ExportUserData(cmd.Context(), userID, domain.ExportOptions{Format: ef, SaveToFile: !exportStdout})
	if err != nil {
		return err
	}

	if exportStdout {
		return writeDocument(cmd, res.Data, ef)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("Export for user %d", userID)))
	printKV(out, "file", res.FilePath)
	printKV(out, "records", res.Data.Metadata.TotalRecords)
	printKV(out, "schema version", res.Data.Metadata.SchemaVersion)
	if n := len(res.Data.Metadata.DecryptionFailures); n > 0 {
		printKV(out, "undecryptable fields", warnStyle.Render(strconv.Itoa(n)))
	}
	return nil
}

func writeDocument(cmd *cobra.Command, doc *domain.UserDataExport, format domain.ExportFormat) error {
	var (
		data []byte
		err  error
	)
	if format == domain.FormatYAML {
		data, err = yaml.Marshal(doc)
	} else {
		data, err = json.MarshalIndent(doc, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("encode export: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(append(data, '\n'))
	return err
}

var deleteCmd = &cobra.Command{
	Use:   "delete <user-id>",
	Short: "Permanently erase everything a user owns",
	Long: `Delete removes the user and every row they own in a single transaction.
Consent records and the audit trail are kept. The erasure must be confirmed
with --yes.

Example:
  lexvault delete 42 --yes --reason "account closed"
  lexvault delete 42 --yes --export-first`,
	Args: cobra.ExactArgs(1),
	RunE: runDelete,
}

func runDelete(cmd *cobra.Command, args []string) error {
	userID, err := parseUserID(args[0])
	if err != nil {
		return err
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.gdpr.DeleteUserData(cmd.Context(), userID, domain.DeleteOptions{
		Confirmed:          deleteConfirmed,
		Reason:             deleteReason,
		ExportBeforeDelete: deleteExportFirst,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("Erased user %d", userID)))
	if res.ExportPath != "" {
		printKV(out, "export", res.ExportPath)
	}
	printKV(out, "deleted at", res.DeletionDate.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintln(out, dimStyle.Render("  rows deleted:"))
	printCounts(out, res.DeletedCounts, a.deleter.Order())
	fmt.Fprintln(out, dimStyle.Render("  preserved:"))
	printKV(out, "audit_logs", res.PreservedAuditLogs)
	printKV(out, "consents", res.PreservedConsents)
	return nil
}

func parseUserID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.NewDomainError("parseUserID", domain.ErrInvalidInput, fmt.Sprintf("user id must be a positive integer, got %q", s))
	}
	return id, nil
}
