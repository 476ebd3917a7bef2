package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cwbudde/axialfit/internal/document"
	"github.com/cwbudde/axialfit/internal/store"
)

var (
	keepLast      int
	olderThanDays int
	forceClean    bool
	showJSON      bool
	showTrace     bool
)

var documentsCmd = &cobra.Command{
	Use:   "documents",
	Short: "Manage stored result documents",
	Long: `List, inspect, correct and clean the result documents written by run,
global and the server.`,
}

var listDocumentsCmd = &cobra.Command{
	Use:   "list",
	Short: "List all stored documents",
	RunE:  runListDocuments,
}

var showDocumentCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one stored document",
	Args:  cobra.ExactArgs(1),
	RunE:  runShowDocument,
}

var correctDocumentCmd = &cobra.Command{
	Use:   "correct <id>...",
	Short: "Recompute the final values of multi-start documents",
	Long: `Rescans every start and iteration of a stored multi-start document and
rewrites result_final, cost_final and rrmswfe_final from the best iterate.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return rewriteGlobals(cmd.OutOrStdout(), args, "corrected", document.CorrectGlobal)
	},
}

var recheckDocumentCmd = &cobra.Command{
	Use:   "recheck <id>...",
	Short: "Reset rrmswfe_final to the lowest residual of multi-start documents",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return rewriteGlobals(cmd.OutOrStdout(), args, "rechecked", document.RecheckMinimum)
	},
}

var cleanDocumentsCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete old documents",
	Long: `Delete stored documents based on a retention policy: keep only the
newest N, delete those older than N days, or both.`,
	RunE: runCleanDocuments,
}

func init() {
	rootCmd.AddCommand(documentsCmd)

	documentsCmd.AddCommand(listDocumentsCmd)
	documentsCmd.AddCommand(showDocumentCmd)
	documentsCmd.AddCommand(correctDocumentCmd)
	documentsCmd.AddCommand(recheckDocumentCmd)
	documentsCmd.AddCommand(cleanDocumentsCmd)

	showDocumentCmd.Flags().BoolVar(&showJSON, "json", false, "Print the full document as JSON")
	showDocumentCmd.Flags().BoolVar(&showTrace, "trace", false, "Print the stored per-iteration trace instead of the document")

	cleanDocumentsCmd.Flags().IntVar(&keepLast, "keep-last", 0, "Keep only the newest N documents (0 = keep all)")
	cleanDocumentsCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Delete documents older than N days (0 = no age limit)")
	cleanDocumentsCmd.Flags().BoolVarP(&forceClean, "force", "f", false, "Skip confirmation prompt")
}

func openStore() (*store.FSStore, error) {
	fs, err := store.NewFSStore(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to create document store: %w", err)
	}
	return fs, nil
}

func runListDocuments(cmd *cobra.Command, args []string) error {
	fs, err := openStore()
	if err != nil {
		return err
	}

	infos, err := fs.ListDocuments()
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}

	out := cmd.OutOrStdout()
	if len(infos) == 0 {
		fmt.Fprintln(out, "No documents found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCREATED\tKIND\tTERMS\tNIT\tCOST\tRRMSWFE\tSIZE")
	fmt.Fprintln(w, "--\t-------\t----\t-----\t---\t----\t-------\t----")

	for _, info := range infos {
		size, err := getDirSize(filepath.Join(fs.BaseDir(), "documents", info.ID))
		sizeStr := "unknown"
		if err == nil {
			sizeStr = formatBytes(size)
		}

		rr := "-"
		if info.RRMSWFEFinal != nil {
			rr = fmt.Sprintf("%.4g", *info.RRMSWFEFinal)
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%.6g\t%s\t%s\n",
			shortID(info.ID),
			info.Created.Format("2006-01-02 15:04:05"),
			info.Kind,
			len(info.Terms),
			info.Iterations,
			info.CostFinal,
			rr,
			sizeStr,
		)
	}

	w.Flush()

	fmt.Fprintf(out, "\nTotal documents: %d\n", len(infos))
	return nil
}

func runShowDocument(cmd *cobra.Command, args []string) error {
	fs, err := openStore()
	if err != nil {
		return err
	}

	if showTrace {
		entries, err := fs.LoadTrace(args[0])
		if err != nil {
			return err
		}
		if showJSON {
			return printDocument(cmd.OutOrStdout(), entries)
		}
		printTrace(cmd.OutOrStdout(), entries)
		return nil
	}

	rec, err := fs.LoadDocument(args[0])
	if err != nil {
		return err
	}

	if showJSON {
		return printDocument(cmd.OutOrStdout(), rec)
	}
	printSummary(cmd.OutOrStdout(), rec)
	return nil
}

// printTrace writes one row per stored iteration.
func printTrace(out io.Writer, entries []store.TraceEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN\tITER\tCOST\tRRMSWFE\tPARAMS")
	for _, e := range entries {
		rr := "-"
		if e.RRMSWFE != nil {
			rr = fmt.Sprintf("%.4g", *e.RRMSWFE)
		}
		fmt.Fprintf(w, "%d\t%d\t%.6g\t%s\t%v\n", e.Run, e.Iteration, e.Cost, rr, e.Params)
	}
	w.Flush()
}

// rewriteGlobals applies fix to every listed multi-start document and
// saves the result in place.
func rewriteGlobals(w io.Writer, ids []string, verb string, fix func(*document.Global) *document.Global) error {
	fs, err := openStore()
	if err != nil {
		return err
	}

	for _, id := range ids {
		rec, err := fs.LoadDocument(id)
		if err != nil {
			return err
		}
		if rec.Global == nil {
			return fmt.Errorf("document %s is not a multi-start document", id)
		}

		rec.Global = fix(rec.Global)
		if err := fs.SaveDocument(id, rec); err != nil {
			return fmt.Errorf("failed to save document %s: %w", id, err)
		}

		slog.Info("Document rewritten", "id", id, "action", verb, "cost_final", rec.Global.CostFinal)
		fmt.Fprintf(w, "%s %s\n", verb, id)
	}
	return nil
}

func runCleanDocuments(cmd *cobra.Command, args []string) error {
	if keepLast == 0 && olderThanDays == 0 {
		return fmt.Errorf("must specify either --keep-last or --older-than")
	}

	fs, err := openStore()
	if err != nil {
		return err
	}

	infos, err := fs.ListDocuments()
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}

	if len(infos) == 0 {
		fmt.Println("No documents to clean.")
		return nil
	}

	toDelete := selectDocumentsForDeletion(infos, keepLast, olderThanDays, time.Now())

	if len(toDelete) == 0 {
		fmt.Println("No documents match deletion criteria.")
		return nil
	}

	fmt.Printf("Found %d document(s) to delete:\n", len(toDelete))
	for _, info := range toDelete {
		fmt.Printf("  - %s (%s, %s)\n",
			shortID(info.ID),
			info.Kind,
			info.Created.Format("2006-01-02 15:04:05"),
		)
	}

	if !forceClean {
		fmt.Print("\nProceed with deletion? [y/N]: ")
		var response string
		fmt.Scanln(&response)
		if response != "y" && response != "Y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	deleted := 0
	failed := 0
	for _, info := range toDelete {
		if err := fs.DeleteDocument(info.ID); err != nil {
			slog.Error("Failed to delete document", "id", info.ID, "error", err)
			failed++
		} else {
			slog.Info("Deleted document", "id", info.ID)
			deleted++
		}
	}

	fmt.Printf("\nDeleted %d document(s), %d failed.\n", deleted, failed)
	return nil
}

// selectDocumentsForDeletion applies the retention policy. Each document
// is selected at most once; the result is oldest first.
func selectDocumentsForDeletion(infos []store.RecordInfo, keepLast int, olderThanDays int, now time.Time) []store.RecordInfo {
	sorted := slices.Clone(infos)
	slices.SortStableFunc(sorted, func(a, b store.RecordInfo) int {
		return a.Created.Compare(b.Created)
	})

	excess := 0
	if keepLast > 0 && len(sorted) > keepLast {
		excess = len(sorted) - keepLast
	}
	cutoff := now.AddDate(0, 0, -olderThanDays)

	var toDelete []store.RecordInfo
	for i, info := range sorted {
		tooOld := olderThanDays > 0 && info.Created.Before(cutoff)
		if i < excess || tooOld {
			toDelete = append(toDelete, info)
		}
	}
	return toDelete
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12] + "..."
	}
	return id
}

// getDirSize calculates the total size of a directory
func getDirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

// formatBytes formats bytes as human-readable string
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
