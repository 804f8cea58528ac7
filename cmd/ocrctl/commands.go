package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crospyder/ocr-core/internal/bootstrap"
	"github.com/crospyder/ocr-core/internal/config"
	"github.com/crospyder/ocr-core/internal/core/domain"
	"github.com/crospyder/ocr-core/internal/core/oib"
	"github.com/crospyder/ocr-core/internal/observability/logging"
)

const serviceName = "ocrctl"

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ocrctl",
		Short: "Operate the OCR document pipeline",
		Long: `ocrctl runs the document pipeline in-process against the configured database,
storage and registries. Configuration is read from the same environment as the api.`,
		SilenceUsage: true,
	}
	cmd.AddCommand(
		newIngestCmd(),
		newReprocessCmd(),
		newGetCmd(),
		newAnnotateCmd(),
		newDeleteCmd(),
		newExportCmd(),
		newOIBCmd(),
	)
	return cmd
}

// withApp bootstraps the pipeline for one command and closes it afterwards.
func withApp(cmd *cobra.Command, fn func(app *bootstrap.App) error) error {
	cfg := config.Load()
	logger := logging.NewTextLogger(cmd.ErrOrStderr(), serviceName, cfg.LogLevel)
	app, err := bootstrap.New(cmd.Context(), cfg, logger, nil)
	if err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}
	defer app.Close()
	return fn(app)
}

func newIngestCmd() *cobra.Command {
	var docType string
	var training bool
	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Ingest one or more files as a batch",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uploads := make([]domain.Upload, 0, len(args))
			for _, path := range args {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				defer f.Close()
				uploads = append(uploads, domain.Upload{Filename: filepath.Base(path), Body: f})
			}
			return withApp(cmd, func(app *bootstrap.App) error {
				batch, err := app.Ingest.Ingest(cmd.Context(), uploads, domain.IngestOptions{
					DeclaredType: domain.ParseDocumentType(docType),
					TrainingMode: training,
				})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), batch)
			})
		},
	}
	cmd.Flags().StringVarP(&docType, "type", "t", "", "Declared document type used when the classifier is unavailable")
	cmd.Flags().BoolVar(&training, "training", false, "Submit processed texts as classifier training samples")
	return cmd
}

func newReprocessCmd() *cobra.Command {
	var async bool
	cmd := &cobra.Command{
		Use:   "reprocess [document-id]",
		Short: "Re-run extraction over stored text, for one document or all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id int64
			if len(args) == 1 {
				parsed, err := parseDocumentID(args[0])
				if err != nil {
					return err
				}
				id = parsed
			}
			if async && id == 0 {
				return fmt.Errorf("--async needs a document id")
			}
			return withApp(cmd, func(app *bootstrap.App) error {
				switch {
				case async:
					if err := app.Documents.EnqueueReprocess(cmd.Context(), id); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "queued document %d\n", id)
					return nil
				case id > 0:
					if err := app.Reprocess.ReprocessByID(cmd.Context(), id); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "reprocessed document %d\n", id)
					return nil
				default:
					summary, err := app.Reprocess.ReprocessAll(cmd.Context())
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), summary)
				}
			})
		},
	}
	cmd.Flags().BoolVar(&async, "async", false, "Queue the request for a worker instead of running it here")
	return cmd
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <document-id>",
		Short: "Print a document with its annotation and counter-party",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseDocumentID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(app *bootstrap.App) error {
				record, err := app.Documents.GetRecord(cmd.Context(), id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), record)
			})
		},
	}
}

func newAnnotateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "annotate <document-id> field=value...",
		Short: "Correct annotation fields; an empty value clears the field",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseDocumentID(args[0])
			if err != nil {
				return err
			}
			fields, err := parseAssignments(args[1:])
			if err != nil {
				return err
			}
			return withApp(cmd, func(app *bootstrap.App) error {
				record, err := app.Documents.UpdateAnnotation(cmd.Context(), id, fields)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), record)
			})
		},
	}
}

func newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <document-id>",
		Short: "Soft-delete a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseDocumentID(args[0])
			if err != nil {
				return err
			}
			return withApp(cmd, func(app *bootstrap.App) error {
				return app.Documents.Delete(cmd.Context(), id)
			})
		},
	}
}

func newExportCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write all active documents to an XLSX workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(app *bootstrap.App) error {
				if output == "" || output == "-" {
					return app.Documents.ExportXLSX(cmd.Context(), cmd.OutOrStdout())
				}
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				if err := app.Documents.ExportXLSX(cmd.Context(), f); err != nil {
					_ = f.Close()
					_ = os.Remove(output)
					return err
				}
				return f.Close()
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "documents.xlsx", "Output file, - for stdout")
	return cmd
}

func newOIBCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "oib <value>...",
		Short: "Validate OIB check digits",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			invalid := 0
			for _, value := range args {
				if oib.Valid(value) {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\tvalid\n", value)
					continue
				}
				invalid++
				fmt.Fprintf(cmd.OutOrStdout(), "%s\tinvalid\n", value)
			}
			if invalid > 0 {
				return fmt.Errorf("%d of %d values are not valid OIBs", invalid, len(args))
			}
			return nil
		},
	}
}

func parseDocumentID(raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("document id must be a positive integer, got %q", raw)
	}
	return id, nil
}

func parseAssignments(args []string) (domain.FieldSet, error) {
	fields := make(domain.FieldSet, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("expected field=value, got %q", arg)
		}
		fields[domain.Field(key)] = value
	}
	return fields, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
