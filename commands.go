package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/spf13/cobra"

	"docvec/apps/backend/features/upload"
	"docvec/apps/backend/internal/adapter/pgvector"
	s3adapter "docvec/apps/backend/internal/adapter/s3"
	"docvec/apps/backend/internal/app"
	"docvec/apps/backend/internal/config"
	"docvec/apps/backend/internal/retrieval"
	"docvec/apps/backend/internal/vector"
	"docvec/apps/backend/internal/worker"
)

const normTolerance = 1e-3

var errConfirmRequired = errors.New("refusing to drop the table without --yes")

func addCommands(root *cobra.Command) {
	redriveCmd := &cobra.Command{
		Use:   "redrive",
		Short: "Move dead-lettered messages back to the ingestion queue",
		RunE:  runRedrive,
	}
	redriveCmd.Flags().Bool("drain", false, "stop at the first empty receive")

	uploadCmd := &cobra.Command{
		Use:   "upload [dir]",
		Short: "Upload local PDFs to the bucket and enqueue them",
		Long: `Uploads every *.pdf under dir (default UPLOAD_DIR) with its MD5 as the
file-hash metadata and publishes an object-created event for each one.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runUpload,
	}

	searchCmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Print the stored chunks nearest to a query",
		Args:  cobra.ExactArgs(1),
		RunE:  runSearch,
	}
	searchCmd.Flags().Int("limit", retrieval.DefaultLimit, "number of results")

	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect or change the vector table",
	}
	inspectCmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show columns, indexes, row count and stored vector norms",
		RunE:  runSchemaInspect,
	}
	inspectCmd.Flags().Int("sample", 10, "number of stored vectors to check for unit norm")
	rebuildCmd := &cobra.Command{
		Use:   "rebuild-index",
		Short: "Drop existing vector indexes and create the configured one",
		RunE:  runSchemaRebuild,
	}
	dropCmd := &cobra.Command{
		Use:   "drop-table",
		Short: "Drop the vector table and every stored chunk",
		RunE:  runSchemaDrop,
	}
	dropCmd.Flags().Bool("yes", false, "confirm the drop")
	schemaCmd.AddCommand(inspectCmd, rebuildCmd, dropCmd)

	exportCmd := &cobra.Command{
		Use:   "export-csv",
		Short: "Write every stored chunk as CSV",
		RunE:  runExportCSV,
	}
	exportCmd.Flags().StringP("out", "o", "", "output file (default stdout)")

	importCmd := &cobra.Command{
		Use:   "import-csv <file>",
		Short: "Bulk-load chunks from a CSV export",
		Args:  cobra.ExactArgs(1),
		RunE:  runImportCSV,
	}

	root.AddCommand(redriveCmd, uploadCmd, searchCmd, schemaCmd, exportCmd, importCmd)
}

func runRedrive(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	if cfg.DeadLetterBackend != config.DeadLetterSQS {
		return fmt.Errorf("%w: redrive needs DEAD_LETTER_BACKEND=sqs", config.ErrInvalid)
	}
	if err := cfg.ValidateQueue(); err != nil {
		return err
	}
	drain, _ := cmd.Flags().GetBool("drain")

	ctx := cmd.Context()
	awsCfg, err := app.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return err
	}
	client := app.NewSQSClient(awsCfg, cfg)

	redriver := worker.NewRedriver(
		newQueue(client, cfg, cfg.SQSDLQURL),
		newQueue(client, cfg, cfg.SQSQueueURL),
		time.Duration(cfg.BackoffSeconds)*time.Second,
	)
	moved, err := redriver.Run(ctx, drain)
	log.Info("redrive finished", "moved", moved, "drain", drain)
	return err
}

func runUpload(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	if cfg.SQSQueueURL == "" {
		return fmt.Errorf("%w: SQS_QUEUE_URL", config.ErrMissingRequired)
	}
	if cfg.S3Bucket == "" {
		return fmt.Errorf("%w: S3_BUCKET", config.ErrMissingRequired)
	}
	dir := cfg.UploadDir
	if len(args) == 1 {
		dir = args[0]
	}

	ctx := cmd.Context()
	awsCfg, err := app.LoadAWSConfig(ctx, cfg)
	if err != nil {
		return err
	}
	uploader := s3adapter.NewUploader(manager.NewUploader(app.NewS3Client(awsCfg, cfg)), cfg.S3Bucket)
	queue := newQueue(app.NewSQSClient(awsCfg, cfg), cfg, cfg.SQSQueueURL)

	results, err := upload.NewService(uploader, queue, cfg.UploadConcurrency).UploadDir(ctx, dir)
	ok := 0
	for _, r := range results {
		if r.Err == nil {
			ok++
		}
	}
	log.Info("upload finished", "dir", dir, "files", len(results), "uploaded", ok)
	return err
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")

	ctx := cmd.Context()
	db, store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	provider, closeProvider, err := app.NewProvider(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeProvider()

	queryLog, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		log.Warn("failed to create query logger, falling back to stderr", "error", err)
		queryLog = retrieval.NewQueryLogger(os.Stderr)
	}
	defer queryLog.Close()

	matches, err := retrieval.NewService(provider, store, queryLog, cfg.VectorDimensions).
		Search(ctx, args[0], &retrieval.SearchOptions{Limit: &limit})
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), matches)
}

// NormReport summarises how far stored vectors are from unit length.
type NormReport struct {
	Sampled       int       `json:"sampled"`
	Normalized    int       `json:"normalized"`
	Norms         []float64 `json:"norms,omitempty"`
	AllNormalized bool      `json:"all_normalized"`
}

func normReport(samples [][]float32) NormReport {
	r := NormReport{Sampled: len(samples)}
	for _, v := range samples {
		r.Norms = append(r.Norms, vector.Norm(v))
		if vector.IsNormalized(v, normTolerance) {
			r.Normalized++
		}
	}
	r.AllNormalized = r.Normalized == r.Sampled
	return r
}

func runSchemaInspect(cmd *cobra.Command, args []string) error {
	cfg, _, err := setup()
	if err != nil {
		return err
	}
	sample, _ := cmd.Flags().GetInt("sample")

	ctx := cmd.Context()
	db, store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	info, err := store.Inspect(ctx)
	if err != nil {
		return err
	}
	out := struct {
		*pgvector.SchemaInfo
		Configured vector.IndexConfig `json:"configured"`
		Norms      *NormReport        `json:"norms,omitempty"`
	}{SchemaInfo: info, Configured: store.Schema().Index}

	if info.Exists && sample > 0 {
		samples, err := store.SampleEmbeddings(ctx, sample)
		if err != nil {
			return err
		}
		report := normReport(samples)
		out.Norms = &report
	}
	return writeJSON(cmd.OutOrStdout(), out)
}

func runSchemaRebuild(cmd *cobra.Command, args []string) error {
	cfg, _, err := setup()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	db, store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}
	return store.RebuildIndex(ctx)
}

func runSchemaDrop(cmd *cobra.Command, args []string) error {
	yes, _ := cmd.Flags().GetBool("yes")
	if !yes {
		return errConfirmRequired
	}
	cfg, _, err := setup()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	db, store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	return store.DropTable(ctx)
}

func runExportCSV(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	path, _ := cmd.Flags().GetString("out")

	ctx := cmd.Context()
	db, store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	w := cmd.OutOrStdout()
	if path != "" {
		f, err := os.Create(path)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	n, err := store.ExportCSV(ctx, w)
	if err != nil {
		return err
	}
	log.Info("export finished", "rows", n, "table", cfg.VectorTable)
	return nil
}

func runImportCSV(cmd *cobra.Command, args []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	db, store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	conn, err := pgvector.Connect(ctx, app.URL(cfg))
	if err != nil {
		return err
	}
	defer conn.Close(context.Background())

	res, err := pgvector.NewImporter(conn, store.Schema()).ImportCSV(ctx, f)
	if err != nil {
		return err
	}
	log.Info("import finished", "imported", res.Imported, "skipped", res.Skipped, "table", cfg.VectorTable)
	return nil
}

// openStore connects without running migrations; schema commands work on
// the vector table only.
func openStore(ctx context.Context, cfg *config.Config) (*sql.DB, *pgvector.Store, error) {
	db, err := app.OpenDatabase(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	store := pgvector.NewStore(db, app.VectorSchema(cfg), pgvector.Options{
		BatchSize:        cfg.BatchSize,
		DedupeOnReingest: cfg.DedupeOnReingest,
	})
	return db, store, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
