package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/labccda/internal/config"
	"github.com/ehr/labccda/internal/platform/auth"
	"github.com/ehr/labccda/internal/platform/ccda"
	"github.com/ehr/labccda/internal/platform/delivery"
	"github.com/ehr/labccda/internal/platform/middleware"
)

const version = "0.1.0"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "labccda",
		Short:        "Lab results C-CDA document generator",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(inspectCmd())
	rootCmd.AddCommand(tokenCmd())
	return rootCmd
}

func newLogger(env string, out io.Writer) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
	}
	return zerolog.New(out).With().Timestamp().Logger()
}

// ---------------------------------------------------------------------------
// serve
// ---------------------------------------------------------------------------

func serveCmd() *cobra.Command {
	var archive bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the document generation API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(archive)
		},
	}
	cmd.Flags().BoolVar(&archive, "archive", false, "keep a copy of every generated document in OUTPUT_DIR")
	return cmd
}

func runServer(archive bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg.Env, os.Stdout)

	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}
	if cfg.IsDev() {
		logger.Warn().Msg("running in DEVELOPMENT mode: /api/v1 accepts unauthenticated requests")
	}

	var archiver delivery.Deliverer
	if archive {
		archiver = delivery.NewDirectoryDeliverer(cfg.OutputDir)
		logger.Info().Str("dir", cfg.OutputDir).Msg("archiving generated documents")
	}

	e, err := newServer(cfg, logger, archiver)
	if err != nil {
		return err
	}

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("version", version).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

// newServer builds the Echo instance with middleware and routes.
func newServer(cfg *config.Config, logger zerolog.Logger, archive delivery.Deliverer) (*echo.Echo, error) {
	bodyLimit, err := middleware.ParseBodyLimit(cfg.BodyLimit)
	if err != nil {
		return nil, fmt.Errorf("BODY_LIMIT: %w", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:  cfg.CORSOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost},
		AllowHeaders:  []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposeHeaders: []string{echo.HeaderContentDisposition, ccda.DocumentIDHeader, ccda.DocumentHashHeader, middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(bodyLimit))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(cfg.RateLimit()))
	if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(jwtConfig(cfg)))
	}

	assembler := ccda.NewAssembler(ccda.WithDefaultOrganization(cfg.DefaultOrganization))
	var opts []ccda.HandlerOption
	if archive != nil {
		opts = append(opts, ccda.WithArchive(archive))
	}
	ccda.NewHandler(assembler, ccda.NewParser(), logger, opts...).RegisterRoutes(apiV1)

	return e, nil
}

func jwtConfig(cfg *config.Config) auth.JWTConfig {
	return auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		SigningKey: []byte(cfg.AuthSigningKey),
	}
}

// ---------------------------------------------------------------------------
// generate
// ---------------------------------------------------------------------------

type generateOptions struct {
	input     string
	outputDir string
	stdout    bool
}

func generateCmd() *cobra.Command {
	var opts generateOptions
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a lab results document from a JSON submission",
		Example: "  labccda generate --input submission.json --output-dir ./out\n" +
			"  cat submission.json | labccda generate --input - --stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if opts.outputDir == "" {
				opts.outputDir = cfg.OutputDir
			}
			logger := newLogger(cfg.Env, cmd.ErrOrStderr())
			assembler := ccda.NewAssembler(ccda.WithDefaultOrganization(cfg.DefaultOrganization))
			return runGenerate(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), opts, assembler, logger)
		},
	}
	cmd.Flags().StringVarP(&opts.input, "input", "i", "", `submission JSON file ("-" reads stdin)`)
	cmd.Flags().StringVarP(&opts.outputDir, "output-dir", "o", "", "directory for the generated file (default OUTPUT_DIR)")
	cmd.Flags().BoolVar(&opts.stdout, "stdout", false, "write the document to stdout instead of a file")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func runGenerate(ctx context.Context, stdin io.Reader, out io.Writer, opts generateOptions, assembler *ccda.Assembler, logger zerolog.Logger) error {
	var in io.Reader = stdin
	if opts.input != "-" {
		f, err := os.Open(opts.input)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		in = f
	}

	sub, err := ccda.DecodeSubmission(in)
	if err != nil {
		return err
	}
	if err := sub.Validate(); err != nil {
		return err
	}

	doc := assembler.Assemble(sub.Patient(), sub.Labs())
	logger.Info().
		Str("document_id", doc.DocumentID).
		Str("filename", doc.Filename).
		Int("lab_results", len(sub.LabResults)).
		Msg("lab results document generated")

	if opts.stdout {
		_, err := io.WriteString(out, doc.XML)
		return err
	}

	receipt, err := delivery.NewDirectoryDeliverer(opts.outputDir).Deliver(ctx, doc.Filename, []byte(doc.XML))
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %s (%d bytes, sha256 %s)\n", receipt.Path, receipt.Size, receipt.SHA256)
	return nil
}

// ---------------------------------------------------------------------------
// inspect
// ---------------------------------------------------------------------------

func inspectCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "inspect <file.xml>",
		Short: "Summarize a generated lab results document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read document: %w", err)
			}
			parsed, err := ccda.NewParser().Parse(data)
			if err != nil {
				return err
			}
			if asJSON {
				b, err := json.MarshalIndent(parsed, "", "  ")
				if err != nil {
					return fmt.Errorf("encode summary: %w", err)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
				return err
			}
			return writeSummary(cmd.OutOrStdout(), parsed)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	return cmd
}

func writeSummary(w io.Writer, doc *ccda.ParsedDocument) error {
	var b bytes.Buffer
	fmt.Fprintf(&b, "Document:     %s\n", doc.DocumentID)
	fmt.Fprintf(&b, "Title:        %s\n", doc.Title)
	if !doc.Created.IsZero() {
		fmt.Fprintf(&b, "Created:      %s\n", doc.Created.Format(time.RFC3339))
	}
	name := strings.TrimSpace(doc.Patient.GivenName + " " + doc.Patient.FamilyName)
	fmt.Fprintf(&b, "Patient:      %s (gender %s, born %s)\n", name, orDash(doc.Patient.Gender), orDash(doc.Patient.DOB))
	fmt.Fprintf(&b, "Organization: %s\n", doc.Organization)
	fmt.Fprintf(&b, "Results:      %d\n\n", len(doc.Results))

	table := tablewriter.NewWriter(&b)
	table.SetHeader([]string{"Code", "Test", "Value", "Unit", "Range", "Flag", "Date"})
	table.SetAutoWrapText(false)
	for _, r := range doc.Results {
		rng := ccda.NotApplicable
		if r.ReferenceRanges > 0 {
			rng = r.RangeLow + " - " + r.RangeHigh
		}
		table.Append([]string{r.Code, r.Test, r.Value, r.Unit, rng, r.Interpretation, r.Date})
	}
	table.Render()

	_, err := w.Write(b.Bytes())
	return err
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// ---------------------------------------------------------------------------
// token
// ---------------------------------------------------------------------------

func tokenCmd() *cobra.Command {
	var (
		subject string
		roles   []string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token signed with AUTH_SIGNING_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.AuthSigningKey == "" {
				return errors.New("AUTH_SIGNING_KEY is not set")
			}
			tok, err := auth.IssueToken(jwtConfig(cfg), subject, roles, ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tok)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "labccda-client", "token subject")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "role claim (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
