package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"gridsim/api"
	"gridsim/db/ingestion"
	"gridsim/db/postgres"
	"gridsim/decision/simulation"
	"gridsim/internal/timeseries"
	gsapi "gridsim/pkg/api"
	"gridsim/pkg/platform"
)

// =============================================================================
// SIMULATE
// =============================================================================

func simulateCommand() *cli.Command {
	return &cli.Command{
		Name:  "simulate",
		Usage: "Bill every house under a run's topology root",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "run",
				Usage: "ID of an existing run in the created state",
			},
			&cli.BoolFlag{
				Name:  "create",
				Usage: "Create the run and its policy from the flags below before simulating",
			},
			&cli.StringFlag{
				Name:  "name",
				Usage: "Run name (with --create)",
			},
			&cli.StringFlag{
				Name:  "root",
				Usage: "Topology root node ID (with --create)",
			},
			&cli.IntFlag{
				Name:  "month",
				Usage: "Billing month 1-12 (with --create)",
			},
			&cli.IntFlag{
				Name:  "year",
				Usage: "Billing year (with --create)",
			},
			&cli.StringFlag{
				Name:  "policy",
				Value: string(gsapi.PolicySimpleNet),
				Usage: "Policy type: SIMPLE_NET, GROSS_METERING, TOU_RATE",
			},
			&cli.Float64Flag{
				Name:  "fixed-charge",
				Usage: "Fixed charge per sanctioned kW",
			},
			&cli.Float64Flag{
				Name:  "fac",
				Usage: "Fuel adjustment charge per imported kWh",
			},
			&cli.Float64Flag{
				Name:  "tax-rate",
				Usage: "Tax rate on energy charges (0.05 = 5%)",
			},
			&cli.Float64Flag{
				Name:  "retail-price",
				Usage: "Retail price per kWh (SIMPLE_NET)",
			},
			&cli.Float64Flag{
				Name:  "import-price",
				Usage: "Import retail price per kWh (GROSS_METERING)",
			},
			&cli.Float64Flag{
				Name:  "export-price",
				Usage: "Export wholesale price per kWh (GROSS_METERING)",
			},
			&cli.StringSliceFlag{
				Name:  "period",
				Usage: "TOU period as label,HH:MM,HH:MM,import,export (repeatable, TOU_RATE)",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Value:   "table",
				Usage:   "Output format: table, json",
			},
		},
		Action: withApp(runSimulate),
	}
}

func runSimulate(c *cli.Context, a *app) error {
	ctx := c.Context

	var runID uuid.UUID
	switch {
	case c.Bool("create"):
		run, err := createRun(ctx, c, a.pg)
		if err != nil {
			return err
		}
		runID = run.ID
		a.logger.Info().Str("run_id", runID.String()).Msg("run created")
	case c.String("run") != "":
		id, err := uuid.Parse(c.String("run"))
		if err != nil {
			return fmt.Errorf("invalid run id %q: %w", c.String("run"), err)
		}
		runID = id
	default:
		return fmt.Errorf("either --run or --create is required")
	}

	result, err := a.simulator().Run(ctx, runID)
	if result != nil {
		if outErr := outputRunResult(c.String("output"), result); outErr != nil {
			return outErr
		}
	}
	return err
}

func createRun(ctx context.Context, c *cli.Context, store *postgres.Store) (*gsapi.SimulationRun, error) {
	rootID, err := uuid.Parse(c.String("root"))
	if err != nil {
		return nil, fmt.Errorf("invalid --root %q: %w", c.String("root"), err)
	}
	policyType, err := gsapi.ParsePolicyType(c.String("policy"))
	if err != nil {
		return nil, err
	}
	root, err := store.GetNodeByID(ctx, rootID)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, fmt.Errorf("topology root %s not found", rootID)
	}

	run := &gsapi.SimulationRun{
		Name:         c.String("name"),
		RootNodeID:   rootID,
		BillingMonth: c.Int("month"),
		BillingYear:  c.Int("year"),
	}
	if run.Name == "" {
		run.Name = fmt.Sprintf("%s %04d-%02d", root.Name, run.BillingYear, run.BillingMonth)
	}

	params, err := policyParams(c, policyType)
	if err != nil {
		return nil, err
	}

	if err := store.CreateRun(ctx, run); err != nil {
		return nil, err
	}
	policy := &gsapi.SelectedPolicy{
		RunID:                  run.ID,
		Type:                   policyType,
		FixedChargePerKW:       c.Float64("fixed-charge"),
		FACPerKWhImported:      c.Float64("fac"),
		TaxRateOnEnergyCharges: c.Float64("tax-rate"),
	}
	if params.Net != nil {
		params.Net.RunID = run.ID
	}
	if params.Gross != nil {
		params.Gross.RunID = run.ID
	}
	if err := store.SaveSelectedPolicy(ctx, policy, params); err != nil {
		return nil, err
	}
	return run, nil
}

func policyParams(c *cli.Context, t gsapi.PolicyType) (postgres.PolicyParams, error) {
	var params postgres.PolicyParams
	switch t {
	case gsapi.PolicySimpleNet:
		params.Net = &gsapi.NetMeteringParams{RetailPricePerKWh: c.Float64("retail-price")}
	case gsapi.PolicyGross:
		params.Gross = &gsapi.GrossMeteringParams{
			ImportRetailPricePerKWh:    c.Float64("import-price"),
			ExportWholesalePricePerKWh: c.Float64("export-price"),
		}
	case gsapi.PolicyTimeOfUse:
		for _, raw := range c.StringSlice("period") {
			p, err := parseTOUPeriod(raw)
			if err != nil {
				return params, err
			}
			params.Periods = append(params.Periods, p)
		}
		if len(params.Periods) == 0 {
			return params, fmt.Errorf("TOU_RATE needs at least one --period")
		}
	}
	return params, nil
}

func outputRunResult(format string, result *gsapi.RunResult) error {
	if format == "json" {
		return outputJSON(result)
	}

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                     SIMULATION RUN                           ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  Run:           %s\n", result.RunID)
	fmt.Printf("  Status:        %s\n", result.Status)
	fmt.Printf("  Policy:        %s\n", result.PolicyType)
	fmt.Printf("  Billing cycle: %04d-%02d\n", result.BillingYear, result.BillingMonth)
	fmt.Printf("  Houses:        %d (%d billed, %d skipped)\n", result.HousesTotal, result.BillsCreated, len(result.Skipped))
	fmt.Printf("  Total billed:  %s\n", result.TotalBilled.StringFixed(2))
	if result.Error != "" {
		fmt.Printf("  Error:         %s\n", result.Error)
	}
	fmt.Println()

	if len(result.Bills) > 0 {
		fmt.Println("┌──────────────────────────────────────┬────────────┬────────────┬────────────┐")
		fmt.Println("│ House                                │ Import kWh │ Export kWh │     Amount │")
		fmt.Println("├──────────────────────────────────────┼────────────┼────────────┼────────────┤")
		for _, b := range result.Bills {
			fmt.Printf("│ %-36s │ %10.2f │ %10.2f │ %10s │\n",
				b.HouseID, b.TotalImportedKWh, b.TotalExportedKWh, b.Amount.StringFixed(2))
		}
		fmt.Println("└──────────────────────────────────────┴────────────┴────────────┴────────────┘")
		fmt.Println()
	}

	if len(result.Skipped) > 0 {
		fmt.Println("  Skipped houses:")
		for _, s := range result.Skipped {
			fmt.Printf("    %s  %-16s %s\n", s.HouseID, s.Reason, s.Error)
		}
		fmt.Println()
	}
	return nil
}

// =============================================================================
// SUMMARY
// =============================================================================

func summaryCommand() *cli.Command {
	return &cli.Command{
		Name:  "summary",
		Usage: "Sum imported and exported energy over whole days",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "node",
				Usage: "Any topology node; its houses are summed",
			},
			&cli.StringFlag{
				Name:  "house",
				Usage: "A single house",
			},
			&cli.StringFlag{
				Name:     "start",
				Usage:    "First day (YYYY-MM-DD)",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "end",
				Usage:    "Last day, inclusive (YYYY-MM-DD)",
				Required: true,
			},
		},
		Action: withApp(runSummary),
	}
}

func runSummary(c *cli.Context, a *app) error {
	start, err := time.Parse("2006-01-02", c.String("start"))
	if err != nil {
		return fmt.Errorf("invalid --start: %w", err)
	}
	end, err := time.Parse("2006-01-02", c.String("end"))
	if err != nil {
		return fmt.Errorf("invalid --end: %w", err)
	}

	agg := a.aggregator()
	var (
		id      uuid.UUID
		summary gsapi.EnergySummary
	)
	switch {
	case c.String("house") != "":
		if id, err = uuid.Parse(c.String("house")); err != nil {
			return fmt.Errorf("invalid --house: %w", err)
		}
		summary, err = agg.HouseSummary(c.Context, id, start, end)
	case c.String("node") != "":
		if id, err = uuid.Parse(c.String("node")); err != nil {
			return fmt.Errorf("invalid --node: %w", err)
		}
		summary, err = agg.NodeSummary(c.Context, id, start, end)
	default:
		return fmt.Errorf("either --node or --house is required")
	}
	if err != nil {
		return err
	}

	return outputJSON(api.SummaryResponse{
		NodeID:    id.String(),
		StartDate: c.String("start"),
		EndDate:   c.String("end"),
		Imported:  summary.ImportedKWh,
		Exported:  summary.ExportedKWh,
		Net:       summary.ImportedKWh - summary.ExportedKWh,
	})
}

// =============================================================================
// TEMPLATES
// =============================================================================

func templateCommand() *cli.Command {
	return &cli.Command{
		Name:  "template",
		Usage: "Consumption template operations",
		Subcommands: []*cli.Command{
			{
				Name:  "generate",
				Usage: "Regenerate a template's annual pattern from its occupants",
				Flags: []cli.Flag{
					&cli.Int64Flag{
						Name:     "template",
						Usage:    "Template ID",
						Required: true,
					},
					&cli.StringSliceFlag{
						Name:  "occupant",
						Usage: "Occupants as profile:count, e.g. works_at_home:2 (repeatable)",
					},
				},
				Action: withApp(runTemplateGenerate),
			},
		},
	}
}

func runTemplateGenerate(c *cli.Context, a *app) error {
	var items []gsapi.PersonProfileItem
	for _, raw := range c.StringSlice("occupant") {
		item, err := parseOccupant(raw)
		if err != nil {
			return err
		}
		items = append(items, item)
	}

	result, err := a.synthesizer().Generate(c.Context, c.Int64("template"), items)
	if err != nil {
		return err
	}
	return outputJSON(result)
}

// =============================================================================
// INGESTION
// =============================================================================

func ingestCommand() *cli.Command {
	return &cli.Command{
		Name:  "ingest",
		Usage: "Load raw meter and solar files",
		Subcommands: []*cli.Command{
			{
				Name:  "meter",
				Usage: "Validate a meter CSV and store it as a house's load profile",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "house",
						Usage:    "House node ID",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "file",
						Usage:    "Local path or s3://bucket/key",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "name",
						Usage: "Profile name",
					},
					&cli.BoolFlag{
						Name:  "fifteen-minute",
						Usage: "The file already holds 15-minute readings",
					},
					&cli.StringFlag{
						Name:  "strategy",
						Usage: "Interpolation kernel: linear, spline, pchip, akima1d",
					},
				},
				Action: withApp(runIngestMeter),
			},
			{
				Name:  "solar",
				Usage: "Store a per-kW generation CSV as a site's solar reference",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "file",
						Usage:    "Local path or s3://bucket/key",
						Required: true,
					},
					&cli.Int64Flag{
						Name:  "site",
						Usage: "Site ID (defaults to --solar-site-id)",
					},
					&cli.StringFlag{
						Name:  "strategy",
						Usage: "Interpolation kernel: linear, spline, pchip, akima1d",
					},
				},
				Action: withApp(runIngestSolar),
			},
		},
	}
}

func runIngestMeter(c *cli.Context, a *app) error {
	houseID, err := uuid.Parse(c.String("house"))
	if err != nil {
		return fmt.Errorf("invalid --house: %w", err)
	}
	strategy, err := optionalStrategy(c.String("strategy"))
	if err != nil {
		return err
	}

	result, err := a.ingestor(c).Ingest(c.Context, ingestion.Request{
		HouseID:       houseID,
		Name:          c.String("name"),
		URI:           c.String("file"),
		FifteenMinute: c.Bool("fifteen-minute"),
		Strategy:      strategy,
	})
	if err != nil {
		return err
	}
	return outputJSON(result)
}

func runIngestSolar(c *cli.Context, a *app) error {
	strategy, err := optionalStrategy(c.String("strategy"))
	if err != nil {
		return err
	}
	site := c.Int64("site")
	if site == 0 {
		site = c.Int64("solar-site-id")
	}

	rc, err := ingestion.OpenSource(c.Context, c.String("file"), a.objects)
	if err != nil {
		return err
	}
	defer rc.Close()

	points, err := a.ingestor(c).IngestSolarReference(c.Context, site, rc, strategy)
	if err != nil {
		return err
	}
	return outputJSON(map[string]any{"site_id": site, "stored_points": points})
}

func optionalStrategy(s string) (timeseries.Strategy, error) {
	if s == "" {
		return "", nil
	}
	return timeseries.ParseStrategy(s)
}

// =============================================================================
// TOPOLOGY
// =============================================================================

func topologyCommand() *cli.Command {
	return &cli.Command{
		Name:  "topology",
		Usage: "Grid topology operations",
		Subcommands: []*cli.Command{
			{
				Name:  "show",
				Usage: "Print the subtree under a node",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "root",
						Usage:    "Root node ID",
						Required: true,
					},
				},
				Action: withApp(runTopologyShow),
			},
		},
	}
}

func runTopologyShow(c *cli.Context, a *app) error {
	rootID, err := uuid.Parse(c.String("root"))
	if err != nil {
		return fmt.Errorf("invalid --root: %w", err)
	}
	g, err := a.pg.LoadSubtree(c.Context, rootID)
	if err != nil {
		return err
	}
	nodes := g.Subtree(rootID)
	if len(nodes) == 0 {
		return fmt.Errorf("node %s not found", rootID)
	}

	fmt.Println(g.String())
	fmt.Println()
	for _, n := range nodes {
		line := fmt.Sprintf("%s%-11s %s  %s", strings.Repeat("  ", n.Depth), n.Node.Type, n.Node.Name, n.Node.ID)
		if n.Node.IsHouse() {
			line += fmt.Sprintf("  (%.1f kW)", simulation.SanctionedLoad(n.Node))
		}
		fmt.Println(line)
	}
	return nil
}

// =============================================================================
// SERVE
// =============================================================================

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the HTTP API",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Value:   8080,
				Usage:   "Listen port",
				EnvVars: []string{"PORT"},
			},
			&cli.StringFlag{
				Name:    "cors-origins",
				Value:   "*",
				Usage:   "Comma-separated allowed CORS origins",
				EnvVars: []string{"CORS_ORIGINS"},
			},
			&cli.StringFlag{
				Name:    "api-key",
				Usage:   "Required X-API-Key for /api/v1 (empty disables auth)",
				EnvVars: []string{"GRIDSIM_API_KEY"},
			},
		},
		Action: withApp(runServe),
	}
}

func runServe(c *cli.Context, a *app) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := pingAll(ctx, a); err != nil {
		return fmt.Errorf("backend not ready: %w", err)
	}

	cfg := api.DefaultConfig()
	cfg.Port = c.Int("port")
	cfg.CORSOrigins = platform.SplitList(c.String("cors-origins"))
	if key := c.String("api-key"); key != "" {
		cfg.APIKey = key
	}

	server := api.NewServer(api.Deps{
		Simulator: a.simulator(),
		Bills:     a.pg,
		Summaries: a.aggregator(),
		Topology:  a.pg,
		Patterns:  a.synthesizer(),
		Uploads:   a.ingestor(c),
		Backends: map[string]api.Pinger{
			"postgres":   a.pg,
			"clickhouse": a.series,
		},
		Metrics: a.metrics,
	}, cfg).WithLogger(a.logger)

	a.logger.Info().Int("port", cfg.Port).Msg("starting API server")
	return server.ListenAndServe(ctx)
}

// =============================================================================
// MIGRATE
// =============================================================================

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:   "migrate",
		Usage:  "Create the PostgreSQL and ClickHouse schemas",
		Action: withApp(runMigrate),
	}
}

func runMigrate(c *cli.Context, a *app) error {
	if err := a.pg.Migrate(c.Context); err != nil {
		return fmt.Errorf("postgres migration failed: %w", err)
	}
	if err := a.series.Migrate(c.Context); err != nil {
		return fmt.Errorf("clickhouse migration failed: %w", err)
	}
	a.logger.Info().Msg("migrations applied")
	return nil
}

func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
