package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"diario/internal/app"
	"diario/internal/collect"
	"diario/internal/config"
	"diario/internal/domain"
	"diario/internal/engine"
	"diario/internal/notify"
	"diario/internal/report"
	"diario/internal/tui"
	diariosdk "diario/sdk/go"
)

var rootCmd = &cobra.Command{
	Use:   "diario",
	Short: "Diário de bordo CLI",
	Long: `diario records the daily operational log of a field team.
Each entry goes through five steps:
- Planejamento: date, shift, team, crew and the protocol backlog.
- Triagem: protocols on time and overdue; the total is computed.
- Execução: handled, impossible and not executed protocols.
- Supervisão: the supervisor's comment and sentiment.
- Relatórios: the backend consolidates the entry; the record can be exported as JSON.
Run without arguments on a terminal to open the wizard, or script an entry with 'diario run'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return app.LoadEnv(viper.GetString("workspace"))
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if !isTerminal() {
			return cmd.Help()
		}
		return runWizard(cmd.Context())
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("DIARIO")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("api", "", "API base URL (overrides api.base_url)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("api", rootCmd.PersistentFlags().Lookup("api"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func registerCommands() {
	rootCmd.AddCommand(wizardCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(planningCmd())
	rootCmd.AddCommand(reportCmd())
	rootCmd.AddCommand(dashboardCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(configCmd())
}

func wizardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wizard",
		Short: "Open the interactive wizard",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !isTerminal() {
				return errors.New("the wizard needs a terminal; use diario run --file instead")
			}
			return runWizard(cmd.Context())
		},
	}
}

func runWizard(ctx context.Context) error {
	rt, err := resolve(true)
	if err != nil {
		return err
	}
	defer rt.Log.Sync()
	center := notify.NewCenter(rt.Timing(), rt.Log)
	eng := rt.NewEngine(rt.Client(), center)
	defer eng.Close()
	rt.Log.Info("wizard started", zap.String("api", rt.Config.API.BaseURL))
	return tui.Run(ctx, eng, center)
}

// answers maps a step name to its form values.
type answers map[string]map[string]any

func (a answers) form(step domain.Step) (collect.FormSnapshot, bool) {
	for name, values := range a {
		s, err := domain.ParseStep(name)
		if err != nil || s != step {
			continue
		}
		form := collect.FormSnapshot{}
		for k, v := range values {
			if v == nil {
				continue
			}
			form[k] = fmt.Sprint(v)
		}
		return form, true
	}
	return nil, false
}

// validate rejects unknown steps, two keys naming the same step and the
// reporting step, which has no form and is driven by --finalize.
func (a answers) validate() error {
	seen := map[domain.Step]string{}
	for name := range a {
		step, err := domain.ParseStep(name)
		if err != nil {
			return err
		}
		if step == domain.StepReporting {
			return fmt.Errorf("step %q has no answers; use --finalize", name)
		}
		if prev, ok := seen[step]; ok {
			first, second := prev, name
			if second < first {
				first, second = second, first
			}
			return fmt.Errorf("steps %q and %q both name %s", first, second, step)
		}
		seen[step] = name
	}
	return nil
}

func runCmd() *cobra.Command {
	var file, dir string
	var finalize, export bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Submit an entry from a YAML answers file",
		Long: `Submits the steps found in the answers file in workflow order, for example:

planejamento:
  data: "2024-05-01"
  turno: M1
  equipe: Equipe 7
  colaborador1: Ana
triagem:
  protocolos_prazo: 12
  protocolos_vencidos: 3
execucao:
  atendido: 12
supervisao:
  comentario_supervisor: ok`,
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var ans answers
			if err := yaml.Unmarshal(data, &ans); err != nil {
				return fmt.Errorf("invalid answers yaml: %w", err)
			}
			if err := ans.validate(); err != nil {
				return err
			}
			rt, err := resolve(false)
			if err != nil {
				return err
			}
			defer rt.Log.Sync()
			sink := notify.WriterSink{W: os.Stderr, Plain: !isTerminal()}
			eng := rt.NewEngine(rt.Client(), sink)
			defer eng.Close()

			ctx := cmd.Context()
			for _, step := range domain.Steps[:len(domain.Steps)-1] {
				form, ok := ans.form(step)
				if !ok {
					continue
				}
				if err := eng.Submit(ctx, step, form); err != nil {
					return fmt.Errorf("%s: %w", step.Label(), err)
				}
			}
			if finalize {
				if err := eng.Finalize(ctx); err != nil {
					return fmt.Errorf("%s: %w", domain.StepReporting.Label(), err)
				}
			}
			st := eng.Snapshot()
			var path string
			if export {
				if path, err = eng.Export(dir); err != nil {
					return err
				}
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{
					"planning_id": st.Record.PlanningID,
					"record":      st.Record,
					"finalized":   st.Finalized,
					"indicators":  st.Indicators,
					"export":      path,
				})
			}
			printSummary(st)
			if path != "" {
				fmt.Println("Exported:", path)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "answers YAML file")
	cmd.Flags().BoolVar(&finalize, "finalize", false, "consolidate the entry after the last step")
	cmd.Flags().BoolVar(&export, "export", false, "write the JSON report")
	cmd.Flags().StringVar(&dir, "dir", "", "export directory (overrides export.dir)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func printSummary(st engine.State) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Campo", "Valor"})
	id := report.Placeholder
	if st.Record.PlanningID != nil {
		id = *st.Record.PlanningID
	}
	tw.AppendRow(table.Row{"ID", id})
	for _, row := range report.Summary(st.Record) {
		tw.AppendRow(table.Row{row.Label, row.Value})
	}
	if st.Indicators != nil {
		tw.AppendSeparator()
		tw.AppendRow(table.Row{"Status", st.Indicators.Status})
		tw.AppendRow(table.Row{"Eficiência", st.Indicators.EfficiencyLabel()})
		tw.AppendRow(table.Row{"Problemas", st.Indicators.Problems})
	}
	tw.Render()
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the development API server",
		Long:  "Serves the /api contract on a SQLite database in the workspace (.diario/diario.db).",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := resolve(false)
			if err != nil {
				return err
			}
			defer rt.Log.Sync()
			dev, err := rt.OpenDevServer(cmd.Context(), addr, basePath)
			if err != nil {
				return err
			}
			defer dev.Close()
			srv := dev.HTTP
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving diario API on http://%s%s (OpenAPI at %s/openapi.json, docs at %s/docs)\n", srv.Addr, dev.BasePath, dev.BasePath, dev.BasePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (overrides server.base_path)")
	return cmd
}

func filterFlags(cmd *cobra.Command, f *diariosdk.Filter, withShift bool) {
	cmd.Flags().StringVar(&f.From, "from", "", "first date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.To, "to", "", "last date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.Team, "team", "", "team name contains")
	if withShift {
		cmd.Flags().StringVar(&f.Shift, "shift", "", "shift")
	}
}

func planningCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "planning", Short: "Inspect stored plannings"}
	cmd.AddCommand(planningListCmd())
	cmd.AddCommand(planningShowCmd())
	return cmd
}

func planningListCmd() *cobra.Command {
	var f diariosdk.Filter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List plannings, newest date first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(c *diariosdk.Client) error {
				items, err := c.ListPlannings(cmd.Context(), f)
				if err != nil {
					return err
				}
				return printJSONOrTable(items, func(tw table.Writer) {
					tw.AppendHeader(table.Row{"ID", "Data", "Turno", "Equipe", "Total", "Eficiência", "Triagem", "Status"})
					for _, p := range items {
						tw.AppendRow(table.Row{p.ID, p.Date, p.Shift, p.Team, intOrDash(p.Total), percentOrDash(p.Efficiency), strOrDash(p.TriageStatus), strOrDash(p.FinalStatus)})
					}
				})
			})
		},
	}
	filterFlags(cmd, &f, true)
	return cmd
}

func planningShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one planning",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(c *diariosdk.Client) error {
				p, err := c.GetPlanning(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p, func(tw table.Writer) {
					tw.AppendHeader(table.Row{"Campo", "Valor"})
					keys := make([]string, 0, len(p))
					for k := range p {
						keys = append(keys, k)
					}
					sort.Strings(keys)
					for _, k := range keys {
						v := p[k]
						if v == nil {
							v = report.Placeholder
						}
						tw.AppendRow(table.Row{k, v})
					}
				})
			})
		},
	}
}

func reportCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "report", Short: "Inspect consolidated reports"}
	cmd.AddCommand(reportListCmd())
	return cmd
}

func reportListCmd() *cobra.Command {
	var f diariosdk.Filter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List reports, newest date first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(c *diariosdk.Client) error {
				items, err := c.ListReports(cmd.Context(), f)
				if err != nil {
					return err
				}
				return printJSONOrTable(items, func(tw table.Writer) {
					tw.AppendHeader(table.Row{"ID", "Planejamento", "Data", "Turno", "Equipe", "Eficiência", "Gerado em"})
					for _, r := range items {
						metrics, _ := r.Report["metricas"].(map[string]any)
						eff := any(report.Placeholder)
						if v, ok := metrics["eficiencia"]; ok && v != nil {
							eff = fmt.Sprintf("%v%%", v)
						}
						tw.AppendRow(table.Row{r.ID, r.PlanningID, r.Date, r.Shift, r.Team, eff, r.CreatedAt})
					}
				})
			})
		},
	}
	filterFlags(cmd, &f, false)
	return cmd
}

func dashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Show aggregate statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(c *diariosdk.Client) error {
				d, err := c.Dashboard(cmd.Context())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				stats := table.NewWriter()
				stats.SetOutputMirror(os.Stdout)
				stats.SetTitle("Estatísticas")
				stats.AppendRows([]table.Row{
					{"Planejamentos", d.Stats.TotalPlannings},
					{"Finalizados", d.Stats.FinalizedPlannings},
					{"Eficiência média", fmt.Sprintf("%.2f%%", d.Stats.AverageEfficiency)},
					{"Protocolos não enviados", d.Stats.NotSentOnTime},
					{"Protocolos que vencem hoje", d.Stats.DueToday},
				})
				statuses := make([]string, 0, len(d.Stats.StatusCounts))
				for s := range d.Stats.StatusCounts {
					statuses = append(statuses, s)
				}
				sort.Strings(statuses)
				if len(statuses) > 0 {
					stats.AppendSeparator()
				}
				for _, s := range statuses {
					stats.AppendRow(table.Row{"Status " + s, d.Stats.StatusCounts[s]})
				}
				stats.Render()

				recent := table.NewWriter()
				recent.SetOutputMirror(os.Stdout)
				recent.SetTitle("Recentes")
				recent.AppendHeader(table.Row{"ID", "Data", "Turno", "Equipe", "Status"})
				for _, p := range d.Recent {
					recent.AppendRow(table.Row{p.ID, p.Date, p.Shift, p.Team, strOrDash(p.FinalStatus)})
				}
				recent.Render()
				return nil
			})
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Event log of the development server",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(c *diariosdk.Client) error {
				events, err := c.Events(cmd.Context(), n)
				if err != nil {
					return err
				}
				return printJSONOrTable(events, func(tw table.Writer) {
					tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Payload"})
					for _, e := range events {
						tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityKind + ":" + e.EntityID, e.Payload})
					}
				})
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
		Long:  "Config lives in diario.yml in the workspace: API address and timeout, wizard reset delay, notification timing, export dir, logging and the development server.",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configUseAPICmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := resolve(false)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(rt.Config)
			}
			out, err := yaml.Marshal(rt.Config)
			if err != nil {
				return err
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate diario.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": errString(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default diario.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; use --force to overwrite", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("Wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configUseAPICmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use-api <url>",
		Short: "Point the workspace at an API (writes DIARIO_API to .env)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			check := config.Default()
			check.API.BaseURL = args[0]
			if err := check.Validate(); err != nil {
				return err
			}
			path, err := app.SetEnvValue(viper.GetString("workspace"), app.EnvAPI, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("API set to %s in %s\n", args[0], path)
			return nil
		},
	}
}

// --- helpers ---

func resolve(logToFile bool) (*app.Context, error) {
	return app.Resolve(app.Options{
		Workspace: viper.GetString("workspace"),
		API:       viper.GetString("api"),
		Verbose:   viper.GetBool("verbose"),
		LogToFile: logToFile,
	})
}

func withClient(fn func(*diariosdk.Client) error) error {
	rt, err := resolve(false)
	if err != nil {
		return err
	}
	defer rt.Log.Sync()
	c := rt.Client()
	if err := fn(c); err != nil {
		rt.Log.Debug("request failed", zap.String("api", c.BaseURL), zap.Error(err))
		var apiErr *diariosdk.APIError
		if errors.As(err, &apiErr) && apiErr.Message != "" {
			return errors.New(apiErr.Message)
		}
		return err
	}
	return nil
}

func isTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd())) && term.IsTerminal(int(os.Stdin.Fd()))
}

func printJSONOrTable(v any, fill func(table.Writer)) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	fill(tw)
	tw.Render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func intOrDash(v *int) any {
	if v == nil {
		return report.Placeholder
	}
	return *v
}

func percentOrDash(v *int) string {
	if v == nil {
		return report.Placeholder
	}
	return fmt.Sprintf("%d%%", *v)
}

func strOrDash(v *string) string {
	if v == nil || *v == "" {
		return report.Placeholder
	}
	return *v
}
