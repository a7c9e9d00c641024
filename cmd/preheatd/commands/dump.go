package commands

import (
	"fmt"
	"os"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/preheatd/preheatd/internal/bytesize"
	"github.com/preheatd/preheatd/internal/cli/output"
	"github.com/preheatd/preheatd/pkg/config"
	"github.com/preheatd/preheatd/pkg/model"
	"github.com/preheatd/preheatd/pkg/store"
)

var (
	dumpLimit  int
	dumpFormat string
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the learned model",
	Long: `Print the persisted model: tracked executables, their mapped files,
the strongest launch correlations, and excluded executables.

The daemon does not need to be running; dump reads the database directly.

Examples:
  # Summary plus the 20 strongest correlations
  preheatd dump

  # Everything, as JSON
  preheatd dump --limit 0 --output json`,
	RunE: runDump,
}

func init() {
	dumpCmd.Flags().IntVar(&dumpLimit, "limit", 20, "Maximum correlation pairs to show (0 = all)")
	dumpCmd.Flags().StringVarP(&dumpFormat, "output", "o", "table", "Output format (table|json|yaml)")
}

// dumpExe is the serializable view of one tracked executable.
type dumpExe struct {
	Seq     int64  `json:"seq"     yaml:"seq"`
	URI     string `json:"uri"     yaml:"uri"`
	RunTime int64  `json:"run_time_seconds" yaml:"run_time_seconds"`
	Maps    int    `json:"maps"    yaml:"maps"`
	Bytes   uint64 `json:"bytes"   yaml:"bytes"`
}

// dumpPair is the serializable view of one correlation pair.
type dumpPair struct {
	A      string  `json:"a"      yaml:"a"`
	B      string  `json:"b"      yaml:"b"`
	Weight float64 `json:"weight" yaml:"weight"`
}

type dumpDoc struct {
	Exes    []dumpExe  `json:"exes"     yaml:"exes"`
	Pairs   []dumpPair `json:"pairs"    yaml:"pairs"`
	BadExes []string   `json:"bad_exes" yaml:"bad_exes"`
}

func runDump(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(dumpFormat)
	if err != nil {
		return err
	}

	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}

	st, err := store.Open(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	reg, mdl, err := st.Load(cfg.RegistryConfig(), cfg.CorrelationConfig())
	if err != nil {
		return err
	}

	doc := buildDump(reg, mdl, dumpLimit)

	switch format {
	case output.FormatJSON:
		return output.PrintJSON(os.Stdout, doc)
	case output.FormatYAML:
		return output.PrintYAML(os.Stdout, doc)
	default:
		return printDumpTables(doc, reg, mdl)
	}
}

func buildDump(reg *model.Registry, mdl *model.Model, limit int) dumpDoc {
	doc := dumpDoc{}

	for e := range reg.KnownExes() {
		doc.Exes = append(doc.Exes, dumpExe{
			Seq:     int64(e.Seq),
			URI:     e.URI,
			RunTime: e.RunTime,
			Maps:    len(e.Maps),
			Bytes:   e.Size(reg),
		})
	}

	pairs := mdl.Pairs()
	slices.SortFunc(pairs, func(x, y *model.MarkovState) int {
		switch {
		case x.Weight > y.Weight:
			return -1
		case x.Weight < y.Weight:
			return 1
		default:
			return int(x.A - y.A)
		}
	})
	if limit > 0 && len(pairs) > limit {
		pairs = pairs[:limit]
	}
	for _, ms := range pairs {
		doc.Pairs = append(doc.Pairs, dumpPair{
			A:      exeURI(reg, ms.A),
			B:      exeURI(reg, ms.B),
			Weight: ms.Weight,
		})
	}

	bad := reg.BadExes()
	for uri := range bad {
		doc.BadExes = append(doc.BadExes, uri)
	}
	slices.Sort(doc.BadExes)

	return doc
}

func exeURI(reg *model.Registry, seq model.Seq) string {
	if e, ok := reg.ExeBySeq(seq); ok {
		return e.URI
	}
	return fmt.Sprintf("seq:%d", seq)
}

func printDumpTables(doc dumpDoc, reg *model.Registry, mdl *model.Model) error {
	if err := output.SimpleTable(os.Stdout, [][2]string{
		{"Executables", strconv.Itoa(reg.CountExes())},
		{"Maps", strconv.Itoa(reg.CountMaps())},
		{"Pairs", strconv.Itoa(mdl.CountPairs())},
		{"Excluded", strconv.Itoa(len(doc.BadExes))},
	}); err != nil {
		return err
	}
	fmt.Println()

	exes := output.NewTableData("SEQ", "EXECUTABLE", "RUNTIME", "MAPS", "SIZE")
	for _, e := range doc.Exes {
		exes.AddRow(
			strconv.FormatInt(e.Seq, 10),
			e.URI,
			fmt.Sprintf("%ds", e.RunTime),
			strconv.Itoa(e.Maps),
			bytesize.ByteSize(e.Bytes).String(),
		)
	}
	if err := output.PrintTable(os.Stdout, exes); err != nil {
		return err
	}

	if len(doc.Pairs) > 0 {
		fmt.Println()
		pairs := output.NewTableData("A", "B", "WEIGHT")
		for _, p := range doc.Pairs {
			pairs.AddRow(p.A, p.B, strconv.FormatFloat(p.Weight, 'f', 3, 64))
		}
		if err := output.PrintTable(os.Stdout, pairs); err != nil {
			return err
		}
	}

	if len(doc.BadExes) > 0 {
		fmt.Println()
		bad := output.NewTableData("EXCLUDED")
		for _, uri := range doc.BadExes {
			bad.AddRow(uri)
		}
		if err := output.PrintTable(os.Stdout, bad); err != nil {
			return err
		}
	}
	return nil
}
