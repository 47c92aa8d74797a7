package main

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/consolidate-cli/internal/resolve"
	"github.com/sells-group/consolidate-cli/internal/store"
)

var importSource string

var importCmd = &cobra.Command{
	Use:   "import <authority.csv>",
	Short: "Load an authority dataset into the local store",
	Long:  "Expects CSV columns: name, state, field_key, value, confidence. Names are normalized on load so lookups match regardless of punctuation or legal suffixes.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if importSource == "" {
			return eris.New("--source is required")
		}

		f, err := os.Open(args[0])
		if err != nil {
			return eris.Wrapf(err, "open %s", args[0])
		}
		defer f.Close()

		rows, err := parseAuthorityCSV(f, importSource)
		if err != nil {
			return err
		}

		st, err := store.Open(ctx, cfg)
		if err != nil {
			return eris.Wrap(err, "open store")
		}
		defer st.Close()

		if err := st.PutAuthority(ctx, rows); err != nil {
			return err
		}
		zap.L().Info("authority dataset loaded",
			zap.String("source", importSource),
			zap.Int("rows", len(rows)))
		return nil
	},
}

func parseAuthorityCSV(r io.Reader, source string) ([]store.AuthorityRow, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return nil, eris.Wrap(err, "read header")
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, required := range []string{"name", "field_key", "value", "confidence"} {
		if _, ok := col[required]; !ok {
			return nil, eris.Errorf("missing column %q", required)
		}
	}

	var rows []store.AuthorityRow
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "line %d", line)
		}
		line++

		conf, err := strconv.ParseFloat(record[col["confidence"]], 64)
		if err != nil || conf <= 0 || conf > 1 {
			return nil, eris.Errorf("line %d: confidence must be in (0, 1]", line)
		}

		state := ""
		if i, ok := col["state"]; ok {
			state = record[i]
		}
		rows = append(rows, store.AuthorityRow{
			NameNorm:   resolve.NormalizeName(record[col["name"]]),
			State:      state,
			FieldKey:   record[col["field_key"]],
			Value:      record[col["value"]],
			Confidence: conf,
			Source:     source,
		})
	}
	if len(rows) == 0 {
		return nil, eris.New("no data rows")
	}
	return rows, nil
}

func init() {
	importCmd.Flags().StringVar(&importSource, "source", "", "dataset name recorded in provenance")
	rootCmd.AddCommand(importCmd)
}
