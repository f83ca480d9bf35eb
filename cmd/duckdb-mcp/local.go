package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/malbeclabs/duckdb-mcp/internal/gateway"
	"github.com/malbeclabs/duckdb-mcp/internal/mcp/tools"
)

func newCallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "call <operation> [json-arguments]",
		Short: "Invoke one operation locally and print its JSON result",
		Long: "Invoke one operation of the dispatch table without an MCP client, e.g.\n\n" +
			`  duckdb-mcp call execute_query '{"query": "SELECT 42"}'`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.close(); cerr != nil && err == nil {
					err = cerr
				}
			}()

			var raw json.RawMessage
			if len(args) == 2 {
				raw = json.RawMessage(args[1])
			}
			res, err := a.reg.Invoke(cmd.Context(), args[0], raw)
			if err != nil {
				return printToolError(cmd.OutOrStdout(), err)
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
}

// printToolError writes the error envelope to out and returns the error so the
// process exits non-zero.
func printToolError(out io.Writer, err error) error {
	var te *tools.ToolError
	if errors.As(err, &te) {
		if werr := writeJSON(out, te.Envelope); werr != nil {
			return werr
		}
	}
	return err
}

func newQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <sql>",
		Short: "Run a read-only query and print the result as a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			paramsJSON, err := cmd.Flags().GetString("params")
			if err != nil {
				return fmt.Errorf("failed to get params flag: %w", err)
			}
			var params tools.Params
			if paramsJSON != "" {
				if err := json.Unmarshal([]byte(paramsJSON), &params); err != nil {
					return fmt.Errorf("failed to parse params: %w", err)
				}
			}

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.close(); cerr != nil && err == nil {
					err = cerr
				}
			}()

			res, err := a.gw.Query(cmd.Context(), gateway.QueryRequest{SQL: args[0], Params: []any(params)})
			if err != nil {
				return err
			}
			renderResultSet(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().String("params", "", `positional parameters as a JSON array, e.g. '[1, "a"]'`)
	return cmd
}

func renderResultSet(out io.Writer, res gateway.ResultSet) {
	table := tablewriter.NewWriter(out)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(true)
	table.SetHeader(res.Columns)
	for _, row := range res.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = formatCell(v)
		}
		table.Append(cells)
	}
	table.Render()

	suffix := ""
	if res.Truncated {
		suffix = " (truncated)"
	}
	fmt.Fprintf(out, "%d row%s%s\n", res.RowCount, plural(res.RowCount), suffix)
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return strings.ReplaceAll(x, "\n", `\n`)
	}
	return fmt.Sprint(v)
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the database status snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := a.close(); cerr != nil && err == nil {
					err = cerr
				}
			}()

			st, err := a.gw.Status(cmd.Context())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), st)
		},
	}
}
