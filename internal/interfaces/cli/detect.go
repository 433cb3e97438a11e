package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/nerruler/internal/application/annotate"
)

func newDetectCmd() *cobra.Command {
	var label, text string
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "List the regex matches of one label in raw text",
		Long: "Detect runs only the regex patterns registered for --label over the\n" +
			"normalized text and prints every match in document order. No token\n" +
			"alignment or span resolution is applied.",
		Example: `  nerruler detect --label DATE --text "released 2024-02-06, patched 2024-03-05"`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := operationContext(cmd, cc)
			defer cancel()
			rt, err := NewRuntime(ctx, cc.Config, cc.Logger, "cli")
			if err != nil {
				return err
			}
			defer rt.Close()

			matches, err := rt.Service.DetectByType(ctx, label, text)
			if err != nil {
				return err
			}
			if cc.OutputFormat == "json" {
				return PrintResult(cmd, map[string]interface{}{"label": label, "matches": matches})
			}
			return PrintResult(cmd, matchList(matches))
		},
	}
	cmd.Flags().StringVarP(&label, "label", "l", "", "entity label (required)")
	cmd.Flags().StringVarP(&text, "text", "t", "", "text to scan (required)")
	_ = cmd.MarkFlagRequired("label")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

type matchList []string

func (m matchList) String() string { return strings.Join(m, "\n") }

func (m matchList) TableHeaders() []string { return []string{"#", "MATCH"} }

func (m matchList) TableRows() [][]string {
	rows := make([][]string, len(m))
	for i, s := range m {
		rows[i] = []string{strconv.Itoa(i + 1), s}
	}
	return rows
}

func newDocumentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "documents",
		Short: "Query documents indexed in OpenSearch",
	}

	in := &annotate.SearchInput{}
	search := &cobra.Command{
		Use:   "search",
		Short: "Find indexed documents by entity label and text",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := operationContext(cmd, cc)
			defer cancel()
			rt, err := NewRuntime(ctx, cc.Config, cc.Logger, "cli")
			if err != nil {
				return err
			}
			defer rt.Close()

			res, err := rt.Service.SearchDocuments(ctx, in)
			if err != nil {
				return err
			}
			return PrintResult(cmd, res)
		},
	}
	search.Flags().StringVar(&in.Label, "label", "", "entity label")
	search.Flags().StringVar(&in.Text, "text", "", "entity text")
	search.Flags().IntVar(&in.Size, "size", 0, "page size")

	labels := &cobra.Command{
		Use:   "labels",
		Short: "Count indexed entities per label",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := operationContext(cmd, cc)
			defer cancel()
			rt, err := NewRuntime(ctx, cc.Config, cc.Logger, "cli")
			if err != nil {
				return err
			}
			defer rt.Close()

			counts, err := rt.Service.LabelCounts(ctx)
			if err != nil {
				return err
			}
			if cc.OutputFormat == "json" {
				return PrintResult(cmd, counts)
			}
			return PrintResult(cmd, labelCounts(counts))
		},
	}

	cmd.AddCommand(search, labels)
	return cmd
}

type labelCounts map[string]int64

func (l labelCounts) TableHeaders() []string { return []string{"LABEL", "ENTITIES"} }

func (l labelCounts) TableRows() [][]string {
	names := make([]string, 0, len(l))
	for name := range l {
		names = append(names, name)
	}
	sort.Strings(names)
	rows := make([][]string, len(names))
	for i, name := range names {
		rows[i] = []string{name, strconv.FormatInt(l[name], 10)}
	}
	return rows
}

func (l labelCounts) String() string {
	var b strings.Builder
	for _, row := range l.TableRows() {
		fmt.Fprintf(&b, "%s\t%s\n", row[0], row[1])
	}
	return strings.TrimRight(b.String(), "\n")
}
