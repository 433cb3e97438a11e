package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/nerruler/internal/application/annotate"
	"github.com/turtacn/nerruler/pkg/errors"
)

type annotateOptions struct {
	text  string
	file  string
	lines bool
	index bool
}

func newAnnotateCmd() *cobra.Command {
	opts := &annotateOptions{}
	cmd := &cobra.Command{
		Use:   "annotate",
		Short: "Annotate text with the active pattern table",
		Long: "Annotate reads a document from --text, --file or standard input and prints\n" +
			"the resolved entities. With --lines every input line is a separate document.",
		Example: `  nerruler annotate --text "Go 1.22 shipped in February 2024"
  cat notes.txt | nerruler annotate --lines -o table`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAnnotate(cmd, opts)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&opts.text, "text", "t", "", "document text")
	f.StringVarP(&opts.file, "file", "f", "", "read the document from a file")
	f.BoolVar(&opts.lines, "lines", false, "treat each input line as a separate document")
	f.BoolVar(&opts.index, "index", false, "index annotated documents in OpenSearch")
	cmd.MarkFlagsMutuallyExclusive("text", "file")
	return cmd
}

func runAnnotate(cmd *cobra.Command, opts *annotateOptions) error {
	cc, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}
	docs, err := readDocuments(cmd.InOrStdin(), opts)
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

	results := make(annotationResults, 0, len(docs))
	for i, text := range docs {
		res, err := rt.Service.Annotate(ctx, &annotate.AnnotateInput{
			ID:    documentID(opts, i),
			Text:  text,
			Index: opts.index,
		})
		if err != nil {
			return err
		}
		results = append(results, res)
	}

	if len(results) == 1 && cc.OutputFormat == "json" {
		return PrintResult(cmd, results[0])
	}
	return PrintResult(cmd, results)
}

// documentID is empty for a single document so the service assigns one.
func documentID(opts *annotateOptions, i int) string {
	if !opts.lines {
		return ""
	}
	return "line-" + strconv.Itoa(i+1)
}

func readDocuments(stdin io.Reader, opts *annotateOptions) ([]string, error) {
	var raw string
	switch {
	case opts.text != "":
		raw = opts.text
	case opts.file != "":
		data, err := os.ReadFile(opts.file)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeBadRequest, "read input file").WithDetail(opts.file)
		}
		raw = string(data)
	default:
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeBadRequest, "read standard input")
		}
		raw = string(data)
	}

	if !opts.lines {
		if strings.TrimSpace(raw) == "" {
			return nil, errors.InvalidParam("no input text")
		}
		return []string{strings.TrimRight(raw, "\r\n")}, nil
	}

	var docs []string
	sc := bufio.NewScanner(strings.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		if line := sc.Text(); strings.TrimSpace(line) != "" {
			docs = append(docs, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeBadRequest, "scan input lines")
	}
	if len(docs) == 0 {
		return nil, errors.InvalidParam("no input text")
	}
	return docs, nil
}

// annotationResults renders annotations as text, table or JSON.
type annotationResults []*annotate.AnnotateResult

func (r annotationResults) String() string {
	var b strings.Builder
	for _, res := range r {
		if len(r) > 1 {
			fmt.Fprintf(&b, "# %s\n", res.ID)
		}
		for _, e := range res.Entities {
			fmt.Fprintf(&b, "%s\t%s\t[%d:%d]\n", e.Label, e.Text, e.Start, e.End)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r annotationResults) TableHeaders() []string {
	return []string{"DOCUMENT", "LABEL", "START", "END", "SOURCE", "TEXT"}
}

func (r annotationResults) TableRows() [][]string {
	var rows [][]string
	for _, res := range r {
		for _, e := range res.Entities {
			rows = append(rows, []string{
				res.ID, e.Label, strconv.Itoa(e.Start), strconv.Itoa(e.End), e.Source.String(), e.Text,
			})
		}
	}
	return rows
}
