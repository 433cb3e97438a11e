package cli

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/turtacn/nerruler/internal/application/annotate"
	"github.com/turtacn/nerruler/internal/intelligence/evaluation"
	"github.com/turtacn/nerruler/pkg/errors"
)

func newEvaluateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "evaluate <corpus>",
		Short: "Score the active pattern table against a gold corpus",
		Long: "Evaluate annotates every example of a gold corpus and prints per-label\n" +
			"precision, recall and F1 with micro and macro averages. The corpus is a\n" +
			"JSON array of {text, tokens?, gold} objects or one such object per line.\n" +
			"Use - to read the corpus from standard input.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvaluate(cmd, args[0])
		},
	}
}

func runEvaluate(cmd *cobra.Command, path string) error {
	cc, err := GetCLIContext(cmd)
	if err != nil {
		return err
	}

	var data []byte
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeBadRequest, "read corpus").WithDetail(path)
	}
	examples, err := parseCorpus(data)
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

	res, err := rt.Service.EvaluateCorpus(ctx, examples)
	if err != nil {
		return err
	}
	if cc.OutputFormat == "json" {
		return PrintResult(cmd, res)
	}
	return PrintResult(cmd, evaluationReport{res})
}

// parseCorpus accepts a JSON array or JSON Lines.
func parseCorpus(data []byte) ([]annotate.Example, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New(errors.ErrCodeMalformedEvaluationInput, "corpus is empty")
	}

	if trimmed[0] == '[' {
		var examples []annotate.Example
		if err := json.Unmarshal(trimmed, &examples); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeMalformedEvaluationInput, "decode corpus")
		}
		return examples, nil
	}

	var examples []annotate.Example
	sc := bufio.NewScanner(bytes.NewReader(trimmed))
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var ex annotate.Example
		if err := json.Unmarshal([]byte(text), &ex); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeMalformedEvaluationInput, "decode corpus").
				WithDetail(fmt.Sprintf("line=%d", line))
		}
		examples = append(examples, ex)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeMalformedEvaluationInput, "scan corpus")
	}
	return examples, nil
}

// evaluationReport renders a Result as the classification report.
type evaluationReport struct {
	*evaluation.Result
}

func (r evaluationReport) String() string {
	var b strings.Builder
	if err := evaluation.FormatTable(&b, r.Report()); err != nil {
		return err.Error()
	}
	return strings.TrimRight(b.String(), "\n")
}

func (r evaluationReport) TableHeaders() []string {
	return []string{"LABEL", "PRECISION", "RECALL", "F1", "SUPPORT"}
}

func (r evaluationReport) TableRows() [][]string {
	report := r.Report()
	rows := make([][]string, 0, len(report))
	for _, row := range report {
		rows = append(rows, []string{
			row.Name,
			fmt.Sprintf("%.4f", row.Precision),
			fmt.Sprintf("%.4f", row.Recall),
			fmt.Sprintf("%.4f", row.F1),
			fmt.Sprintf("%d", row.Support),
		})
	}
	return rows
}
