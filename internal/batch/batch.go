// Package batch evaluates a set of recordings, transcripts or saved judge
// responses with bounded concurrency.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"monitorai/internal/domain"
	"monitorai/internal/evaluation"
	"monitorai/internal/integrations/transcribe"
)

const DefaultWorkers = 4

// Mode selects how input files are read.
type Mode int

const (
	// ModeCalls reads audio files and .txt transcripts.
	ModeCalls Mode = iota
	// ModeResponses reads saved judge responses (.json or .txt) and only
	// rescores them.
	ModeResponses
)

type Options struct {
	RubricID string
	Mode     Mode
	Workers  int
}

// Outcome is the result for one input. Evaluation is set for scored and for
// failed-but-stored evaluations; Err is set whenever the input did not score.
type Outcome struct {
	Path       string
	Evaluation *domain.Evaluation
	Err        error
}

func (o Outcome) OK() bool {
	return o.Err == nil && o.Evaluation != nil && o.Evaluation.Scored()
}

// CollectInputs expands directories (recursively) and keeps only files the
// mode can read, sorted by path.
func CollectInputs(paths []string, mode Mode) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	add := func(p string) {
		if accepts(mode, p) && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	for _, root := range paths {
		st, err := os.Stat(root)
		if err != nil {
			return nil, err
		}
		if !st.IsDir() {
			if !accepts(mode, root) {
				return nil, fmt.Errorf("unsupported input %s", root)
			}
			add(root)
			continue
		}
		err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				add(p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	sort.Strings(out)
	return out, nil
}

func accepts(mode Mode, path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	if mode == ModeResponses {
		return ext == ".json" || ext == ".txt"
	}
	return ext == ".txt" || transcribe.IsSupported(path)
}

// Run evaluates every input and returns one outcome per input, in input
// order. A failing input never stops the others.
func Run(ctx context.Context, svc *evaluation.Service, inputs []string, opts Options) []Outcome {
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	outcomes := make([]Outcome, len(inputs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range inputs {
		i, path := i, path
		g.Go(func() error {
			ev, err := evaluateOne(ctx, svc, path, opts)
			var failed *evaluation.FailedError
			if errors.As(err, &failed) {
				ev = failed.Evaluation
			}
			outcomes[i] = Outcome{Path: path, Evaluation: ev, Err: err}
			if err != nil {
				log.Printf("batch input failed path=%s: %v", path, err)
			} else {
				log.Printf("batch input scored path=%s id=%s pct=%d", path, ev.ID, ev.Percentage())
			}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func evaluateOne(ctx context.Context, svc *evaluation.Service, path string, opts Options) (*domain.Evaluation, error) {
	name := filepath.Base(path)
	if opts.Mode == ModeResponses {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return svc.RescoreSubmission(ctx, evaluation.Submission{
			RubricID: opts.RubricID,
			Filename: name,
			Source:   domain.SourceRescore,
		}, string(raw))
	}

	sub := evaluation.Submission{RubricID: opts.RubricID, Filename: name, Source: domain.SourceBatch}
	if strings.EqualFold(filepath.Ext(path), ".txt") {
		text, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		sub.Transcript = string(text)
		return svc.Evaluate(ctx, sub)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	sub.Audio = f
	return svc.Evaluate(ctx, sub)
}

// Evaluations returns the evaluations present in outcomes, in order.
func Evaluations(outcomes []Outcome) []domain.Evaluation {
	var out []domain.Evaluation
	for _, o := range outcomes {
		if o.Evaluation != nil {
			out = append(out, *o.Evaluation)
		}
	}
	return out
}

// Failures counts outcomes that did not produce a score.
func Failures(outcomes []Outcome) int {
	n := 0
	for _, o := range outcomes {
		if !o.OK() {
			n++
		}
	}
	return n
}
