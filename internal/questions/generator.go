package questions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"resume-pipeline/internal/config"
)

var ErrNoSkills = errors.New("no skills provided")

// Completer answers a single prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

var (
	numberingRe = regexp.MustCompile(`^\s*(?:(?:Q(?:uestion)?\s*)?\d+\s*[.):-]|[-*•]|#+)\s*`)
	preambleRe  = regexp.MustCompile(`(?i)^(here (are|is)|sure|certainly|below are)\b.*`)
)

func BuildPrompt(skill string, n int) string {
	return fmt.Sprintf("For the skill '%s', generate %d challenging interview questions.", skill, n)
}

// ParseQuestions splits a model answer into questions, one per line, dropping
// numbering, bullets, blank lines and any introductory sentence.
func ParseQuestions(answer string, limit int) []string {
	var out []string
	for _, line := range strings.Split(answer, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if preambleRe.MatchString(line) && strings.HasSuffix(line, ":") {
			continue
		}
		line = numberingRe.ReplaceAllString(strings.TrimLeft(line, "*"), "")
		line = strings.Trim(line, "*")
		if line = strings.TrimSpace(line); line == "" {
			continue
		}
		out = append(out, line)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// NormalizeSkills trims skills, drops blanks and case-insensitive duplicates,
// and keeps at most limit of them.
func NormalizeSkills(skills []string, limit int) []string {
	seen := map[string]bool{}
	var out []string
	for _, s := range skills {
		s = strings.TrimSpace(s)
		k := strings.ToLower(s)
		if s == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, s)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Generator asks the model for interview questions, one prompt per skill.
type Generator struct {
	model       Completer
	perSkill    int
	maxSkills   int
	concurrency int
	log         *slog.Logger
}

func NewGenerator(model Completer, cfg config.Generator, log *slog.Logger) *Generator {
	if log == nil {
		log = slog.Default()
	}
	conc := cfg.Concurrency
	if conc <= 0 {
		conc = 1
	}
	return &Generator{
		model:       model,
		perSkill:    cfg.QuestionsPerSkill,
		maxSkills:   cfg.MaxSkills,
		concurrency: conc,
		log:         log,
	}
}

// Generate returns questions keyed by skill. It fails as a whole, with the
// first error, when any skill fails.
func (g *Generator) Generate(ctx context.Context, skills []string) (map[string][]string, error) {
	skills = NormalizeSkills(skills, g.maxSkills)
	if len(skills) == 0 {
		return nil, ErrNoSkills
	}

	var mu sync.Mutex
	out := make(map[string][]string, len(skills))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)
	for _, skill := range skills {
		eg.Go(func() error {
			answer, err := g.model.Complete(egCtx, BuildPrompt(skill, g.perSkill))
			if err != nil {
				return fmt.Errorf("skill %q: %w", skill, err)
			}
			qs := ParseQuestions(answer, g.perSkill)
			if len(qs) == 0 {
				return &RetryableError{Err: fmt.Errorf("skill %q: model returned no questions", skill)}
			}

			mu.Lock()
			out[skill] = qs
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		g.log.Warn("question generation failed", "skills", len(skills), "error", err)
		return nil, err
	}

	g.log.Info("generated questions", "skills", len(skills))
	return out, nil
}
