package retention

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// DateFolderLayout is the naming convention of dated backup folders.
const DateFolderLayout = "2006-01-02"

// Entry is one persisted backup with its timestamp.
type Entry struct {
	Name      string
	Timestamp time.Time
}

// DeleteFunc removes the named entry from a target's storage.
type DeleteFunc func(name string) error

// Failure is an entry that was expired but could not be deleted.
type Failure struct {
	Name string
	Err  error
}

// Result is the outcome of one pruning pass.
type Result struct {
	Deleted  []string
	Retained []string
	Skipped  []string
	Failed   []Failure
}

// Err joins all deletion failures, or returns nil when there were none.
func (r Result) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failed))
	for _, f := range r.Failed {
		errs = append(errs, fmt.Errorf("delete %s: %w", f.Name, f.Err))
	}
	return errors.Join(errs...)
}

// Prune calls del for every entry strictly older than threshold. A failed
// deletion is recorded and the pass continues with the remaining entries.
func Prune(entries []Entry, threshold time.Time, del DeleteFunc) Result {
	var res Result
	for _, e := range entries {
		if !e.Timestamp.Before(threshold) {
			res.Retained = append(res.Retained, e.Name)
			continue
		}
		if err := del(e.Name); err != nil {
			res.Failed = append(res.Failed, Failure{Name: e.Name, Err: err})
			continue
		}
		res.Deleted = append(res.Deleted, e.Name)
	}
	return res
}

// Pruner applies a policy on behalf of a target plugin.
type Pruner struct {
	Policy *Policy
	Now    time.Time
	DryRun bool
	Logger zerolog.Logger
}

// Threshold returns the cutoff and whether pruning is enabled.
func (p *Pruner) Threshold() (time.Time, bool) {
	if !p.Policy.Enabled() {
		return time.Time{}, false
	}
	return p.Policy.Threshold(p.Now), true
}

// Prune removes expired entries. Without a policy nothing is deleted.
func (p *Pruner) Prune(entries []Entry, del DeleteFunc) Result {
	threshold, ok := p.Threshold()
	if !ok {
		p.Logger.Debug().Msg("no retention configured, keeping backups indefinitely")
		res := Result{}
		for _, e := range entries {
			res.Retained = append(res.Retained, e.Name)
		}
		return res
	}

	p.Logger.Info().Time("threshold", threshold).Msg("removing backups created before threshold")

	res := Prune(entries, threshold, func(name string) error {
		if p.DryRun {
			p.Logger.Info().Str("entry", name).Msg("dry run: would delete")
			return nil
		}
		p.Logger.Info().Str("entry", name).Msg("deleting expired backup")
		return del(name)
	})

	for _, f := range res.Failed {
		p.Logger.Error().Err(f.Err).Str("entry", f.Name).Msg("failed to delete expired backup")
	}
	if len(res.Failed) == 0 {
		p.Logger.Info().Int("deleted", len(res.Deleted)).Msg("all obsolete backups removed")
	}
	return res
}

// PruneNames parses each name with layout and prunes the ones that parse.
// Names that do not follow the convention are not backups: they are skipped
// with a warning and never deleted.
func (p *Pruner) PruneNames(names []string, layout string, del DeleteFunc) Result {
	entries, skipped := p.parseNames(names, layout)
	res := p.Prune(entries, del)
	res.Skipped = skipped
	return res
}

func (p *Pruner) parseNames(names []string, layout string) ([]Entry, []string) {
	loc := p.Now.Location()

	var entries []Entry
	var skipped []string
	for _, name := range names {
		if name == "." || name == ".." {
			continue
		}
		ts, err := time.ParseInLocation(layout, name, loc)
		if err != nil {
			p.Logger.Warn().Str("entry", name).Str("layout", layout).Msg("entry name is not a dated backup, skipping")
			skipped = append(skipped, name)
			continue
		}
		entries = append(entries, Entry{Name: name, Timestamp: ts})
	}
	return entries, skipped
}
