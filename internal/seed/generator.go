// Package seed generates synthetic activity data laden with duplicates and
// replays it against a running server.
package seed

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/okian/recon/internal/domain/model"
)

// Default generator settings.
const (
	DefaultOwners         = 10
	DefaultEventsPerOwner = 20
	DefaultExactCopies    = 1
	DefaultFuzzyCopies    = 1

	// eventSpacing keeps distinct events of one owner far outside any
	// plausible matching window.
	eventSpacing = 2 * time.Hour
)

var (
	verbs     = []string{"fix", "review", "deploy", "investigate", "document", "refactor", "triage", "pair on"}
	subjects  = []string{"login flow", "billing export", "search ranking", "payment retries", "onboarding emails", "audit log", "report builder", "api gateway"}
	durations = []float64{0.25, 0.5, 0.75, 1, 1.5, 2, 3}
)

// Options controls the shape of a generated dataset.
type Options struct {
	Owners         int
	EventsPerOwner int
	// ExactCopies is the number of re-entries per event that share its
	// fingerprint (casing, spacing and sub-minute jitter only).
	ExactCopies int
	// FuzzyCopies is the number of reworded, time-shifted variants per event.
	FuzzyCopies int
	// Unique is the number of additional unrelated records per owner.
	Unique int
	Seed   uint64
	Start  time.Time
}

// DefaultOptions returns the generator defaults.
func DefaultOptions() Options {
	return Options{
		Owners:         DefaultOwners,
		EventsPerOwner: DefaultEventsPerOwner,
		ExactCopies:    DefaultExactCopies,
		FuzzyCopies:    DefaultFuzzyCopies,
		Seed:           1,
		Start:          time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC),
	}
}

// Dataset is a generated batch of submissions with the counts a correct
// engine is expected to find when they are ingested in order.
type Dataset struct {
	Submissions []model.Submission
	Originals   int
	ExactCopies int
	FuzzyCopies int
}

// Generate builds a deterministic dataset: the same options always yield the
// same submissions in the same order. For every event the original comes
// first, followed by its exact copies and then its fuzzy variants.
func Generate(opts Options) Dataset {
	if opts.Start.IsZero() {
		opts.Start = DefaultOptions().Start
	}
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	ns := uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("recon-seed/%d", opts.Seed)))

	var ds Dataset
	seq := 0
	add := func(sub model.Submission) {
		sub.SubmissionID = uuid.NewSHA1(ns, []byte(fmt.Sprintf("%d", seq))).String()
		seq++
		ds.Submissions = append(ds.Submissions, sub)
	}

	for owner := 1; owner <= opts.Owners; owner++ {
		slot := 0
		for e := 0; e < opts.EventsPerOwner; e++ {
			orig := event(rng, int64(owner), opts.Start.Add(time.Duration(slot)*eventSpacing))
			slot++
			add(orig)
			ds.Originals++

			for c := 0; c < opts.ExactCopies; c++ {
				add(exactCopy(rng, orig))
				ds.ExactCopies++
			}
			for c := 0; c < opts.FuzzyCopies; c++ {
				add(fuzzyCopy(rng, orig, c+1))
				ds.FuzzyCopies++
			}
		}
		for u := 0; u < opts.Unique; u++ {
			add(event(rng, int64(owner), opts.Start.Add(time.Duration(slot)*eventSpacing)))
			slot++
			ds.Originals++
		}
	}
	return ds
}

func event(rng *rand.Rand, owner int64, start time.Time) model.Submission {
	ticket := 1000 + rng.IntN(9000)
	desc := fmt.Sprintf("%s %s ticket %d",
		verbs[rng.IntN(len(verbs))],
		subjects[rng.IntN(len(subjects))],
		ticket,
	)
	d := durations[rng.IntN(len(durations))]
	return model.Submission{
		OwnerID:       owner,
		Start:         start,
		DurationHours: &d,
		Description:   desc,
		Source:        string(model.SourceManual),
		Category:      "engineering",
	}
}

// exactCopy re-enters sub with different casing, padding and a start jitter
// that stays inside the same minute.
func exactCopy(rng *rand.Rand, sub model.Submission) model.Submission {
	out := sub
	out.Start = sub.Start.Add(time.Duration(1+rng.IntN(58)) * time.Second)
	out.Description = "  " + strings.ToUpper(sub.Description[:1]) + sub.Description[1:] + " "
	out.Source = string(model.SourceCSV)
	out.Category = ""
	return out
}

// fuzzyCopy rotates the words of the description by n, shifts the start by
// 30 to 90 seconds and adds a reference, as a remote session log would.
func fuzzyCopy(rng *rand.Rand, sub model.Submission, n int) model.Submission {
	out := sub
	out.Start = sub.Start.Add(time.Duration(30+rng.IntN(61)) * time.Second)
	words := strings.Fields(sub.Description)
	k := n % len(words)
	if k == 0 {
		k = 1
	}
	out.Description = strings.Join(append(words[k:], words[:k]...), " ")
	out.Source = string(model.SourceRemoteSession)
	out.Reference = fmt.Sprintf("RS-%d", 100000+rng.IntN(900000))
	return out
}
