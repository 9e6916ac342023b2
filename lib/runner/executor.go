package runner

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/adscout/adscout/config"
	"github.com/adscout/adscout/lib/creds"
	"github.com/adscout/adscout/lib/keywords"
	"github.com/adscout/adscout/lib/listings"
	"github.com/adscout/adscout/lib/models"
)

// resultTag marks the one machine-readable line a scraper emits among
// arbitrary log noise on stdout.
const resultTag = "RESULT_JSON:"

// stderr is truncated to this many bytes in run records.
const maxMessageLen = 500

// Outcome is the normalized result of one scraper invocation. Every failure
// mode is captured here as a value; Execute never propagates an error to the
// scheduler.
type Outcome struct {
	RunID    string
	Status   string
	Found    int
	New      int
	Message  string
	Duration time.Duration
}

// payload mirrors the scraper's RESULT_JSON line.
type payload struct {
	Found    int            `json:"found"`
	Saved    int            `json:"saved"`
	Listings []models.Draft `json:"listings"`
}

// Executor runs exactly one external scraper process per (keyword, source),
// bounded by a source-specific wall-clock timeout, and merges the result into
// the listing store and keyword registry. It is the single writer of run
// records.
type Executor struct {
	log      *zap.Logger
	cfg      *config.Config
	db       *gorm.DB
	store    *listings.Store
	registry *keywords.Registry
	creds    *creds.Store
}

func NewExecutor(log *zap.Logger, cfg *config.Config, db *gorm.DB, store *listings.Store, registry *keywords.Registry, credStore *creds.Store) *Executor {
	return &Executor{log: log, cfg: cfg, db: db, store: store, registry: registry, creds: credStore}
}

// Execute runs the configured scraper for one keyword against one source.
// Persistence ordering matters: drafts are upserted and marked seen before
// the keyword counters are touched, so counters only ever reflect listings
// that were durably stored.
func (e *Executor) Execute(ctx context.Context, term, source string) Outcome {
	runID := uuid.NewString()
	log := e.log.Sugar().With("run_id", runID, "source", source, "keyword", term)
	started := time.Now().UTC()

	out := Outcome{RunID: runID, Status: models.RunError}
	defer func() {
		e.appendRunRecord(term, source, started, &out)
	}()

	cmdline := e.cfg.ScraperCommand(source)
	if len(cmdline) == 0 {
		out.Message = "no scraper command configured for " + source
		out.Duration = time.Since(started)
		log.Warn(out.Message)
		return out
	}

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.ScrapeTimeout(source))
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, cmdline[0], e.buildArgs(ctx, cmdline, term, source)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Env = append(os.Environ(), "PYTHONIOENCODING=utf-8")

	log.Infof("Searching %q on %s...", term, source)
	runErr := cmd.Run()
	out.Duration = time.Since(started)

	if runCtx.Err() == context.DeadlineExceeded {
		// Partial output from a killed process is not trusted.
		out.Status = models.RunTimeout
		out.Message = "Timeout"
		log.Errorw("Scraper timed out", "elapsed", out.Duration)
		return out
	}

	p, parsed := parseResult(stdout.Bytes())

	if runErr != nil {
		out.Status = models.RunError
		out.Message = truncate(strings.TrimSpace(stderr.String()), maxMessageLen)
		log.Errorw("Scraper failed", "err", runErr, "stderr", out.Message)
		if !parsed {
			return out
		}
		// A payload alongside a non-zero exit is a partial result; persist
		// what was found, keep the error status.
	} else {
		out.Status = models.RunSuccess
		if !parsed {
			// Not a failure signal: some searches legitimately find nothing.
			log.Warn("No structured result in scraper output, treating as zero found")
			return out
		}
	}

	out.Found = p.Found
	out.New = e.persist(context.WithoutCancel(ctx), p, term, source, log)

	log.Infow("Search finished",
		"status", out.Status, "found", out.Found, "new", out.New,
		"elapsed_msecs", out.Duration.Milliseconds(),
	)
	return out
}

// buildArgs appends the search term and, when the credential store has
// material for the source, the login flags the scraper understands.
func (e *Executor) buildArgs(ctx context.Context, cmdline []string, term, source string) []string {
	args := append(append([]string{}, cmdline[1:]...), term)

	cred, err := e.creds.Get(ctx, source)
	if err != nil {
		e.log.Sugar().Warnf("Credential lookup for %s failed: %v", source, err)
		return args
	}
	if cred == nil {
		// Absence is fine; the scraper runs unauthenticated with possibly
		// degraded results.
		return args
	}
	return append(args, "--username", cred.Username, "--password", cred.Secret)
}

func (e *Executor) persist(ctx context.Context, p payload, term, source string, log *zap.SugaredLogger) int {
	created := 0
	seen := make([]string, 0, len(p.Listings))

	for _, draft := range p.Listings {
		if draft.URL == "" {
			log.Warnw("Skipping draft without URL", "title", draft.Title)
			continue
		}
		isNew, err := e.store.Upsert(ctx, draft, source, term)
		if err != nil {
			log.Errorw("Failed to upsert listing", "url", draft.URL, "err", err)
			continue
		}
		if isNew {
			created++
		}
		seen = append(seen, draft.URL)
	}

	if _, err := e.store.MarkSeen(ctx, seen, source); err != nil {
		log.Errorw("Failed to mark listings as seen", "err", err)
	}

	e.registry.RecordOutcome(ctx, term, created)
	return created
}

func (e *Executor) appendRunRecord(term, source string, started time.Time, out *Outcome) {
	rec := models.RunRecord{
		RunID:        out.RunID,
		Source:       source,
		Keyword:      term,
		Status:       out.Status,
		Found:        out.Found,
		New:          out.New,
		Message:      out.Message,
		DurationSecs: out.Duration.Seconds(),
		StartedAt:    started,
		FinishedAt:   started.Add(out.Duration),
	}
	if err := e.db.Create(&rec).Error; err != nil {
		e.log.Sugar().Errorf("Failed to append run record: %v", err)
	}
}

// parseResult scans process output for the tagged result line. Absence is not
// an error here; the caller decides what it means.
func parseResult(output []byte) (payload, bool) {
	var p payload

	scanner := bufio.NewScanner(bytes.NewReader(output))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, resultTag) {
			continue
		}
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, resultTag)), &p); err != nil {
			return payload{}, false
		}
		return p, true
	}
	return payload{}, false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
