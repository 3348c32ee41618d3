// internal/orchestrator/runner.go
package orchestrator

import (
	"context"
	"time"

	"github.com/valpere/scraperotor/internal/browser"
	"github.com/valpere/scraperotor/internal/errors"
	"github.com/valpere/scraperotor/internal/events"
	"github.com/valpere/scraperotor/internal/proxy"
	"github.com/valpere/scraperotor/internal/scraper"
	"github.com/valpere/scraperotor/internal/utils"
)

// runner executes one task. It is owned by the task goroutine.
type runner struct {
	o   *Orchestrator
	st  *taskState
	id  string
	cfg TaskConfig

	extractor    *scraper.Extractor
	nextSelector string
	seeded       bool

	reached     int
	noSelectors bool
}

// failure is an address-level error; retryable ones are retried on a fresh egress point.
type failure struct {
	AddressError
	retryable bool
}

func newRunner(o *Orchestrator, st *taskState) *runner {
	task := st.snapshot()
	cfg := task.Config
	r := &runner{o: o, st: st, id: task.ID, cfg: cfg, nextSelector: cfg.NextSelector}
	if len(cfg.Fields) > 0 {
		if ex, err := scraper.NewExtractor(cfg.Container, cfg.Fields); err == nil {
			r.extractor = ex
		}
	}
	// caller selectors are final when there is nothing to infer
	if cfg.Intent == "" || o.deps.Inference == nil {
		r.seeded = true
	}
	return r
}

func (r *runner) usesProxy() bool {
	return r.cfg.UseProxy && r.o.deps.Pool != nil
}

func (r *runner) fieldNames() []string {
	if r.extractor == nil {
		return nil
	}
	return r.extractor.FieldNames()
}

func (r *runner) selectors() []scraper.FieldConfig {
	if r.extractor == nil {
		return nil
	}
	return r.extractor.Fields()
}

func (r *runner) run(ctx context.Context) {
	for i, address := range r.cfg.Targets {
		if ctx.Err() != nil {
			return
		}
		if i > 0 {
			if err := sleep(ctx, r.cfg.Delay); err != nil {
				return
			}
		}

		err := r.processAddress(ctx, address)
		r.st.update(func(t *Task) { t.Progress.AddressesDone++ })
		if err != nil {
			return
		}
	}
}

// processAddress visits one address, retrying egress failures on another
// point. A non-nil error stops the task.
func (r *runner) processAddress(ctx context.Context, address string) error {
	maxAttempts := 1
	if r.usesProxy() {
		maxAttempts = r.o.config.MaxAddressAttempts
	}

	for attempt := 1; ; attempt++ {
		f, err := r.visit(ctx, address)
		if err != nil {
			return err
		}
		if f == nil {
			return nil
		}
		if !f.retryable || attempt >= maxAttempts {
			r.addError(f.AddressError)
			return nil
		}
		orchestratorLogger.WithFields(map[string]interface{}{
			"task_id": r.id,
			"address": address,
			"egress":  f.EgressID,
			"attempt": attempt,
		}).Debug("retrying address on another egress point")
	}
}

// browser errors can embed whole DOM snippets
const maxErrorMessage = 512

func (r *runner) fail(address, stage, egressID string, err error, retryable bool) *failure {
	return &failure{
		AddressError: AddressError{
			Address:  address,
			Stage:    stage,
			EgressID: egressID,
			Message:  utils.TruncateString(err.Error(), maxErrorMessage),
			Time:     r.o.now(),
		},
		retryable: retryable,
	}
}

func (r *runner) addError(e AddressError) {
	r.st.update(func(t *Task) { t.Errors = append(t.Errors, e) })
	orchestratorLogger.WithFields(map[string]interface{}{
		"task_id": r.id,
		"address": e.Address,
		"stage":   e.Stage,
	}).Warnf("address failed: %s", e.Message)
}

func (r *runner) selectEgress(ctx context.Context) (*proxy.EgressPoint, error) {
	req := proxy.SelectRequest{Sticky: r.cfg.Sticky, Geo: r.cfg.Geo}
	if r.cfg.Sticky {
		req.GroupID = r.cfg.GroupID
		if req.GroupID == "" {
			req.GroupID = r.id
		}
	}

	var chosen *proxy.EgressPoint
	err := r.o.selectRetryer.Do(ctx, "select egress", func(ctx context.Context) error {
		point, err := r.o.deps.Pool.Select(ctx, req)
		if err != nil {
			return err
		}
		chosen = point
		return nil
	})
	return chosen, err
}

func (r *runner) report(egress *proxy.EgressPoint, success bool, latency time.Duration, bytes int, err error) {
	if egress == nil {
		return
	}
	outcome := proxy.Outcome{Success: success, Latency: latency, Bytes: int64(bytes)}
	if err != nil {
		outcome.Err = &errors.EgressError{EgressID: egress.ID, Op: "navigate", Err: err}
	}
	r.o.recordOutcome(egress.ID, outcome)
}

// visit runs one attempt at an address. It returns a failure for
// address-level problems and an error only when the task must stop.
func (r *runner) visit(ctx context.Context, address string) (*failure, error) {
	var egress *proxy.EgressPoint
	egressID := ""
	if r.usesProxy() {
		point, err := r.selectEgress(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return r.fail(address, "select", "", err, false), nil
		}
		egress, egressID = point, point.ID
		defer r.o.deps.Pool.Release(point.ID)
	}

	opts := browser.ContextOptions{UserAgent: r.cfg.UserAgent, Timeout: r.o.config.ContextTimeout}
	if egress != nil {
		opts.ProxyURL = egress.URL().String()
	}
	bctx, err := r.o.deps.Automation.NewContext(ctx, opts)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return r.fail(address, "browser", egressID, err, false), nil
	}
	defer bctx.Close()
	if !r.st.hold(bctx) {
		return nil, context.Canceled
	}
	defer r.st.release()

	page, err := bctx.NewPage(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return r.fail(address, "browser", egressID, err, false), nil
	}

	timeout := r.cfg.PageTimeout
	if timeout <= 0 {
		timeout = r.o.config.PageTimeout
	}

	pageURL := address
	for pageNum := 1; pageNum <= r.cfg.pages(); pageNum++ {
		if pageNum > 1 {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if err := sleep(ctx, r.cfg.Delay); err != nil {
				return nil, err
			}
		}
		if err := r.o.deps.Pacer.Wait(ctx, pageURL); err != nil {
			return nil, err
		}

		start := r.o.now()
		err := page.Goto(ctx, pageURL, timeout)
		latency := r.o.now().Sub(start)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			r.o.deps.Pacer.Report(pageURL, false)
			r.report(egress, false, latency, 0, err)
			navErr := &errors.ExtractionError{Address: pageURL, Stage: "navigate", Err: err}
			if pageNum == 1 {
				return r.fail(address, "navigate", egressID, navErr, egress != nil), nil
			}
			// keep the pages already collected
			return r.fail(address, "navigate", egressID, navErr, false), nil
		}
		r.o.deps.Pacer.Report(pageURL, true)
		if pageNum == 1 {
			r.reached++
		}

		r.seed(ctx, page)
		if r.extractor == nil {
			r.report(egress, true, latency, 0, nil)
			r.noSelectors = true
			return r.fail(address, "extract", egressID, errNoSelectors, false), nil
		}

		var result *scraper.PageResult
		size := 0
		r.st.setExtracting(true)
		_, err = page.Evaluate(ctx, func(html string) ([]map[string]interface{}, error) {
			size = len(html)
			res, err := r.extractor.ExtractPage(html, r.nextSelector, pageURL)
			if err != nil {
				return nil, err
			}
			result = res
			return res.Records, nil
		})
		r.st.setExtracting(false)
		r.report(egress, true, latency, size, nil)

		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return r.fail(address, "extract", egressID, &errors.ExtractionError{Address: pageURL, Stage: "extract", Err: err}, false), nil
		}

		if result == nil {
			result = &scraper.PageResult{}
		}
		added, limitHit := r.addRecords(result.Records)
		if pageNum == 1 && added == 0 {
			return r.fail(address, "extract", egressID, &errors.ExtractionError{Address: pageURL, Stage: "extract", Err: errors.ErrNoDataExtracted}, false), nil
		}
		if limitHit {
			return nil, errRecordLimitHit
		}
		if result.NextURL == "" {
			break
		}
		pageURL = result.NextURL
	}
	return nil, nil
}

// seed asks the inference backend for selectors once per task. Failures keep
// the caller's selectors.
func (r *runner) seed(ctx context.Context, page browser.Page) {
	if r.seeded {
		return
	}
	r.seeded = true

	html, err := page.HTML(ctx)
	if err != nil {
		orchestratorLogger.Warnf("reading page for selector inference: %v", err)
		return
	}
	analysis, err := r.o.deps.Inference.AnalyzeWebPage(ctx, html, r.cfg.Intent)
	if err != nil || analysis == nil {
		orchestratorLogger.WithField("task_id", r.id).Warnf("selector inference failed, using configured selectors: %v", err)
		return
	}

	fields := mergeFields(analysis.RecommendedSelectors, r.cfg.Fields)
	container := r.cfg.Container
	if container == "" {
		container = analysis.Container
	}
	ex, err := scraper.NewExtractor(container, fields)
	if err != nil {
		orchestratorLogger.WithField("task_id", r.id).Warnf("inferred selectors unusable: %v", err)
		return
	}
	r.extractor = ex
	if r.nextSelector == "" && analysis.Pagination.HasNext {
		r.nextSelector = analysis.Pagination.NextSelector
	}
	if len(analysis.AntiBotMeasures) > 0 {
		orchestratorLogger.WithField("task_id", r.id).Infof("anti-bot measures detected: %v", analysis.AntiBotMeasures)
	}
}

// mergeFields overlays configured fields on inferred ones by name.
func mergeFields(inferred, configured []scraper.FieldConfig) []scraper.FieldConfig {
	byName := make(map[string]int, len(inferred))
	out := append([]scraper.FieldConfig(nil), inferred...)
	for i, f := range out {
		byName[f.Name] = i
	}
	for _, f := range configured {
		if i, ok := byName[f.Name]; ok {
			out[i] = f
			continue
		}
		out = append(out, f)
	}
	return out
}

// addRecords appends records up to MaxRecords and publishes progress.
func (r *runner) addRecords(records []scraper.Record) (added int, limitHit bool) {
	var progress Progress
	r.st.update(func(t *Task) {
		for _, rec := range records {
			if r.cfg.MaxRecords > 0 && len(t.Records) >= r.cfg.MaxRecords {
				limitHit = true
				break
			}
			t.Records = append(t.Records, rec)
			added++
		}
		if r.cfg.MaxRecords > 0 && len(t.Records) >= r.cfg.MaxRecords {
			limitHit = true
		}
		t.Progress.CurrentPage++
		t.Progress.RecordsExtracted = len(t.Records)
		progress = t.Progress
	})

	r.o.deps.Bus.Publish(events.Event{
		Type:   events.TaskProgress,
		TaskID: r.id,
		Data: map[string]interface{}{
			"current_page": progress.CurrentPage,
			"total_pages":  progress.TotalPages,
			"records":      progress.RecordsExtracted,
		},
	})
	return added, limitHit
}

// sleep waits d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
