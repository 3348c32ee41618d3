// internal/orchestrator/preview.go
package orchestrator

import (
	"context"
	"fmt"

	"github.com/valpere/scraperotor/internal/browser"
	"github.com/valpere/scraperotor/internal/errors"
	"github.com/valpere/scraperotor/internal/proxy"
	"github.com/valpere/scraperotor/internal/scraper"
)

// Preview scrapes only the first target address with a capped record count.
// No task is stored and egress selection is a single non-sticky attempt; when
// it finds nothing the preview runs without a proxy.
func (o *Orchestrator) Preview(ctx context.Context, cfg TaskConfig) (*PreviewResult, error) {
	if err := cfg.Validate(o.deps.Inference != nil); err != nil {
		return nil, err
	}
	start := o.now()
	address := cfg.Targets[0]
	result := &PreviewResult{Address: address}

	limit := o.config.PreviewMaxRecords
	if cfg.MaxRecords > 0 && cfg.MaxRecords < limit {
		limit = cfg.MaxRecords
	}

	var egress *proxy.EgressPoint
	if cfg.UseProxy && o.deps.Pool != nil {
		point, err := o.deps.Pool.Select(ctx, proxy.SelectRequest{Geo: cfg.Geo})
		switch {
		case err == nil:
			egress = point
			result.EgressID = point.ID
			defer o.deps.Pool.Release(point.ID)
		case errors.Is(err, proxy.ErrNoEgressAvailable):
			orchestratorLogger.Debug("preview running without egress point")
		default:
			return nil, err
		}
	}

	opts := browser.ContextOptions{UserAgent: cfg.UserAgent, Timeout: o.config.ContextTimeout}
	if egress != nil {
		opts.ProxyURL = egress.URL().String()
	}
	bctx, err := o.deps.Automation.NewContext(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("preview: %w", err)
	}
	defer bctx.Close()

	page, err := bctx.NewPage(ctx)
	if err != nil {
		return nil, fmt.Errorf("preview: %w", err)
	}

	timeout := cfg.PageTimeout
	if timeout <= 0 {
		timeout = o.config.PageTimeout
	}
	navStart := o.now()
	if err := page.Goto(ctx, address, timeout); err != nil {
		if egress != nil && ctx.Err() == nil {
			o.recordOutcome(egress.ID, proxy.Outcome{
				Latency: o.now().Sub(navStart),
				Err:     &errors.EgressError{EgressID: egress.ID, Op: "navigate", Err: err},
			})
		}
		return nil, &errors.ExtractionError{Address: address, Stage: "navigate", Err: err}
	}
	latency := o.now().Sub(navStart)

	container, fields, nextSelector := cfg.Container, cfg.Fields, cfg.NextSelector
	if cfg.Intent != "" && o.deps.Inference != nil {
		if html, err := page.HTML(ctx); err == nil {
			analysis, err := o.deps.Inference.AnalyzeWebPage(ctx, html, cfg.Intent)
			if err == nil && analysis != nil {
				fields = mergeFields(analysis.RecommendedSelectors, cfg.Fields)
				if container == "" {
					container = analysis.Container
				}
				if nextSelector == "" {
					nextSelector = analysis.Pagination.NextSelector
				}
				result.AntiBotMeasures = analysis.AntiBotMeasures
			} else {
				orchestratorLogger.Warnf("preview selector inference failed: %v", err)
			}
		}
	}

	extractor, err := scraper.NewExtractor(container, fields)
	if err != nil {
		return nil, &errors.ExtractionError{Address: address, Stage: "extract", Err: err}
	}
	extractor = extractor.WithLimit(limit)

	var page1 *scraper.PageResult
	size := 0
	_, err = page.Evaluate(ctx, func(html string) ([]map[string]interface{}, error) {
		size = len(html)
		res, err := extractor.ExtractPage(html, nextSelector, address)
		if err != nil {
			return nil, err
		}
		page1 = res
		return res.Records, nil
	})
	if egress != nil {
		o.recordOutcome(egress.ID, proxy.Outcome{Success: true, Latency: latency, Bytes: int64(size)})
	}
	if err != nil {
		return nil, &errors.ExtractionError{Address: address, Stage: "extract", Err: err}
	}
	if page1 == nil {
		page1 = &scraper.PageResult{}
	}

	result.Container = container
	result.Selectors = extractor.Fields()
	result.Records = page1.Records
	if result.Records == nil {
		result.Records = []scraper.Record{}
	}
	result.NextURL = page1.NextURL
	result.Quality = scraper.ScoreQuality(page1.Records, extractor.FieldNames(), 0)
	result.Duration = o.now().Sub(start)
	return result, nil
}
