// internal/orchestrator/validate.go
package orchestrator

import (
	"fmt"
	"strings"

	"github.com/valpere/scraperotor/internal/errors"
	"github.com/valpere/scraperotor/internal/utils"
)

// Validate checks a task configuration. hasBackend tells whether an intent
// can be turned into selectors.
func (c TaskConfig) Validate(hasBackend bool) error {
	verr := &errors.ValidationError{}

	if len(c.Targets) == 0 {
		verr.Add("targets", "", "at least one target address is required")
	}
	seen := make(map[string]int, len(c.Targets))
	for i, target := range c.Targets {
		if err := utils.ValidateHTTPURL(target); err != nil {
			verr.Add(fmt.Sprintf("targets[%d]", i), target, err.Error())
			continue
		}
		if norm, err := utils.NormalizeURL(target); err == nil {
			if j, dup := seen[norm]; dup {
				verr.Add(fmt.Sprintf("targets[%d]", i), target, fmt.Sprintf("duplicates targets[%d]", j))
			}
			seen[norm] = i
		}
	}

	intent := strings.TrimSpace(c.Intent)
	if intent == "" && len(c.Fields) == 0 {
		verr.Add("intent", "", "an extraction intent or at least one field is required")
	}
	if intent != "" && len(c.Fields) == 0 && !hasBackend {
		verr.Add("intent", c.Intent, "no inference backend configured to interpret the intent")
	}
	for i, f := range c.Fields {
		if err := f.Validate(); err != nil {
			verr.Add(fmt.Sprintf("fields[%d]", i), f.Name, err.Error())
		}
	}

	if c.MaxPages < 0 {
		verr.Add("max_pages", fmt.Sprint(c.MaxPages), "must not be negative")
	}
	if c.MaxRecords < 0 {
		verr.Add("max_records", fmt.Sprint(c.MaxRecords), "must not be negative")
	}
	if c.Delay < 0 {
		verr.Add("delay", c.Delay.String(), "must not be negative")
	}
	if c.PageTimeout < 0 {
		verr.Add("page_timeout", c.PageTimeout.String(), "must not be negative")
	}
	if c.Sticky && !c.UseProxy {
		verr.Add("sticky", "true", "sticky sessions require use_proxy")
	}

	return verr.OrNil()
}
