package engine

import (
	"fmt"
	"time"

	"github.com/policyshield/policyshield/internal/domain/pii"
	"github.com/policyshield/policyshield/internal/domain/rule"
	"github.com/policyshield/policyshield/internal/domain/shield"
)

// Reload performs the two-phase hot reload described in spec §4.9: the
// new RuleSet is fully compiled into a local variable first, and only
// swapped in if compilation succeeds. Readers never observe a mixture of
// old and new rules; a failed reload leaves the previous set active.
func (e *Engine) Reload(raw rule.RuleSet) error {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	compiled, err := raw.Compile()
	if err != nil {
		return fmt.Errorf("%w: %v", shield.ErrReloadFailed, err)
	}

	detector, err := pii.NewDetector(customKindsOf(compiled))
	if err != nil {
		return fmt.Errorf("%w: %v", shield.ErrReloadFailed, err)
	}

	e.ruleSet.Store(compiled)
	e.piiDetector.Store(detector)
	e.loadedAt.Store(time.Now())
	return nil
}
