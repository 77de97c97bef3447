package resolve

import "github.com/boshu2/qgate/internal/config"

// enforceCritical is the last line of defense against a misconfigured or
// malicious policy disabling a security-relevant check. Load-time
// validation already rejects configs that exempt critical gates, so this
// only fires for exemptions composed at resolve time (the "all" sentinel,
// or models built outside the loader). Every critical gate found in the
// exempted set is moved back into the run set and a violation is recorded;
// the run itself is never blocked by the violation.
func enforceCritical(model *config.Model, exemptedBy map[string]string) (reinstated map[string]bool, violations []Violation) {
	reinstated = make(map[string]bool)

	for _, g := range model.Gates {
		if !g.Critical {
			continue
		}
		policy, exempted := exemptedBy[g.Name]
		if !exempted {
			continue
		}
		reinstated[g.Name] = true
		violations = append(violations, Violation{Gate: g.Name, Policy: policy})
	}

	return reinstated, violations
}
