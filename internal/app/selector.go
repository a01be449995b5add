package app

import (
	"fmt"

	"crowdlabel-service/internal/domain"
)

// SelectNext returns the first candidate, in upstream order, whose id is not
// in the completion set. Upstream ranking must not be reshuffled, so the
// scan preserves slice order. The second return is false when every
// candidate is already completed or the list is empty.
func SelectNext(candidates []domain.Task, completed map[string]struct{}) (domain.Task, bool) {
	for _, candidate := range candidates {
		if _, done := completed[candidate.ID]; !done {
			return candidate, true
		}
	}
	return domain.Task{}, false
}

// ResolveCriteria fills gaps in caller-supplied criteria from the user's
// profile. Explicit values pass through unmodified; a profile with no
// preference leaves the field unset, yielding an unfiltered fetch.
func ResolveCriteria(criteria domain.Criteria, profile domain.Profile) domain.Criteria {
	if criteria.Language == "" && len(profile.Languages) > 0 {
		criteria.Language = profile.Languages[0]
	}
	if criteria.Topic == "" && len(profile.Expertise) > 0 {
		criteria.Topic = profile.Expertise[0]
	}
	if criteria.Complexity == 0 && profile.ComplexityLevel > 0 {
		criteria.Complexity = profile.ComplexityLevel
	}
	return criteria
}

// CriteriaPolicy is the configured set of selection options the service
// accepts. Requests outside it are rejected before any network call.
type CriteriaPolicy struct {
	Topics        []string
	MaxComplexity int
}

// DefaultCriteriaPolicy matches the provider's published topic catalogue.
func DefaultCriteriaPolicy() CriteriaPolicy {
	return CriteriaPolicy{
		Topics:        []string{"kitchen", "travel", "work", "nature", "numbers", "culture"},
		MaxComplexity: 5,
	}
}

// Validate checks criteria against the policy. Language is always required
// and must be a two-letter ISO 639-1 code.
func (p CriteriaPolicy) Validate(criteria domain.Criteria) error {
	if !isISOLanguage(criteria.Language) {
		return fmt.Errorf("%w: language %q", domain.ErrUnsupportedCriteria, criteria.Language)
	}
	if criteria.Topic != "" && len(p.Topics) > 0 && !contains(p.Topics, criteria.Topic) {
		return fmt.Errorf("%w: topic %q", domain.ErrUnsupportedCriteria, criteria.Topic)
	}
	if criteria.Complexity != 0 && p.MaxComplexity > 0 {
		if criteria.Complexity < 1 || criteria.Complexity > p.MaxComplexity {
			return fmt.Errorf("%w: complexity %d", domain.ErrUnsupportedCriteria, criteria.Complexity)
		}
	}
	return nil
}

func isISOLanguage(code string) bool {
	if len(code) != 2 {
		return false
	}
	for _, r := range code {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
