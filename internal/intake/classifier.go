package intake

import (
	"fmt"
	"regexp"

	"github.com/roach88/studiobrain/internal/canon"
)

// MaxScanBytes bounds how much content the rules see.
const MaxScanBytes = 4096

// Disposition is the routing outcome of a classification.
type Disposition string

const (
	DispositionAllow        Disposition = "allow"
	DispositionManualReview Disposition = "manual_review"
)

// Input is the proposal content screened by the classifier.
type Input struct {
	ActorID        string
	OwnerUID       string
	CapabilityID   string
	Rationale      string
	PreviewSummary string
	RequestInput   map[string]any
}

// Classification is the deterministic result of screening one Input.
type Classification struct {
	IntakeID     string      `json:"intakeId"`
	Category     string      `json:"category"`
	Disposition  Disposition `json:"disposition"`
	Confidence   float64     `json:"confidence"`
	Blocked      bool        `json:"blocked"`
	ReasonCode   string      `json:"reasonCode"`
	Summary      string      `json:"summary"`
	RulesVersion string      `json:"rulesVersion"`
}

// Classifier screens proposal content.
type Classifier interface {
	Classify(in Input) (Classification, error)
}

// RuleClassifier matches an ordered rule table.
type RuleClassifier struct {
	rules []Rule
}

// NewRuleClassifier creates a classifier over rules. Nil uses DefaultRules.
func NewRuleClassifier(rules []Rule) *RuleClassifier {
	if rules == nil {
		rules = DefaultRules
	}
	return &RuleClassifier{rules: rules}
}

// Classify is pure: identical input always yields an identical result.
func (c *RuleClassifier) Classify(in Input) (Classification, error) {
	id, err := IntakeID(in)
	if err != nil {
		return Classification{}, err
	}
	text, err := scanText(in)
	if err != nil {
		return Classification{}, err
	}

	for _, r := range c.rules {
		if r.Pattern.MatchString(text) {
			return Classification{
				IntakeID:     id,
				Category:     r.Category,
				Disposition:  DispositionManualReview,
				Confidence:   r.Confidence,
				Blocked:      true,
				ReasonCode:   r.ReasonCode,
				Summary:      fmt.Sprintf("matched %s rule", r.Category),
				RulesVersion: RulesVersion,
			}, nil
		}
	}
	return Classification{
		IntakeID:     id,
		Category:     CategoryUnknown,
		Disposition:  DispositionAllow,
		Confidence:   0,
		ReasonCode:   "no_rule_matched",
		Summary:      "no rule matched",
		RulesVersion: RulesVersion,
	}, nil
}

// IntakeID fingerprints the submitter, capability and summary so that
// repeated identical submissions share an id.
func IntakeID(in Input) (string, error) {
	return canon.HashWithDomain(canon.DomainIntake, map[string]any{
		"actorId":        in.ActorID,
		"ownerUid":       in.OwnerUID,
		"capabilityId":   in.CapabilityID,
		"previewSummary": in.PreviewSummary,
	})
}

// scanText joins the screened fields and truncates to MaxScanBytes on a
// rune boundary.
func scanText(in Input) (string, error) {
	inputJSON, err := canon.Marshal(in.RequestInput)
	if err != nil {
		return "", fmt.Errorf("intake: encode request input: %w", err)
	}
	text := in.Rationale + "\n" + in.PreviewSummary + "\n" + string(inputJSON)
	if len(text) <= MaxScanBytes {
		return text, nil
	}
	cut := MaxScanBytes
	for cut > 0 && !utf8RuneStart(text[cut]) {
		cut--
	}
	return text[:cut], nil
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }

// Override reason-code formats.
var (
	grantReason = regexp.MustCompile(`^staff_override_[a-z0-9_]+$`)
	denyReason  = regexp.MustCompile(`^policy_[a-z0-9_]+$`)
)

// ValidateOverrideReason reports whether reasonCode is acceptable for the
// decision ("override_granted" or "override_denied"). Free-text reasons
// never pass.
func ValidateOverrideReason(decision, reasonCode string) error {
	switch decision {
	case "override_granted":
		if !grantReason.MatchString(reasonCode) {
			return fmt.Errorf("reason code %q must match %s", reasonCode, grantReason)
		}
	case "override_denied":
		if !denyReason.MatchString(reasonCode) {
			return fmt.Errorf("reason code %q must match %s", reasonCode, denyReason)
		}
	default:
		return fmt.Errorf("unknown override decision %q", decision)
	}
	return nil
}
