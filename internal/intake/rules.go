package intake

import "regexp"

// RulesVersion identifies the rule table. Bump it whenever a pattern,
// category or reason code changes so stored classifications can be traced
// to the table that produced them.
const RulesVersion = "2026-03-01"

// Categories.
const (
	CategoryUnknown        = "unknown"
	CategoryIllegalContent = "illegal_content"
	CategoryWeaponization  = "weaponization"
	CategoryIPInfringement = "ip_infringement"
	CategoryFraudRisk      = "fraud_risk"
)

// Rule is one ordered entry of the classifier table.
type Rule struct {
	Pattern    *regexp.Regexp
	Category   string
	ReasonCode string
	Confidence float64
}

// DefaultRules is evaluated top to bottom; the first match wins.
var DefaultRules = []Rule{
	{
		Pattern:    regexp.MustCompile(`(?i)\b(counterfeit|forged?|fake)\s+(ids?|passports?|currency|bills?)\b|\bdrug\s+paraphernalia\b`),
		Category:   CategoryIllegalContent,
		ReasonCode: "illegal_goods_request",
		Confidence: 0.9,
	},
	{
		Pattern:    regexp.MustCompile(`(?i)\b(weapons?|firearms?|explosives?|silencers?|suppressors?|ghost\s+guns?)\b`),
		Category:   CategoryWeaponization,
		ReasonCode: "weapon_fabrication",
		Confidence: 0.85,
	},
	{
		Pattern:    regexp.MustCompile(`(?i)\b(disney|pok[eé]mon|marvel|nintendo|hello\s+kitty)\b|\b(replica|knock-?off)\s+of\b|\bcopyrighted\b`),
		Category:   CategoryIPInfringement,
		ReasonCode: "trademark_reproduction",
		Confidence: 0.7,
	},
	{
		Pattern:    regexp.MustCompile(`(?i)\b(gift\s+cards?|wire\s+transfer|crypto(currency)?\s+payment|refund\s+to\s+a\s+different|chargeback)\b`),
		Category:   CategoryFraudRisk,
		ReasonCode: "payment_fraud_pattern",
		Confidence: 0.6,
	},
}
