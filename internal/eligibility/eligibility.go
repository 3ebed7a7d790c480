// Package eligibility maps questionnaire answers to a risk score, a care
// pathway, an estimated cost, and an urgency level.
//
// Scoring is additive then thresholded. A contraindication always routes to
// PathwayContraindicatedStop, but the score is still computed so it can be
// audited. The functions here are pure: identical answers always yield an
// identical Result.
package eligibility

import (
	"fmt"
	"strings"
)

// Pathway is the routing decision produced by the engine.
type Pathway string

const (
	PathwaySelfPay             Pathway = "self-pay"
	PathwayInsuranceDirect     Pathway = "insurance-direct"
	PathwayInsuranceGPRequired Pathway = "insurance-gp-required"
	PathwayContraindicatedStop Pathway = "contraindicated-stop"
)

// RequiresPhysician reports whether the pathway is gated by a GP referral.
func (p Pathway) RequiresPhysician() bool { return p == PathwayInsuranceGPRequired }

// Urgency grades how quickly the patient should be seen.
type Urgency string

const (
	UrgencyRoutine   Urgency = "routine"
	UrgencyUrgent    Urgency = "urgent"
	UrgencyEmergency Urgency = "emergency"
)

// Contraindications are conditions that rule out home monitoring.
type Contraindications struct {
	Pregnant              bool `json:"pregnant"`
	Pacemaker             bool `json:"pacemaker"`
	RecentHospitalization bool `json:"recent_hospitalization"`
}

// Any reports whether at least one contraindication is present.
func (c Contraindications) Any() bool {
	return c.Pregnant || c.Pacemaker || c.RecentHospitalization
}

// Answers is the subset of the questionnaire the engine reads.
type Answers struct {
	Age               int               `json:"age" example:"55"`
	Insured           bool              `json:"insured" example:"true"`
	Symptoms          []string          `json:"symptoms" example:"chest_pain,shortness_of_breath"`
	FamilyHistory     bool              `json:"family_history" example:"true"`
	Contraindications Contraindications `json:"contraindications"`
}

// Validate rejects answers the engine would otherwise silently accept.
func (a Answers) Validate() error {
	if a.Age < 0 || a.Age > 130 {
		return fmt.Errorf("age: must be between 0 and 130")
	}
	for _, s := range a.Symptoms {
		if len(s) > 64 {
			return fmt.Errorf("symptoms: tag too long")
		}
	}
	return nil
}

// Result is the engine output. EstimatedCost is in minor currency units.
type Result struct {
	Score         int     `json:"score" example:"80"`
	Pathway       Pathway `json:"pathway" example:"insurance-gp-required"`
	EstimatedCost int64   `json:"estimated_cost" example:"0"`
	Urgency       Urgency `json:"urgency" example:"emergency"`
}

// AgeBand adds Weight when the age is at least MinAge. Only the highest
// matching band counts.
type AgeBand struct {
	MinAge int
	Weight int
}

// Policy holds the tunable weights and prices.
type Policy struct {
	// SymptomWeights maps normalized symptom tags to their contribution.
	// Unknown tags contribute nothing.
	SymptomWeights      map[string]int
	FamilyHistoryWeight int
	AgeBands            []AgeBand
	// HighThreshold is the score at or above which a patient is considered
	// symptomatic enough for physician routing.
	HighThreshold     int
	SelfPayPriceMinor int64

	EmergencySymptoms []string
	UrgentSymptoms    []string
}

// DefaultPolicy returns the production weights: high-risk symptoms (chest
// pain, syncope) 30 each, other cardiac symptoms 15 each, family history 20,
// age 50+ 15 or 65+ 20, threshold 70, and a self-pay price of CHF 350.00.
func DefaultPolicy() Policy {
	return Policy{
		SymptomWeights: map[string]int{
			"chest_pain":          30,
			"syncope":             30,
			"shortness_of_breath": 15,
			"palpitations":        15,
			"dizziness":           15,
			"fatigue":             15,
		},
		FamilyHistoryWeight: 20,
		AgeBands: []AgeBand{
			{MinAge: 65, Weight: 20},
			{MinAge: 50, Weight: 15},
		},
		HighThreshold:     70,
		SelfPayPriceMinor: 35000,
		EmergencySymptoms: []string{"chest_pain", "shortness_of_breath", "syncope"},
		UrgentSymptoms:    []string{"palpitations", "dizziness", "fatigue"},
	}
}

var defaultPolicy = DefaultPolicy()

// Score evaluates a with the default policy.
func Score(a Answers) Result { return defaultPolicy.Score(a) }

// Score evaluates a with p.
func (p Policy) Score(a Answers) Result {
	symptoms := NormalizeSymptoms(a.Symptoms)

	score := 0
	for _, s := range symptoms {
		score += p.SymptomWeights[s]
	}
	if a.FamilyHistory {
		score += p.FamilyHistoryWeight
	}
	best := 0
	for _, b := range p.AgeBands {
		if a.Age >= b.MinAge && b.Weight > best {
			best = b.Weight
		}
	}
	score += best
	score = clamp(score, 0, 100)

	var pathway Pathway
	switch {
	case a.Contraindications.Any():
		pathway = PathwayContraindicatedStop
	case score >= p.HighThreshold && a.Insured:
		pathway = PathwayInsuranceGPRequired
	case score >= p.HighThreshold:
		pathway = PathwaySelfPay
	case a.Insured:
		pathway = PathwayInsuranceDirect
	default:
		pathway = PathwaySelfPay
	}

	return Result{
		Score:         score,
		Pathway:       pathway,
		EstimatedCost: p.Cost(pathway),
		Urgency:       p.urgency(symptoms),
	}
}

// Cost is the fixed price lookup by pathway. Only self-pay carries a price;
// insurance-routed pathways are billed downstream.
func (p Policy) Cost(pw Pathway) int64 {
	if pw == PathwaySelfPay {
		return p.SelfPayPriceMinor
	}
	return 0
}

func (p Policy) urgency(symptoms []string) Urgency {
	if containsAny(symptoms, p.EmergencySymptoms) {
		return UrgencyEmergency
	}
	if containsAny(symptoms, p.UrgentSymptoms) {
		return UrgencyUrgent
	}
	return UrgencyRoutine
}

// NormalizeSymptoms lower-cases tags, maps spaces and hyphens to
// underscores, drops empties and "none", and removes duplicates while
// keeping first-seen order.
func NormalizeSymptoms(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
		if s == "" || s == "none" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func containsAny(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
