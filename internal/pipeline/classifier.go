package pipeline

import (
	"math"
	"strings"

	"github.com/jwalitptl/referral-api/internal/model"
)

// ReviewThreshold is the confidence below which a classification needs a human.
const ReviewThreshold = 0.3

var medicalKeywords = []string{
	"doctor", "physician", "nurse", "medical", "clinic", "hospital", "surgery",
	"diagnosis", "treatment", "therapy", "physical therapy", "occupational therapy",
	"speech therapy", "psychology", "psychiatry", "counseling", "mental health",
	"pediatric", "dermatology", "cardiology", "orthopedic", "neurology", "oncology",
	"radiology", "laboratory", "blood test", "x-ray", "mri", "scan", "prescription",
	"medication",
}

var wellnessKeywords = []string{
	"massage", "spa", "wellness", "facial", "acupuncture", "chiropractic", "nutrition",
	"diet", "fitness", "yoga", "meditation", "aromatherapy", "reflexology", "reiki",
	"energy healing", "holistic", "alternative", "complementary", "beauty", "skincare",
	"bodywork", "therapeutic",
}

// Classification is the heuristic verdict for a service name.
type Classification struct {
	Type                 model.Classification `json:"type"`
	Confidence           float64              `json:"confidence"`
	RequiresManualReview bool                 `json:"requiresManualReview"`
	MedicalMatches       int                  `json:"medicalMatches"`
	WellnessMatches      int                  `json:"wellnessMatches"`
}

func countMatches(keywords []string, name, category string) int {
	n := 0
	for _, kw := range keywords {
		if strings.Contains(name, kw) || (category != "" && strings.Contains(category, kw)) {
			n++
		}
	}
	return n
}

// Classify scores a service name and optional category against the keyword lists.
// The list with strictly more matches wins; ties, including no matches, are unknown.
func Classify(name, category string) Classification {
	name = strings.ToLower(name)
	category = strings.ToLower(category)

	medical := countMatches(medicalKeywords, name, category)
	wellness := countMatches(wellnessKeywords, name, category)
	total := medical + wellness

	c := Classification{
		Type:            model.ClassificationUnknown,
		MedicalMatches:  medical,
		WellnessMatches: wellness,
	}
	switch {
	case medical > wellness:
		c.Type = model.ClassificationMedical
	case wellness > medical:
		c.Type = model.ClassificationWellness
	}
	if total > 0 {
		c.Confidence = math.Min(1, float64(total)/3)
	}
	c.RequiresManualReview = c.Type == model.ClassificationUnknown || c.Confidence < ReviewThreshold
	return c
}

// Resolve returns the persisted classification when an admin has set one, otherwise the heuristic.
func Resolve(svc *model.Service) Classification {
	if svc.Classification != "" && svc.Classification != model.ClassificationUnknown {
		return Classification{Type: svc.Classification, Confidence: 1}
	}
	return Classify(svc.Name, model.Deref(svc.Category))
}
