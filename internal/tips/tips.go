// Package tips turns yesterday's most recent log into a status and advice line.
package tips

import (
	"strings"

	"github.com/gutlog/backend/internal/storage/models"
)

const (
	StatusNoData       = "No data"
	StatusHealthy      = "Healthy"
	StatusConstipation = "Constipation"
	StatusDiarrhea     = "Diarrhea"
	StatusUnknown      = "Unknown"
)

const (
	noDataTip       = "Looks like you didn't record any bowel movements yesterday! If you're constipated, drink more water and eat more fiber."
	healthyTip      = "Good job yesterday, your bowel movements were healthy!"
	constipationTip = "Yesterday was a bit tough. Try drinking more water and eating more fiber."
	diarrheaTip     = "Yesterday was rough. Try drinking more water and avoiding fat and dairy."
	unknownTip      = "Keep tracking to see your personalized digestive trends!"
)

// rules are checked in order against the lower-cased label, so variants
// like "Type 1 - Constipation" still match.
var rules = []struct {
	substr string
	tip    models.Tip
}{
	{"healthy", models.Tip{Status: StatusHealthy, Tip: healthyTip}},
	{"constipation", models.Tip{Status: StatusConstipation, Tip: constipationTip}},
	{"diarrhea", models.Tip{Status: StatusDiarrhea, Tip: diarrheaTip}},
}

// ForLog picks the tip for entry; nil means nothing was logged.
func ForLog(entry *models.LogEntry) models.Tip {
	if entry == nil {
		return models.Tip{Status: StatusNoData, Tip: noDataTip}
	}
	return ForLabel(entry.Label)
}

func ForLabel(label string) models.Tip {
	lower := strings.ToLower(label)
	for _, r := range rules {
		if strings.Contains(lower, r.substr) {
			return r.tip
		}
	}
	return models.Tip{Status: StatusUnknown, Tip: unknownTip}
}
