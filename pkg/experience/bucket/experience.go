package bucket

import "fmt"

// Type distinguishes experiments from personalizations.
type Type string

// Experience types.
const (
	TypeExperiment      Type = "experiment"
	TypePersonalization Type = "personalization"
)

// Variant references one alternative piece of content.
type Variant struct {
	ID     string `json:"id" yaml:"id"`
	Hidden bool   `json:"hidden,omitempty" yaml:"hidden"`
}

// Components pairs a baseline with its variants. Variant index 0 is the
// baseline; index i > 0 selects Variants[i-1].
type Components struct {
	Baseline Variant   `json:"baseline" yaml:"baseline"`
	Variants []Variant `json:"variants" yaml:"variants"`
}

// Experience is an experiment or personalization fetched from the content
// source. It is read-only to the pipeline.
type Experience struct {
	ID           string       `json:"id" yaml:"id"`
	Name         string       `json:"name" yaml:"name"`
	Type         Type         `json:"type" yaml:"type"`
	Distribution Distribution `json:"distribution" yaml:"distribution"`
	Traffic      float64      `json:"traffic" yaml:"traffic"`
	Components   Components   `json:"components" yaml:"components"`
}

// Validate checks identity, traffic range, and the distribution table.
func (e Experience) Validate() error {
	if e.ID == "" {
		return &DistributionError{Reason: "experience id is required"}
	}
	if !(e.Traffic >= 0 && e.Traffic <= 1) {
		return &DistributionError{ExperienceID: e.ID, Reason: fmt.Sprintf("traffic %v outside [0,1]", e.Traffic)}
	}
	if err := e.Distribution.Validate(); err != nil {
		if de, ok := err.(*DistributionError); ok {
			de.ExperienceID = e.ID
		}
		return err
	}
	return nil
}

// Variant returns the content selected by an assignment. Visitors outside
// the experience get the baseline.
func (e Experience) Variant(a Assignment) Variant {
	if !a.InExperience || a.VariantIndex <= 0 || a.VariantIndex > len(e.Components.Variants) {
		return e.Components.Baseline
	}
	return e.Components.Variants[a.VariantIndex-1]
}

// Assignment is the result of bucketing one profile into one experience.
type Assignment struct {
	ExperienceID string  `json:"experienceId"`
	VariantIndex int     `json:"variantIndex"`
	InExperience bool    `json:"inExperience"`
	Draw         float64 `json:"draw"`
}

// Resolve buckets profileID into exp using the stable draw.
func Resolve(exp Experience, profileID string) Assignment {
	draw := Draw(profileID, exp.ID)
	idx, ok := Assign(exp.Distribution, exp.Traffic, draw)
	return Assignment{
		ExperienceID: exp.ID,
		VariantIndex: idx,
		InExperience: ok,
		Draw:         draw,
	}
}
