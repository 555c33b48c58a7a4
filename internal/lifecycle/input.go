package lifecycle

import (
	"strings"

	"github.com/rotisserie/eris"

	"github.com/contractr/contractr/internal/model"
)

// ProjectInput is the intake form for a new project.
type ProjectInput struct {
	Type            string               `json:"type" yaml:"type"`
	Address         string               `json:"address" yaml:"address"`
	City            string               `json:"city" yaml:"city"`
	Zip             string               `json:"zip" yaml:"zip"`
	BudgetMax       *float64             `json:"budget_max" yaml:"budget_max"`
	DateWindow      string               `json:"date_window" yaml:"date_window"`
	Description     string               `json:"description" yaml:"description"`
	MustHaves       []string             `json:"must_haves" yaml:"must_haves"`
	NiceToHaves     []string             `json:"nice_to_haves" yaml:"nice_to_haves"`
	ChannelsAllowed []model.Channel      `json:"channels_allowed" yaml:"channels_allowed"`
	QuietHours      string               `json:"quiet_hours" yaml:"quiet_hours"`
	Autopilot       *bool                `json:"autopilot" yaml:"autopilot"`
	SeedProviders   []model.SeedProvider `json:"seed_providers" yaml:"seed_providers"`
}

// Validate checks required fields and channel names.
func (in *ProjectInput) Validate() error {
	var problems []string
	if strings.TrimSpace(in.Type) == "" {
		problems = append(problems, "type is required")
	}
	if strings.TrimSpace(in.City) == "" && strings.TrimSpace(in.Address) == "" {
		problems = append(problems, "city or address is required")
	}
	if in.BudgetMax != nil && *in.BudgetMax < 0 {
		problems = append(problems, "budget_max must not be negative")
	}
	for _, c := range in.ChannelsAllowed {
		if !c.Valid() {
			problems = append(problems, "unsupported channel "+string(c))
		}
	}
	if len(problems) > 0 {
		return eris.Wrap(model.ErrInvalidInput, strings.Join(problems, "; "))
	}
	return nil
}

// Project builds a draft project, applying intake defaults.
func (in *ProjectInput) Project() *model.Project {
	channels := dedupeChannels(in.ChannelsAllowed)
	if len(channels) == 0 {
		channels = []model.Channel{model.ChannelEmail}
	}
	autopilot := true
	if in.Autopilot != nil {
		autopilot = *in.Autopilot
	}
	return &model.Project{
		Type:            strings.TrimSpace(in.Type),
		Address:         strings.TrimSpace(in.Address),
		City:            strings.TrimSpace(in.City),
		Zip:             strings.TrimSpace(in.Zip),
		BudgetMax:       in.BudgetMax,
		DateWindow:      in.DateWindow,
		Description:     in.Description,
		MustHaves:       nonEmpty(in.MustHaves),
		NiceToHaves:     nonEmpty(in.NiceToHaves),
		ChannelsAllowed: channels,
		QuietHours:      strings.TrimSpace(in.QuietHours),
		Autopilot:       autopilot,
		SeedProviders:   in.SeedProviders,
		Status:          model.ProjectStatusDraft,
	}
}

func dedupeChannels(in []model.Channel) []model.Channel {
	var out []model.Channel
	seen := map[model.Channel]bool{}
	for _, c := range in {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
