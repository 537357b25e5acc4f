package domain

import "strings"

// ActivityCategory groups the network categories and applications a goal applies to.
type ActivityCategory struct {
	ID                string   `json:"id" db:"id"`
	Name              string   `json:"name" db:"name"`
	NetworkCategories []string `json:"network_categories" db:"network_categories"`
	Applications      []string `json:"applications" db:"applications"`
	MandatoryNoGo     bool     `json:"mandatory_no_go" db:"mandatory_no_go"`
}

func (c *ActivityCategory) MatchesNetworkCategories(categories []string) bool {
	for _, want := range c.NetworkCategories {
		for _, got := range categories {
			if strings.EqualFold(strings.TrimSpace(got), want) {
				return true
			}
		}
	}
	return false
}

func (c *ActivityCategory) MatchesApplication(app string) bool {
	app = strings.TrimSpace(app)
	if app == "" {
		return false
	}
	for _, a := range c.Applications {
		if strings.EqualFold(a, app) {
			return true
		}
	}
	return false
}
