package bom

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// LabelPresenter renders component types as English display labels, e.g.
// SUB_ASSEMBLY becomes "Sub Assembly".
type LabelPresenter struct {
	caser cases.Caser
}

// NewLabelPresenter builds the default presenter.
func NewLabelPresenter() *LabelPresenter {
	return &LabelPresenter{caser: cases.Title(language.English)}
}

func (p *LabelPresenter) ComponentTypeLabel(t ComponentType) string {
	if !t.Valid() {
		return "Unknown"
	}
	return p.caser.String(strings.ToLower(strings.ReplaceAll(string(t), "_", " ")))
}
