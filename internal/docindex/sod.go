package docindex

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/GriffinCanCode/good-listener/backend/sod/pkg/sod"
)

// Table variables and pages of the SOD groups.
const (
	MacrosVar    = "group__group__sod__macros"
	ResultsVar   = "group__sod__results"
	ResultsTitle = "speech onset detection (SOD) results/error codes"
)

// Macro is one documented tuning constant.
type Macro struct {
	Name  string
	Value int64
	Doc   string
}

// Macros lists the tuning constants in header order.
func Macros() []Macro {
	return []Macro{
		{"CY_MAX_SOD_SENSITIVITY", sod.MaxSensitivity, "maximum SOD sensitivity value"},
		{"CY_NOMINAL_SOD_SENSITIVITY", sod.NominalSensitivity, "nominal SOD sensitivity value"},
		{"CY_SOD_ONSET_GAP_SETTING_1000_MS", sod.OnsetGap1000ms.Milliseconds(), "speech onset gap of 1000ms"},
		{"CY_SOD_ONSET_GAP_SETTING_500_MS", sod.OnsetGap500ms.Milliseconds(), "speech onset gap of 500ms"},
		{"CY_SOD_ONSET_GAP_SETTING_400_MS", sod.OnsetGap400ms.Milliseconds(), "speech onset gap of 400ms"},
		{"CY_SOD_ONSET_GAP_SETTING_300_MS", sod.OnsetGap300ms.Milliseconds(), "speech onset gap of 300ms"},
		{"CY_SOD_ONSET_GAP_SETTING_200_MS", sod.OnsetGap200ms.Milliseconds(), "speech onset gap of 200ms"},
		{"CY_SOD_ONSET_GAP_SETTING_100_MS", sod.OnsetGap100ms.Milliseconds(), "speech onset gap of 100ms"},
		{"CY_SOD_ONSET_GAP_SETTING_0_MS", sod.OnsetGap0ms.Milliseconds(), "speech onset gap of 0ms"},
		{"CY_MAX_SOD_HIT_LATE_DELAY_MS", sod.MaxHitLateDelay.Milliseconds(), "worst-case detection lag"},
		{"CY_MAX_SOD_HIT_EARLY_DELAY_MS", sod.MaxHitEarlyDelay.Milliseconds(), "maximum detection lead"},
	}
}

// published anchors from the released reference manual
var published = map[string]string{
	"CY_MAX_SOD_SENSITIVITY":           "ga87ed97e49edec611159c671b5283f291",
	"CY_NOMINAL_SOD_SENSITIVITY":       "gafafc28f92ce05ae289154210b6201cbd",
	"CY_SOD_ONSET_GAP_SETTING_1000_MS": "ga968d922322c9b36a951f0e2388c6f3f0",
	"CY_SOD_ONSET_GAP_SETTING_500_MS":  "ga6dc196346ebd7d0f6b2fd99dbf81dc6f",
	"CY_SOD_ONSET_GAP_SETTING_400_MS":  "ga166a13427a6dbb3801afa3fd8f238864",
	"CY_SOD_ONSET_GAP_SETTING_300_MS":  "ga1228cdbc1bd3d44a26c9641e4830f4da",
	"CY_SOD_ONSET_GAP_SETTING_200_MS":  "ga3c786b48af938b4a0da33de1d6e85fdd",
	"CY_SOD_ONSET_GAP_SETTING_100_MS":  "ga4c7b0d8841d90d619ba5a5fc4179676a",
	"CY_SOD_ONSET_GAP_SETTING_0_MS":    "ga8c8cf145ed62351e673b6573af0e56d9",
	"CY_MAX_SOD_HIT_LATE_DELAY_MS":     "gac5dad30742facfde6478485b8aeff418",
	"CY_MAX_SOD_HIT_EARLY_DELAY_MS":    "ga14ac95c2ec81f1b73cefe7ce46486c11",
}

// Anchor returns the anchor of name within group's page: the published one
// when known, otherwise "ga" followed by the md5 of the name.
func Anchor(group, name string) string {
	id, ok := published[name]
	if !ok {
		sum := md5.Sum([]byte(name))
		id = "ga" + hex.EncodeToString(sum[:])
	}
	return fmt.Sprintf("%s.html#%s", group, id)
}

// MacrosTable builds the macros group: the results child table first, then
// each constant.
func MacrosTable() *Table {
	child := ResultsVar
	t := &Table{Var: MacrosVar}
	t.Entries = append(t.Entries, Entry{Name: ResultsTitle, Anchor: ResultsVar + ".html", Child: &child})
	for _, m := range Macros() {
		t.Entries = append(t.Entries, Entry{Name: m.Name, Anchor: Anchor(MacrosVar, m.Name)})
	}
	return t
}

// ResultName is the documented name of a result code.
func ResultName(r sod.Result) string {
	return "CY_RSLT_SOD_" + strings.ToUpper(r.Name())
}

// ResultsTable builds the results group from the detector's codes.
func ResultsTable() *Table {
	t := &Table{Var: ResultsVar}
	for _, r := range sod.Results {
		name := ResultName(r)
		t.Entries = append(t.Entries, Entry{Name: name, Anchor: Anchor(ResultsVar, name)})
	}
	return t
}

// Generated returns both SOD tables as a set.
func Generated() Set {
	s := Set{}
	s.Add(MacrosTable())
	s.Add(ResultsTable())
	return s
}
