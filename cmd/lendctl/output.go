// cmd/lendctl/output.go
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/rovshanmuradov/defi-lending/internal/api"
	"github.com/rovshanmuradov/defi-lending/internal/ui/component"
	"github.com/rovshanmuradov/defi-lending/internal/ui/style"
)

type format string

const (
	formatTable format = "table"
	formatJSON  format = "json"
	formatYAML  format = "yaml"
)

func parseFormat(s string) (format, error) {
	switch f := format(s); f {
	case formatTable, formatJSON, formatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q", s)
	}
}

type printer struct {
	w      io.Writer
	format format
}

func newPrinter(w io.Writer, f format) *printer {
	return &printer{w: w, format: f}
}

// structured prints v as json/yaml; false for table output.
func (p *printer) structured(v interface{}) (bool, error) {
	switch p.format {
	case formatJSON:
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(p.w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return true, err
		}
		return true, enc.Close()
	default:
		return false, nil
	}
}

func (p *printer) println(s string) error {
	_, err := fmt.Fprintln(p.w, s)
	return err
}

func (p *printer) assets(assets []string) error {
	if done, err := p.structured(map[string][]string{"assets": assets}); done {
		return err
	}
	t := component.NewTable().AddColumn("Asset", 0, lipgloss.Left)
	for _, a := range assets {
		t.AddRow(a)
	}
	return p.println(t.View())
}

func (p *printer) rates(list []api.ComparisonView, failures map[string]string) error {
	if done, err := p.structured(map[string]interface{}{"assets": list, "failures": failures}); done {
		return err
	}
	for _, cmp := range list {
		t := component.NewTable().
			AddColumn("Protocol", 0, lipgloss.Left).
			AddColumn("Supply APR", 0, lipgloss.Right).
			AddColumn("Borrow APR", 0, lipgloss.Right).
			AddColumn("Utilization", 0, lipgloss.Right).
			AddColumn("Borrowing", 0, lipgloss.Center).
			AddColumn("Frozen", 0, lipgloss.Center)
		for _, r := range cmp.Rates {
			t.AddRow(string(r.Protocol), r.SupplyAPR+"%", r.BorrowAPR+"%", r.Utilization,
				yesNo(r.BorrowingEnabled), yesNo(r.Frozen))
		}
		lines := []string{
			style.Title(cmp.Asset) + "  risk " + style.Risk(cmp.Risk),
			t.View(),
			fmt.Sprintf("best supply: %s   best borrow: %s   advantage: %s pp",
				cmp.BestSupplyProtocol, cmp.BestBorrowProtocol, cmp.RateAdvantagePercent),
			style.Muted(cmp.Recommendation),
		}
		for _, id := range sortedKeys(cmp.Failures) {
			lines = append(lines, style.Error(fmt.Sprintf("%s unavailable: %s", id, cmp.Failures[id])))
		}
		if err := p.println(lipgloss.JoinVertical(lipgloss.Left, lines...) + "\n"); err != nil {
			return err
		}
	}
	for _, asset := range sortedKeys(failures) {
		if err := p.println(style.Error(fmt.Sprintf("%s: %s", asset, failures[asset]))); err != nil {
			return err
		}
	}
	return nil
}

func (p *printer) positions(v api.PositionsView) error {
	if done, err := p.structured(v); done {
		return err
	}
	t := component.NewTable().
		AddColumn("Protocol", 0, lipgloss.Left).
		AddColumn("Asset", 0, lipgloss.Left).
		AddColumn("Side", 0, lipgloss.Left).
		AddColumn("Amount", 0, lipgloss.Right).
		AddColumn("Value USD", 0, lipgloss.Right).
		AddColumn("APR", 0, lipgloss.Right).
		AddColumn("HF", 0, lipgloss.Right).
		AddColumn("Risk", 0, lipgloss.Left)
	for _, pos := range v.Positions {
		t.AddRow(string(pos.Protocol), pos.Asset, string(pos.Side), pos.Amount, pos.ValueUSD,
			pos.APR, pos.HealthFactor, style.Risk(pos.Risk))
	}
	lines := []string{style.Title("Positions of " + v.User), t.View()}
	lines = append(lines, failureLines(v.Failures, v.Complete)...)
	return p.println(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (p *printer) health(v api.AccountHealthView) error {
	if done, err := p.structured(v); done {
		return err
	}
	summary := component.NewTable().
		AddColumn("Metric", 0, lipgloss.Left).
		AddColumn("Value", 0, lipgloss.Right)
	summary.
		AddRow("Collateral USD", v.TotalCollateral).
		AddRow("Debt USD", v.TotalDebt).
		AddRow("Health factor", v.HealthFactor).
		AddRow("Risk-adjusted HF", v.RiskAdjustedHealthFactor).
		AddRow("Diversification", v.Diversification).
		AddRow("Health score", v.HealthScore).
		AddRow("Risk", style.Risk(v.Risk))

	breakdown := component.NewTable().
		AddColumn("Protocol", 0, lipgloss.Left).
		AddColumn("Collateral USD", 0, lipgloss.Right).
		AddColumn("Debt USD", 0, lipgloss.Right).
		AddColumn("HF", 0, lipgloss.Right).
		AddColumn("Risk", 0, lipgloss.Left)
	for _, ph := range v.Protocols {
		breakdown.AddRow(string(ph.Protocol), ph.TotalCollateral, ph.TotalDebt, ph.HealthFactor, style.Risk(ph.Risk))
	}

	lines := []string{style.Title("Account health of " + v.User), summary.View(), breakdown.View()}
	lines = append(lines, failureLines(v.Failures, v.Complete)...)
	return p.println(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

func (p *printer) capacity(v api.BorrowCapacityView) error {
	if done, err := p.structured(v); done {
		return err
	}
	t := component.NewTable().
		AddColumn("Protocol", 0, lipgloss.Left).
		AddColumn("Current HF", 0, lipgloss.Right).
		AddColumn("Target HF", 0, lipgloss.Right).
		AddColumn("Value USD", 0, lipgloss.Right).
		AddColumn("Amount", 0, lipgloss.Right)
	amount := v.Amount
	if v.Asset != "" {
		amount += " " + v.Asset
	}
	t.AddRow(string(v.Protocol), v.CurrentHealthFactor, v.TargetHealthFactor, v.ValueUSD, amount)
	return p.println(t.View())
}

func (p *printer) transaction(v api.TransactionView) error {
	if done, err := p.structured(v); done {
		return err
	}
	t := component.NewTable().
		AddColumn("Field", 0, lipgloss.Left).
		AddColumn("Value", 0, lipgloss.Left)
	t.AddRow("id", v.ID).
		AddRow("operation", string(v.Kind)).
		AddRow("protocol", string(v.Protocol)).
		AddRow("asset", v.Asset).
		AddRow("amount", v.Amount).
		AddRow("tx", v.TxRef).
		AddRow("gas cost", v.ResourceCost)
	if v.EffectiveAPR != "" {
		t.AddRow("rate", v.EffectiveAPR)
	}
	return p.println(t.View())
}

func failureLines(failures map[string]string, complete bool) []string {
	var lines []string
	if !complete {
		lines = append(lines, style.Error("incomplete: some protocols could not be read"))
	}
	for _, id := range sortedKeys(failures) {
		lines = append(lines, style.Error(fmt.Sprintf("%s: %s", id, failures[id])))
	}
	return lines
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
