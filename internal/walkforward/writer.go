package walkforward

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	atomicio "github.com/sawpanic/edgerun/internal/io"
)

// Writer persists walk-forward artifacts
type Writer struct {
	reportPath string
}

// NewWriter writes the JSON report to reportPath and a markdown summary beside it
func NewWriter(reportPath string) *Writer {
	return &Writer{reportPath: reportPath}
}

// ArtifactPaths returns the JSON and markdown paths
func (w *Writer) ArtifactPaths() (string, string) {
	ext := filepath.Ext(w.reportPath)
	return w.reportPath, strings.TrimSuffix(w.reportPath, ext) + ".md"
}

// Write stores both artifacts atomically
func (w *Writer) Write(report *Report) error {
	jsonPath, mdPath := w.ArtifactPaths()
	if err := atomicio.WriteJSONAtomic(jsonPath, report); err != nil {
		return fmt.Errorf("failed to write walk-forward report: %w", err)
	}
	if err := atomicio.WriteFileAtomic(mdPath, []byte(Markdown(report))); err != nil {
		return fmt.Errorf("failed to write walk-forward summary: %w", err)
	}
	return nil
}

// Markdown renders a per-window summary table
func Markdown(report *Report) string {
	var b strings.Builder

	b.WriteString("# Walk-Forward Report\n\n")
	b.WriteString(fmt.Sprintf("**Generated**: %s\n", report.CreatedAt.Format(time.RFC3339)))
	b.WriteString(fmt.Sprintf("**Input**: %s\n", report.Input))
	b.WriteString(fmt.Sprintf("**Configuration**: features=%s, edge_min=%.3f, flat_stake=%.0f, max_stake_pct=%.3f, slippage_bps=%.0f\n\n",
		strings.Join(report.Config.Model.Features, ","), report.Config.EdgeMin, report.Config.FlatStake,
		report.Config.MaxStakePct, report.Config.SlippageBps))

	s := report.Summary
	b.WriteString("## Summary\n\n")
	b.WriteString(fmt.Sprintf("- **Windows**: %d\n", s.NWindows))
	b.WriteString(fmt.Sprintf("- **Income**: mean %.2f (std %.2f)\n", s.ModelIncomeMean, s.ModelIncomeStd))
	b.WriteString(fmt.Sprintf("- **ROI**: mean %.4f (std %.4f)\n", s.ModelROIMean, s.ModelROIStd))
	if s.ModelBeatsCoinRateMean != nil {
		b.WriteString(fmt.Sprintf("- **Beats coin**: %.1f%%\n", *s.ModelBeatsCoinRateMean*100))
	}
	b.WriteString(fmt.Sprintf("- **Bet rate**: mean %.3f (std %.3f)\n\n", s.ModelBetRateMean, s.ModelBetRateStd))

	b.WriteString("## Windows\n\n")
	b.WriteString("| Test season | Bets | Income | ROI | Max DD | Favorite | Underdog | Coin mean | Beats coin |\n")
	b.WriteString("|-------------|-----:|-------:|----:|-------:|---------:|---------:|----------:|-----------:|\n")
	for _, w := range report.Windows {
		m := w.Metrics
		beats := "n/a"
		if m.Baselines.Coin.ModelBeatsCoinRate != nil {
			beats = fmt.Sprintf("%.1f%%", *m.Baselines.Coin.ModelBeatsCoinRate*100)
		}
		b.WriteString(fmt.Sprintf("| %s | %d | %.2f | %.4f | %.2f%% | %.2f | %.2f | %.2f | %s |\n",
			w.TestSeason, m.Model.NBets, m.Model.AccruedIncome, m.Model.ROIOnStaked, m.Model.MaxDrawdown*100,
			m.Baselines.Favorite.AccruedIncome, m.Baselines.Underdog.AccruedIncome,
			m.Baselines.Coin.MeanIncome, beats))
	}
	b.WriteString("\n")

	if report.DataQuality.RowsMissingOddsAvg > 0 {
		b.WriteString(fmt.Sprintf("Rows missing odds_american_avg: %d\n", report.DataQuality.RowsMissingOddsAvg))
	}
	return b.String()
}
