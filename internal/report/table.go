// Package report renders fit and flux-point results as flat tables, either
// aligned text for terminals or CSV for downstream tooling.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"text/tabwriter"

	"github.com/banshee-data/skystack/internal/fit"
	"github.com/banshee-data/skystack/internal/flux"
)

// Row is one parameter line of a report: name, fitted value, lower and upper
// errors, unit. Symmetric errors carry the same magnitude on both sides.
type Row struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	ErrN  float64 `json:"err_n"`
	ErrP  float64 `json:"err_p"`
	Unit  string  `json:"unit"`
}

// FitRows flattens a fit result into report rows. Errors are symmetric
// (covariance diagonal); with no covariance available both sides are zero.
func FitRows(res *fit.Result) []Row {
	rows := make([]Row, len(res.Names))
	for i, name := range res.Names {
		rows[i] = Row{Name: name, Value: res.Values[i], Unit: res.Units[i]}
		if res.Errors != nil {
			rows[i].ErrN = res.Errors[i]
			rows[i].ErrP = res.Errors[i]
		}
	}
	return rows
}

// WriteFitTable renders a fit result as an aligned text table, one parameter
// per line, followed by the statistic and convergence summary.
func WriteFitTable(w io.Writer, res *fit.Result) error {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "parameter\tvalue\terr-\terr+\tunit")
	for _, r := range FitRows(res) {
		fmt.Fprintf(tw, "%s\t%.6g\t%.3g\t%.3g\t%s\n", r.Name, r.Value, r.ErrN, r.ErrP, r.Unit)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\nstat=%.4f backend=%s evaluations=%d converged=%v\n",
		res.Stat, res.Backend, res.NEval, res.Converged)
	return err
}

// WriteFluxTable renders flux points as an aligned text table. Upper-limit
// points show the normalization plus its positive error as the limit; failed
// points show the failure instead of numbers.
func WriteFluxTable(w io.Writer, points []flux.Point) error {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "e_min\te_max\te_ref\tnorm\terr-\terr+\tts\tsigma\tflag")
	for _, p := range points {
		if p.Err != nil {
			fmt.Fprintf(tw, "%.4g\t%.4g\t%.4g\t-\t-\t-\t-\t-\tfailed: %v\n", p.EMin, p.EMax, p.ERef, p.Err)
			continue
		}
		flag := ""
		if p.UpperLimit {
			flag = fmt.Sprintf("ul<%.4g", p.Norm+2*p.ErrP)
		}
		if p.ProfileErr != nil {
			if flag != "" {
				flag += " "
			}
			flag += fmt.Sprintf("profile: %v", p.ProfileErr)
		}
		fmt.Fprintf(tw, "%.4g\t%.4g\t%.4g\t%.4g\t%.3g\t%.3g\t%.2f\t%.2f\t%s\n",
			p.EMin, p.EMax, p.ERef, p.Norm, p.ErrN, p.ErrP, p.TS, flux.Significance(p.TS), flag)
	}
	return tw.Flush()
}

// WriteFluxCSV writes flux points as CSV with a header row.
func WriteFluxCSV(w io.Writer, points []flux.Point) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"e_min", "e_max", "e_ref", "norm", "err_n", "err_p", "ts", "upper_limit", "error"}); err != nil {
		return err
	}
	for _, p := range points {
		errStr := ""
		if p.Err != nil {
			errStr = p.Err.Error()
		} else if p.ProfileErr != nil {
			errStr = p.ProfileErr.Error()
		}
		row := []string{
			fmt.Sprintf("%.8g", p.EMin),
			fmt.Sprintf("%.8g", p.EMax),
			fmt.Sprintf("%.8g", p.ERef),
			fmt.Sprintf("%.8g", p.Norm),
			fmt.Sprintf("%.8g", p.ErrN),
			fmt.Sprintf("%.8g", p.ErrP),
			fmt.Sprintf("%.4f", p.TS),
			fmt.Sprintf("%v", p.UpperLimit),
			errStr,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteContour writes contour vertices as CSV. Vertices the tracer could not
// place are absent from the curve already; Failed only affects the count.
func WriteContour(w io.Writer, c *fit.Contour) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{c.ParamA, c.ParamB}); err != nil {
		return err
	}
	for i := range c.X {
		if err := cw.Write([]string{
			fmt.Sprintf("%.8g", c.X[i]),
			fmt.Sprintf("%.8g", c.Y[i]),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	if cw.Error() != nil {
		return cw.Error()
	}
	if len(c.Failed) > 0 {
		_, err := fmt.Fprintf(w, "# %d of %d vertices failed\n", len(c.Failed), len(c.X)+len(c.Failed))
		return err
	}
	return nil
}

// FormatValueErr formats a value with asymmetric errors the way the text
// tables do, collapsing to the +/- form when the two sides agree.
func FormatValueErr(value, errN, errP float64) string {
	if errN == 0 && errP == 0 {
		return fmt.Sprintf("%.6g", value)
	}
	if math.Abs(errN-errP) < 1e-3*math.Max(errN, errP) {
		return fmt.Sprintf("%.6g +/- %.3g", value, 0.5*(errN+errP))
	}
	return fmt.Sprintf("%.6g -%.3g +%.3g", value, errN, errP)
}
