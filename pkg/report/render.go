package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/stackmedic/stackmedic/pkg/remedy"
)

// WriteJSON renders the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteText renders the report as an aligned plain-text table for terminals.
func (r *Report) WriteText(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "Diagnostic report %s\n", r.ID); err != nil {
		return err
	}
	fmt.Fprintf(w, "Generated: %s\n", r.GeneratedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(w, "Verdict:   %s\n", strings.ToUpper(string(r.Verdict)))
	if r.Escalated {
		fmt.Fprintln(w, "ESCALATED: services unreachable past the configured threshold")
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVICE\tSTATUS\tLATENCY\tMESSAGE")
	for _, s := range r.Services {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Service, s.Status, s.Latency.Round(time.Millisecond), s.Message)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(r.Remediations) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Remediations:")
		tw = tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SERVICE\tTRIGGER\tOUTCOME\tACTIONS\tDETAIL")
		for _, o := range r.Remediations {
			detail := o.Error
			if o.Kind == remedy.OutcomeSkippedCooldown {
				detail = fmt.Sprintf("cooldown for %s", o.CooldownRemaining.Round(time.Second))
			}
			if o.After != nil {
				detail = fmt.Sprintf("now %s", o.After.Status)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
				o.Service, o.Trigger, o.Kind, strings.Join(o.Actions, ","), detail)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}

	if r.Profile != nil {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Host profile: tier=%s workers=%d cache=%dMB (cores=%d ram=%dGB disk=%dGB)",
			r.Profile.Sizing.Tier, r.Profile.Sizing.WorkerCount, r.Profile.Sizing.CacheSizeMB,
			r.Profile.Resources.CPUCores, r.Profile.Resources.RAMGB(), r.Profile.Resources.DiskFreeGB)
		if r.Profile.Fallback {
			fmt.Fprint(w, " [fallback]")
		}
		fmt.Fprintln(w)
	}

	return nil
}
