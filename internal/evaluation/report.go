package evaluation

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/msageha/railscript/internal/model"
)

// StopRow is one line of the station table in a report.
type StopRow struct {
	Station            string
	ScheduledArrival   string
	ActualArrival      string
	ScheduledDeparture string
	ActualDeparture    string
	Delay              string
	Status             string
}

// Report is everything rendered at the end of a run.
type Report struct {
	Mission     string
	RunID       string
	Status      model.ActivityStatus
	ElapsedS    float64
	Counters    model.EvaluationCounters
	Stops       []StopRow
	GeneratedAt time.Time
}

var reportFuncs = template.FuncMap{
	"seconds": func(s float64) string {
		return (time.Duration(s * float64(time.Second))).Round(time.Second).String()
	},
	"km": func(m float64) string {
		return fmt.Sprintf("%.2f km", m/1000)
	},
}

const reportTemplate = `# Activity Report: {{.Mission}}
{{- if .RunID}}
Run: {{.RunID}}
{{- end}}
Result: {{.Status}}
Elapsed: {{seconds .ElapsedS}}
Generated: {{.GeneratedAt.Format "2006-01-02 15:04:05"}}

## Driving
Distance travelled: {{km .Counters.DistanceTravelledM}}
Over-speed events: {{.Counters.OverSpeedEvents}} ({{seconds .Counters.OverSpeedAccumulatedS}})
Full brake below 8 km/h: {{.Counters.FullBrakeEvents}} ({{seconds .Counters.FullBrakeAccumulatedS}})
Autopilot: {{.Counters.AutopilotEngagements}} engagements ({{seconds .Counters.AutopilotAccumulatedS}})

## Train Handling
Coupler breaks: {{.Counters.CouplerBreaks}}
Snapped brake hoses: {{.Counters.SnappedHoses}}
Train overturned: {{.Counters.TrainOverturned}}

## Station Stops
Departures before boarding completed: {{.Counters.DepartBeforeBoarding}}
{{- if .Stops}}
| Station | Sched. arr. | Arr. | Sched. dep. | Dep. | Delay | Status |
|---|---|---|---|---|---|---|
{{- range .Stops}}
| {{.Station}} | {{.ScheduledArrival}} | {{.ActualArrival}} | {{.ScheduledDeparture}} | {{.ActualDeparture}} | {{.Delay}} | {{.Status}} |
{{- end}}
{{- else}}
(no scheduled stops)
{{- end}}
`

var reportTmpl = template.Must(template.New("report").Funcs(reportFuncs).Parse(reportTemplate))

// Render formats the report as markdown text.
func (r *Report) Render() (string, error) {
	var sb strings.Builder
	if err := reportTmpl.Execute(&sb, r); err != nil {
		return "", fmt.Errorf("failed to execute report template: %w", err)
	}
	return sb.String(), nil
}
