package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/farm-controller/internal/audit"
	"github.com/sweeney/farm-controller/internal/logic"
	"github.com/sweeney/farm-controller/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"seconds": func(d time.Duration) string {
		if d <= 0 {
			return "-"
		}
		return (d + time.Second - 1).Truncate(time.Second).String()
	},
	"onOff": func(on bool) string {
		if on {
			return "ON"
		}
		return "OFF"
	},
	"clock": func(t time.Time) string {
		return t.UTC().Format("15:04:05")
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta http-equiv="refresh" content="5">
<title>Farm Controller</title>
<style>
body { font-family: monospace; max-width: 720px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 30%; }
.on { color: green; font-weight: bold; }
.off { color: #888; }
.test { color: orange; }
.connected { color: green; }
.disconnected { color: red; }
.stale { color: orange; }
</style>
</head>
<body>
<h1>Farm Controller {{.Config.DeviceID}}</h1>

<h2>Actuators</h2>
<table>
<tr><th>Actuator</th><td>State</td><td>Source</td><td>Remaining</td></tr>
{{range .Rows}}<tr><th>{{.Name}}</th><td class="{{if .State.IsOn}}on{{else}}off{{end}}">{{onOff .State.IsOn}}{{if .State.IsTestMode}} <span class="test">(test)</span>{{end}}</td><td>{{.State.TriggerSource}}</td><td>{{seconds .State.RemainingTime}}</td></tr>
{{end}}<tr><th>Ready</th><td colspan="3">{{if .Ready}}yes{{else}}no{{end}}</td></tr>
</table>

<h2>Sensors</h2>
<table>
{{if .Sensors}}{{range $k, $r := .Sensors.Readings}}<tr><th>{{$k}}</th><td>{{if $r.Numeric}}{{$r.Value}}{{else}}n/a{{end}}</td></tr>
{{end}}<tr><th>Captured</th><td class="{{if .SensorsStale}}stale{{end}}">{{.Sensors.CapturedAt.UTC.Format "2006-01-02T15:04:05Z"}}{{if .SensorsStale}} (stale){{end}}</td></tr>
{{else}}<tr><th>Snapshot</th><td class="stale">none received</td></tr>{{end}}
</table>

<h2>Recent Activity</h2>
<table>
{{range .Recent}}<tr><th>{{clock .Timestamp}} {{.Actuator}}</th><td>{{.Kind}}: {{onOff .Before.IsOn}} &rarr; {{onOff .After.IsOn}} ({{.Source}}) {{.Cause}}</td></tr>
{{else}}<tr><td>no activity yet</td></tr>
{{end}}</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Counts</h2>
<table>
<tr><th>Ticks</th><td>{{.Counts.Ticks}}</td></tr>
<tr><th>Transitions</th><td>{{.Counts.Transitions}}</td></tr>
<tr><th>Relay commands</th><td>{{.Counts.Commands}}</td></tr>
<tr><th>Relay errors</th><td>{{.Counts.DriverErrs}}</td></tr>
<tr><th>Audit dropped</th><td>{{.AuditDropped}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Tick</th><td>{{.Config.TickMs}}ms</td></tr>
<tr><th>Stale after</th><td>{{if eq .Config.StaleAfterMs 0}}disabled{{else}}{{.Config.StaleAfterMs}}ms{{end}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.HeartbeatMs 0}}disabled{{else}}{{.Config.HeartbeatMs}}ms{{end}}</td></tr>
<tr><th>Wraparound</th><td>{{.Config.Wraparound}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> &middot; <a href="/api/audit">Audit</a></p>
</body>
</html>
`

type row struct {
	Name  logic.Actuator
	State logic.ActuatorState
}

func renderHTML(w io.Writer, snap status.Snapshot, recent []audit.Entry) {
	// Snapshot has Uptime() and Ready() methods but the template wants fields.
	rows := make([]row, 0, len(snap.Order))
	for _, a := range snap.Order {
		rows = append(rows, row{Name: a, State: snap.States[a]})
	}
	data := struct {
		status.Snapshot
		Uptime time.Duration
		Ready  bool
		Rows   []row
		Recent []audit.Entry
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Ready:    snap.Ready(),
		Rows:     rows,
		Recent:   recent,
	}
	indexTmpl.Execute(w, data)
}
