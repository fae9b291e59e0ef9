package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/fioul-boiler/internal/status"
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
	"stateOrUnknown": func(s string) string {
		if s == "" {
			return "unknown"
		}
		return s
	},
	"fixed": func(places int, v float64) string {
		return fmt.Sprintf("%.*f", places, v)
	},
	"since": func(now, t time.Time) string {
		if t.IsZero() {
			return "never"
		}
		return now.Sub(t).Truncate(time.Second).String() + " ago"
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Fioul Boiler</title>
<style>
body { font-family: monospace; max-width: 600px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
th { width: 40%; }
.burn { color: #d35400; font-weight: bold; }
.idle { color: #888; }
.active { color: #2471a3; }
.unknown { color: orange; }
.ok, .connected { color: green; }
.fault, .disconnected { color: red; font-weight: bold; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Fioul Boiler{{if .Config.WSBroker}}<span id="live-dot" class="live-dot pending" title="connecting"></span>{{end}}</h1>

{{$state := stateOrUnknown (printf "%s" .Result.StateFiltered)}}
<h2>Burner</h2>
<table>
<tr><th>State</th><td id="state" class="{{if eq $state "burn"}}burn{{else if or (eq $state "arret") (eq $state "nuit")}}idle{{else if eq $state "unknown"}}unknown{{else}}active{{end}}">{{$state}}</td></tr>
<tr><th>Raw state</th><td id="state-raw">{{stateOrUnknown (printf "%s" .Result.StateRaw)}}</td></tr>
<tr><th>Power</th><td id="power">{{fixed 1 .Result.Power}} W{{if .PowerStatus}} ({{.PowerStatus}}){{end}}</td></tr>
<tr><th>Flow</th><td id="flow">{{fixed 2 .Result.DisplayFlowLPH}} L/h</td></tr>
<tr><th>Thermal power</th><td id="thermal">{{fixed 2 .Result.ThermalKW}} kW</td></tr>
<tr><th>Last certified burn</th><td>{{since .Now .BurnLastOK}}</td></tr>
<tr><th>Ready</th><td>{{if .Ready}}yes{{else}}no{{end}}</td></tr>
</table>

<h2>Faults</h2>
<table>
<tr><th>Preheat check</th><td id="err-phc" class="{{if .Result.ErrorPHC}}fault{{else}}ok{{end}}">{{if .Result.ErrorPHC}}FAILED{{else}}ok{{end}}</td></tr>
<tr><th>Burn absence</th><td id="err-absence" class="{{if .Result.ErrorAbsence}}fault{{else}}ok{{end}}">{{if .Result.ErrorAbsence}}FAULT{{else}}ok{{end}}</td></tr>
<tr><th>Global</th><td id="err-global" class="{{if .Result.ErrorGlobal}}fault{{else}}ok{{end}}">{{if .Result.ErrorGlobal}}FAULT{{else}}ok{{end}}</td></tr>
</table>

<h2>Consumption</h2>
<table>
<tr><th></th><th>Fuel (L)</th><th>Energy (kWh)</th></tr>
<tr><th>Today</th><td>{{fixed 3 .Totals.LitersDaily}}</td><td>{{fixed 4 .Totals.EnergyDaily}}</td></tr>
<tr><th>This month</th><td>{{fixed 3 .Totals.LitersMonthly}}</td><td>{{fixed 4 .Totals.EnergyMonthly}}</td></tr>
<tr><th>This year</th><td>{{fixed 3 .Totals.LitersYearly}}</td><td>{{fixed 4 .Totals.EnergyYearly}}</td></tr>
<tr><th>Lifetime</th><td>{{fixed 3 .Totals.LitersTotal}}</td><td>{{fixed 4 .Totals.EnergyTotal}}</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>Counters</h2>
<table>
<tr><th>Ticks</th><td>{{.Counts.Ticks}}</td></tr>
<tr><th>Burn phases</th><td>{{.Counts.BurnPhases}}</td></tr>
<tr><th>Preheat checks passed</th><td>{{.Counts.PHCPasses}}</td></tr>
<tr><th>Preheat checks failed</th><td>{{.Counts.PHCFailures}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02 15:04:05"}} UTC</td></tr>
<tr><th>Instance</th><td>{{.Config.InstanceID}}</td></tr>
<tr><th>Power source</th><td>{{.Config.PowerSource}}</td></tr>
<tr><th>Store</th><td>{{.Config.Store}}</td></tr>
<tr><th>Timezone</th><td>{{.Config.Timezone}}</td></tr>
<tr><th>Nominal flow</th><td>{{.Config.LPHRun}} L/h</td></tr>
<tr><th>Tick</th><td>{{.Config.TickMs}} ms</td></tr>
<tr><th>Debounce</th><td>{{.Config.DebounceMs}} ms</td></tr>
<tr><th>Heartbeat</th><td>{{.Config.HeartbeatMs}} ms</td></tr>
</table>

<p><a href="/index.json">JSON</a></p>
{{if .Config.WSBroker}}
<script src="https://unpkg.com/mqtt@5/dist/mqtt.min.js"></script>
<script>
(function() {
  var broker = "{{.Config.WSBroker}}";
  var topic = "{{.Config.StateTopic}}";
  var dot = document.getElementById("live-dot");

  function text(id, value) {
    var el = document.getElementById(id);
    if (el) { el.textContent = value; }
  }

  function flag(id, on, label) {
    var el = document.getElementById(id);
    if (!el) { return; }
    el.textContent = on ? label : "ok";
    el.className = on ? "fault" : "ok";
  }

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  var client = mqtt.connect(broker, { reconnectPeriod: 5000 });

  client.on("connect", function() {
    setDot("ok", "live");
    client.subscribe(topic);
  });

  client.on("reconnect", function() {
    setDot("pending", "reconnecting");
  });

  client.on("offline", function() {
    setDot("err", "offline");
  });

  client.on("error", function() {
    setDot("err", "error");
  });

  client.on("message", function(t, payload) {
    try {
      var msg = JSON.parse(payload.toString());
      if (msg.fioul) {
        var s = msg.fioul.state;
        var el = document.getElementById("state");
        el.textContent = s;
        el.className = s === "burn" ? "burn" : (s === "arret" || s === "nuit") ? "idle" : "active";
        text("state-raw", msg.fioul.state_raw);
        text("power", msg.fioul.power_w.toFixed(1) + " W");
        text("flow", msg.fioul.display_flow_lph.toFixed(2) + " L/h");
        text("thermal", msg.fioul.thermal_kw.toFixed(2) + " kW");
        flag("err-phc", msg.fioul.errors.phc, "FAILED");
        flag("err-absence", msg.fioul.errors.absence, "FAULT");
        flag("err-global", msg.fioul.errors.global, "FAULT");
      }
    } catch (e) {}
  });
})();
</script>
{{end}}
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}
