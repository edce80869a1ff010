package report

import "html/template"

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Firewall Audit Report - {{.Client.Name}}</title>
<style>
 body { font-family: Arial, Helvetica, sans-serif; margin: 24px; color: #222; }
 h1 { margin-bottom: 0; }
 .meta { color: #666; margin-bottom: 24px; }
 .badge { display: inline-block; padding: 4px 12px; border-radius: 4px; color: #fff; font-weight: bold; }
 .score-ok { background: #2e7d32; }
 .score-warning { background: #f9a825; }
 .score-critical { background: #c62828; }
 .score-none { background: #757575; }
 table { border-collapse: collapse; width: 100%; margin-bottom: 24px; }
 th, td { border: 1px solid #ddd; padding: 6px 10px; text-align: left; font-size: 14px; }
 th { background: #f5f5f5; }
 .sev-critical { color: #c62828; font-weight: bold; }
 .sev-high { color: #e65100; font-weight: bold; }
 .sev-medium { color: #f9a825; }
 .sev-low { color: #2e7d32; }
 .sev-info { color: #666; }
 .verdict-fail { color: #c62828; }
 .verdict-pass { color: #2e7d32; }
 .verdict-unknown { color: #757575; }
</style>
</head>
<body>
<h1>Firewall Security Audit</h1>
<p class="meta">Client: {{.Client.Name}} | Run: {{.Run.RunID}} | Status: {{.Run.Status}} | Generated: {{.GeneratedAt}}</p>

<h2>Overall score: <span class="badge score-{{.OverallLabel}}">{{.OverallScore}}</span></h2>

<h2>Firewalls</h2>
<table>
<tr><th>Firewall</th><th>State</th><th>Score</th><th>Attempts</th><th>Pass</th><th>Fail</th><th>Unknown</th><th>Failure</th></tr>
{{range .Firewalls}}<tr>
 <td>{{.Name}}</td>
 <td>{{.State}}</td>
 <td><span class="badge score-{{.Label}}">{{.Score}}</span></td>
 <td>{{.Attempts}}</td>
 <td class="verdict-pass">{{.Verdicts.Pass}}</td>
 <td class="verdict-fail">{{.Verdicts.Fail}}</td>
 <td class="verdict-unknown">{{.Verdicts.Unknown}}</td>
 <td>{{.Failure}}</td>
</tr>
{{end}}</table>

{{range .Firewalls}}{{if .Findings}}
<h3>{{.Name}}</h3>
<table>
<tr><th>Category</th><th>Check</th><th>Severity</th><th>Verdict</th><th>Detail</th></tr>
{{range .Findings}}<tr>
 <td>{{.Category}}</td>
 <td>{{.Name}}</td>
 <td class="sev-{{.Severity}}">{{.Severity}}</td>
 <td class="verdict-{{.Verdict}}">{{.Verdict}}</td>
 <td>{{.Description}}</td>
</tr>
{{end}}</table>
{{end}}{{end}}

{{if .Remediations}}
<h2>Remediation priorities</h2>
<table>
<tr><th>Severity</th><th>Firewall</th><th>Category</th><th>Check</th><th>Recommended action</th></tr>
{{range .Remediations}}<tr>
 <td class="sev-{{.Severity}}">{{.Severity}}</td>
 <td>{{.Firewall}}</td>
 <td>{{.Category}}</td>
 <td>{{.Name}}</td>
 <td>{{.Action}}</td>
</tr>
{{end}}</table>
{{end}}
</body>
</html>
`))
