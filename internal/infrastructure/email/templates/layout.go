// Package templates provides email template layout
package templates

import (
	"bytes"
	"html/template"
	"log"
)

type AlertEmailProps struct {
	Title  string
	Lines  []string
	Footer string
}

type alertTemplateData struct {
	Title  string
	Lines  []string
	Footer string
}

// alertLayoutTemplate is the compiled template for operational alerts.
// Plain table layout; these go to operators, not customers.
var alertLayoutTemplate = template.Must(template.New("alertLayout").Parse(`
<!doctype html>
<html lang="en">
  <head>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <meta http-equiv="Content-Type" content="text/html; charset=UTF-8">
    <title>Treeline alert</title>
  </head>
  <body style="font-family: Helvetica, sans-serif; font-size: 16px; line-height: 1.3; background-color: #f4f5f6; margin: 0; padding: 16px;">
    <table role="presentation" border="0" cellpadding="0" cellspacing="0" style="background-color: #ffffff; border: 1px solid #eaebed; border-radius: 8px; width: 100%; max-width: 600px; margin: 0 auto;">
      <tr>
        <td style="padding: 24px;">
          <h2 style="margin: 0 0 16px; color: #c0392b;">{{.Title}}</h2>
          {{range .Lines}}<p style="margin: 0 0 8px;">{{.}}</p>
          {{end}}
          <p style="margin: 16px 0 0; color: #9a9ea6; font-size: 13px;">{{.Footer}}</p>
        </td>
      </tr>
    </table>
  </body>
</html>
`))

// GetAlertEmail renders an operational alert body.
func GetAlertEmail(props AlertEmailProps) string {
	footer := props.Footer
	if footer == "" {
		footer = "Sent by the Treeline refresh scheduler."
	}

	var buf bytes.Buffer
	err := alertLayoutTemplate.Execute(&buf, alertTemplateData{
		Title:  props.Title,
		Lines:  props.Lines,
		Footer: footer,
	})
	if err != nil {
		log.Printf("Failed to render alert email template: %v", err)
		return "<p>" + template.HTMLEscapeString(props.Title) + "</p>"
	}
	return buf.String()
}
