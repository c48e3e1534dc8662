package notifier

import (
	"bytes"
	"html/template"
)

// AvailabilityEmail is the data rendered into the bundle-completion email.
type AvailabilityEmail struct {
	Available      []ObjectLink
	InProgress     []string
	UnsubscribeURL string
}

type ObjectLink struct {
	ObjectKey string
	URL       string
}

// AcknowledgementEmail is the data rendered into the request-received email.
type AcknowledgementEmail struct {
	UnsubscribeURL string
}

// Renderer produces the subject and HTML body of a notification email.
type Renderer interface {
	RenderAvailability(data *AvailabilityEmail) (subject, htmlBody string, err error)
	RenderAcknowledgement(data *AcknowledgementEmail) (subject, htmlBody string, err error)
}

const (
	availabilitySubject    = "SAR Product Available to Download"
	acknowledgementSubject = "SAR Product Request Received"
)

const availabilityBody = `Newly available data to download:
<UL>
{{range .Available}}<LI><a href="{{.URL}}">{{.ObjectKey}}</a></LI>
{{end}}</UL>
<p>
{{if .InProgress}}Data request still in process:
<UL>
{{range .InProgress}}<LI>{{.}}</LI>
{{end}}</UL>
<p>
{{end}}Thank you,<br>ASF DAAC
<p>
<a href="{{.UnsubscribeURL}}">Unsubscribe</a> from email notifications
`

const acknowledgementBody = `Your data request has been received. Restoring data from the archive can
take several hours; you will receive another email once your products are
available for download.
<p>
Thank you,<br>ASF DAAC
<p>
<a href="{{.UnsubscribeURL}}">Unsubscribe</a> from email notifications
`

type TemplateRenderer struct {
	availabilityTmpl    *template.Template
	acknowledgementTmpl *template.Template
}

func NewTemplateRenderer() *TemplateRenderer {
	return &TemplateRenderer{
		availabilityTmpl:    template.Must(template.New("availability").Parse(availabilityBody)),
		acknowledgementTmpl: template.Must(template.New("acknowledgement").Parse(acknowledgementBody)),
	}
}

func (r *TemplateRenderer) RenderAvailability(data *AvailabilityEmail) (string, string, error) {
	var body bytes.Buffer
	if err := r.availabilityTmpl.Execute(&body, data); err != nil {
		return "", "", err
	}
	return availabilitySubject, body.String(), nil
}

func (r *TemplateRenderer) RenderAcknowledgement(data *AcknowledgementEmail) (string, string, error) {
	var body bytes.Buffer
	if err := r.acknowledgementTmpl.Execute(&body, data); err != nil {
		return "", "", err
	}
	return acknowledgementSubject, body.String(), nil
}
