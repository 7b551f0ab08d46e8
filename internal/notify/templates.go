package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/hackgods/clinic-booking/internal/appointment"
)

var emailTemplates = template.Must(template.New("emails").Parse(`
{{define "created"}}<!DOCTYPE html>
<html><body style="font-family: Arial, sans-serif; color: #222;">
<h2>Appointment booked</h2>
<p>Hello {{.Recipient}},</p>
<p>{{.Intro}}</p>
<table cellpadding="4">
<tr><td><strong>Reference</strong></td><td>{{.Code}}</td></tr>
<tr><td><strong>Provider</strong></td><td>{{.ProviderName}}</td></tr>
<tr><td><strong>Patient</strong></td><td>{{.RequesterName}}</td></tr>
<tr><td><strong>Date</strong></td><td>{{.Date}}</td></tr>
<tr><td><strong>Time</strong></td><td>{{.Slot}}</td></tr>
<tr><td><strong>Type</strong></td><td>{{.Mode}}</td></tr>
{{if .Location}}<tr><td><strong>Location</strong></td><td>{{.Location}}</td></tr>{{end}}
{{if .MeetingURL}}<tr><td><strong>Video link</strong></td><td><a href="{{.MeetingURL}}">{{.MeetingURL}}</a></td></tr>{{end}}
</table>
</body></html>{{end}}
{{define "status"}}<!DOCTYPE html>
<html><body style="font-family: Arial, sans-serif; color: #222;">
<h2>Appointment {{.Status}}</h2>
<p>Hello {{.Recipient}},</p>
<p>Your appointment {{.Code}} with {{.ProviderName}} on {{.Date}} at {{.Slot}} is now <strong>{{.Status}}</strong>.</p>
</body></html>{{end}}
`))

type emailView struct {
	Recipient     string
	Intro         string
	Code          string
	ProviderName  string
	RequesterName string
	Date          string
	Slot          string
	Mode          string
	Location      string
	MeetingURL    string
	Status        string
}

func viewFor(b *appointment.Booking, recipient string) emailView {
	v := emailView{
		Recipient:     orDefault(recipient, "there"),
		Code:          b.AppointmentCode,
		ProviderName:  b.Provider.Name,
		RequesterName: b.Requester.Name,
		Date:          appointment.FormatDate(b.Date),
		Slot:          b.SlotLabel,
		Mode:          string(b.Mode),
		Location:      b.Location,
		Status:        string(b.Status),
	}
	if b.MeetingURL != nil {
		v.MeetingURL = *b.MeetingURL
	}
	return v
}

func createdEmails(b *appointment.Booking) []Message {
	var out []Message

	if email := strings.TrimSpace(b.Requester.Email); email != "" {
		v := viewFor(b, b.Requester.Name)
		v.Intro = "Your appointment has been booked."
		out = append(out, Message{
			To:      email,
			ToName:  b.Requester.Name,
			Subject: fmt.Sprintf("Appointment %s booked with %s", b.AppointmentCode, b.Provider.Name),
			HTML:    render("created", v),
			Text:    createdText(v),
		})
	}
	if email := strings.TrimSpace(b.Provider.Email); email != "" {
		v := viewFor(b, b.Provider.Name)
		v.Intro = "A new appointment has been booked with you."
		out = append(out, Message{
			To:      email,
			ToName:  b.Provider.Name,
			Subject: fmt.Sprintf("New appointment %s on %s", b.AppointmentCode, v.Date),
			HTML:    render("created", v),
			Text:    createdText(v),
		})
	}
	return out
}

func statusEmail(b *appointment.Booking) (Message, bool) {
	email := strings.TrimSpace(b.Requester.Email)
	if email == "" {
		return Message{}, false
	}
	v := viewFor(b, b.Requester.Name)
	return Message{
		To:      email,
		ToName:  b.Requester.Name,
		Subject: fmt.Sprintf("Appointment %s %s", b.AppointmentCode, b.Status),
		HTML:    render("status", v),
		Text: fmt.Sprintf("Your appointment %s with %s on %s at %s is now %s.",
			v.Code, v.ProviderName, v.Date, v.Slot, v.Status),
	}, true
}

func createdText(v emailView) string {
	text := fmt.Sprintf("%s Reference %s with %s on %s at %s (%s).",
		v.Intro, v.Code, v.ProviderName, v.Date, v.Slot, v.Mode)
	if v.MeetingURL != "" {
		text += " Join: " + v.MeetingURL
	}
	return text
}

func render(name string, v emailView) string {
	var buf bytes.Buffer
	if err := emailTemplates.ExecuteTemplate(&buf, name, v); err != nil {
		return ""
	}
	return buf.String()
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
