package sender

import (
	"encoding/json"
	"strings"
	"testing"

	"eznotify/internal/model"

	"github.com/stretchr/testify/assert"
)

func TestBuildMessage(t *testing.T) {
	job := model.Job{
		Type:      model.JobTypeConfirmation,
		Recipient: "patient@example.com",
		Payload:   json.RawMessage(`{"doctor":"Dr. Wu","at":"2026-09-01T10:00:00Z"}`),
	}

	msg := string(BuildMessage("noreply@clinic.test", job))

	assert.Contains(t, msg, "From: noreply@clinic.test\r\n")
	assert.Contains(t, msg, "To: patient@example.com\r\n")
	assert.Contains(t, msg, "Subject: Your appointment is confirmed\r\n")
	assert.Contains(t, msg, "Content-Type: text/plain; charset=utf-8\r\n")

	// 头部和正文之间必须有空行，正文原样透传
	headerEnd := strings.Index(msg, "\r\n\r\n")
	assert.Greater(t, headerEnd, 0)
	assert.Contains(t, msg[headerEnd:], `"doctor":"Dr. Wu"`)
}

func TestBuildMessage_EmptyPayload(t *testing.T) {
	job := model.Job{Type: model.JobTypeReminder, Recipient: "patient@example.com"}

	msg := string(BuildMessage("noreply@clinic.test", job))

	assert.True(t, strings.HasSuffix(msg, "\r\n\r\n\r\n"), "headers end plus empty body plus trailing CRLF")
}

func TestSubjectFor(t *testing.T) {
	cases := []struct {
		jobType model.JobType
		want    string
	}{
		{model.JobTypeConfirmation, "Your appointment is confirmed"},
		{model.JobTypeReminder, "Appointment reminder"},
		{model.JobTypeCancellation, "Your appointment was cancelled"},
		{model.JobTypeReschedule, "Your appointment was rescheduled"},
		{model.JobType("bogus"), "Appointment notification"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, SubjectFor(tc.jobType), "subject for %q", tc.jobType)
	}
}
