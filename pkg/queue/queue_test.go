package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmailJobEnvelope(t *testing.T) {
	in := EmailPayload{
		Template: "course_confirmation",
		Subject:  "Booking confirmed",
		To:       []string{"ada@example.com"},
		Data:     map[string]any{"CourseTitle": "Soil"},
	}
	job, err := NewEmailJob(in)
	require.NoError(t, err)
	assert.Equal(t, JobTypeEmail, job.Type)
	assert.NotEmpty(t, job.ID)
	assert.Zero(t, job.Attempt)

	out, err := DecodeEmail(job)
	require.NoError(t, err)
	assert.Equal(t, in.Template, out.Template)
	assert.Equal(t, in.To, out.To)
	assert.Equal(t, "Soil", out.Data["CourseTitle"])
}

func TestDecodeEmail_RejectsOtherJobTypes(t *testing.T) {
	_, err := DecodeEmail(&Job{Type: "analytics"})
	assert.Error(t, err)
}
