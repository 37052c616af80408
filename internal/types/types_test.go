package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuality(t *testing.T) {
	tests := []struct {
		in   string
		want Quality
	}{
		{"", QualityBalanced},
		{"fast", QualityFast},
		{" Balanced ", QualityBalanced},
		{"ACCURATE", QualityAccurate},
	}
	for _, tt := range tests {
		got, err := ParseQuality(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseQuality("ultra")
	assert.ErrorContains(t, err, "ultra")
}

func TestJobStatus_CanTransition(t *testing.T) {
	assert.True(t, JobPending.CanTransition(JobProcessing))
	assert.True(t, JobPending.CanTransition(JobFailed))
	assert.True(t, JobProcessing.CanTransition(JobCompleted))
	assert.True(t, JobProcessing.CanTransition(JobFailed))

	assert.False(t, JobProcessing.CanTransition(JobPending))
	assert.False(t, JobProcessing.CanTransition(JobProcessing))
	assert.False(t, JobCompleted.CanTransition(JobFailed))
	assert.False(t, JobFailed.CanTransition(JobCompleted))
	assert.False(t, JobPending.CanTransition(JobStatus("archived")))
}

func TestPageResult_UsedOCR(t *testing.T) {
	assert.False(t, PageResult{ExtractionMethod: MethodDirect}.UsedOCR())
	assert.False(t, PageResult{ExtractionMethod: MethodDirectFallback}.UsedOCR())
	assert.True(t, PageResult{ExtractionMethod: "mistral"}.UsedOCR())
}
