package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDestinationValid(t *testing.T) {
	cases := map[string]bool{
		"+15551234567":      true,
		"15551234567":       true,
		"12345678":          false, // too short
		"+1555123456789012": false, // too long
		"not-a-number":      false,
		"":                  false,
	}
	for in, want := range cases {
		assert.Equal(t, want, DestinationValid(in), "DestinationValid(%q)", in)
	}
}

func TestValidateRejectsMissingFields(t *testing.T) {
	err := Validate(&SubmitRequest{})
	assert.Error(t, err)
}

func TestValidateAcceptsWellFormedRequest(t *testing.T) {
	req := &SubmitRequest{Recipient: "+15551234567", Content: "hello", Priority: "HIGH"}
	assert.NoError(t, Validate(req))
}

func TestValidateRejectsBadPriority(t *testing.T) {
	req := &SubmitRequest{Recipient: "+15551234567", Content: "hello", Priority: "BOGUS"}
	assert.Error(t, Validate(req))
}

func TestValidateAllowsEmptyPriority(t *testing.T) {
	req := &SubmitRequest{Recipient: "+15551234567", Content: "hello"}
	assert.NoError(t, Validate(req))
}
