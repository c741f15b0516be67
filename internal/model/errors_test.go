package model

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ""},
		{"wrapped invalid url", fmt.Errorf("%w: empty href", ErrInvalidURL), KindInvalidURL},
		{"wrapped parse", fmt.Errorf("%w: bad markup", ErrParse), KindParse},
		{"wrapped filesystem", fmt.Errorf("%w: mkdir", ErrFilesystem), KindFilesystem},
		{"wrapped cancelled", fmt.Errorf("%w: context canceled", ErrCancelled), KindCancelled},
		{"status error", &StatusError{URL: "https://x.test/a.pdf", Code: 503}, KindFetch},
		{"unclassified", errors.New("connection reset by peer"), KindFetch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestStatusErrorUnwrapsToFetch(t *testing.T) {
	err := fmt.Errorf("attempt 2: %w", &StatusError{URL: "https://x.test/a.pdf", Code: 404})

	assert.ErrorIs(t, err, ErrFetch)

	var statusErr *StatusError
	if assert.ErrorAs(t, err, &statusErr) {
		assert.Equal(t, 404, statusErr.Code)
	}
	assert.Contains(t, err.Error(), "404 Not Found")
}

func TestStatusIsTerminal(t *testing.T) {
	assert.True(t, StatusSuccess.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.False(t, Status("pending").IsTerminal())
}

func TestOutcomesByURL(t *testing.T) {
	outcomes := []DownloadOutcome{
		{URL: "https://x.test/b.pdf", Status: StatusFailed},
		{URL: "https://x.test/a.pdf", Status: StatusSuccess},
	}

	byURL := OutcomesByURL(outcomes)

	assert.Len(t, byURL, 2)
	assert.Equal(t, StatusSuccess, byURL["https://x.test/a.pdf"].Status)
	assert.Equal(t, StatusFailed, byURL["https://x.test/b.pdf"].Status)
}
