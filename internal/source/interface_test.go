package source

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shorts-relay/internal/models"
)

type stubSource struct{}

func (stubSource) Name() string { return "stub" }

func (stubSource) Fetch(_ context.Context, channel string) ([]*models.ContentDraft, error) {
	if channel == "bad" {
		return nil, errors.New("unreachable")
	}
	return []*models.ContentDraft{{VideoID: channel + "-1", SourceChannel: channel}}, nil
}

func TestFetchAllKeepsOrder(t *testing.T) {
	m := NewManager(stubSource{})
	results := m.FetchAll(context.Background(), []string{"a", "bad", "c"})

	assert.Len(t, results, 3)
	assert.Equal(t, "a", results[0].Channel)
	assert.Equal(t, "a-1", results[0].Drafts[0].VideoID)
	assert.Error(t, results[1].Err)
	assert.Equal(t, "c-1", results[2].Drafts[0].VideoID)
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "Hello world again", CleanText("<p>Hello <b>world</b></p><br/>  again "))
}
