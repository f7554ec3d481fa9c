package intake_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/citefetch/internal/intake"
	"github.com/vrsandeep/citefetch/internal/models"
	"github.com/vrsandeep/citefetch/internal/resolver"
	"github.com/vrsandeep/citefetch/internal/resolver/direct"
	"github.com/vrsandeep/citefetch/internal/resolver/mockresolver"
	"github.com/vrsandeep/citefetch/internal/store"
	"github.com/vrsandeep/citefetch/internal/testutil"
)

func newService(t *testing.T, history bool) (*intake.Service, *store.Store) {
	t.Helper()
	st := store.New(testutil.SetupTestDB(t))
	reg := resolver.NewRegistry(mockresolver.New("mock", resolver.Specialized), direct.New())
	return intake.New(reg, st, intake.Options{History: history, Project: "thesis"}), st
}

func TestAdd(t *testing.T) {
	ctx := context.Background()
	svc, st := newService(t, true)

	results, err := svc.Add(ctx, []string{
		"mock:paper-1",
		"https://example.org/a.pdf",
		"  ",
		"https://EXAMPLE.org/a.pdf",
		mockresolver.InputNotFound,
		"Smith, J. (2020). Some paper title.",
	}, 5)
	require.NoError(t, err)
	require.Len(t, results, 5)

	assert.Equal(t, intake.Queued, results[0].Outcome)
	assert.Equal(t, "https://mock.example/paper-1.pdf", results[0].URL)
	assert.Equal(t, "mock", results[0].Resolver)

	assert.Equal(t, intake.Queued, results[1].Outcome)
	assert.Equal(t, "direct", results[1].Resolver)

	assert.Equal(t, intake.Duplicate, results[2].Outcome)
	assert.Equal(t, results[1].QueueID, results[2].QueueID)

	assert.Equal(t, intake.Skipped, results[3].Outcome)
	assert.Equal(t, models.ErrorNotFound, results[3].ErrorType)

	assert.Equal(t, intake.Skipped, results[4].Outcome)
	assert.Equal(t, models.ErrorNoResolver, results[4].ErrorType)

	counts, err := st.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[models.StatusPending])
	assert.Equal(t, 2, counts[models.StatusSkipped])

	item, err := st.GetQueueItem(ctx, results[0].QueueID)
	require.NoError(t, err)
	assert.Equal(t, 5, item.Priority)
	assert.Equal(t, "Mock paper paper-1", item.Metadata.Title)
	assert.Equal(t, "mock:paper-1", item.Metadata.OriginalInput)

	history, err := st.QueryDownloadAttempts(ctx, models.AttemptFilter{Status: models.AttemptSkipped})
	require.NoError(t, err)
	require.Len(t, history, 2)
	for _, rec := range history {
		assert.Equal(t, "thesis", rec.Project)
		assert.NotEmpty(t, rec.ErrorMessage)
		require.NotNil(t, rec.QueueID)
	}
}

func TestAddWithoutHistory(t *testing.T) {
	ctx := context.Background()
	svc, st := newService(t, false)

	results, err := svc.Add(ctx, []string{mockresolver.InputNeedsAuth}, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, models.ErrorAuth, results[0].ErrorType)

	history, err := st.QueryDownloadAttempts(ctx, models.AttemptFilter{})
	require.NoError(t, err)
	assert.Empty(t, history)
}

type failingQueue struct{}

func (failingQueue) EnqueueWithPriority(context.Context, string, string, models.ItemMetadata, int) (int64, error) {
	return 0, errors.New("disk full")
}

func (failingQueue) RecordSkipped(context.Context, string, string, models.ItemMetadata, string) (int64, error) {
	return 0, errors.New("disk full")
}

func (failingQueue) LogDownloadAttempt(context.Context, *models.DownloadAttemptRecord) {}

func TestAddStopsOnStoreFailure(t *testing.T) {
	reg := resolver.NewRegistry(direct.New())
	svc := intake.New(reg, failingQueue{}, intake.Options{})

	results, err := svc.Add(context.Background(), []string{"https://example.org/a.pdf", "https://example.org/b.pdf"}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Empty(t, results)
}

func TestAddHonoursCancelledContext(t *testing.T) {
	svc, _ := newService(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Add(ctx, []string{"https://example.org/a.pdf"}, 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReadInputs(t *testing.T) {
	in := strings.NewReader("# reading list\nhttps://example.org/a.pdf\n\n  10.1000/xyz  \n#skip\narXiv:1706.03762\n")
	inputs, err := intake.ReadInputs(in)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.org/a.pdf", "10.1000/xyz", "arXiv:1706.03762"}, inputs)
}
