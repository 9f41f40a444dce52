package browser

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapErr(t *testing.T) {
	t.Parallel()

	live := context.Background()
	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	other := errors.New("target closed")

	require.NoError(t, mapErr(live, nil, ErrNotFound, "op"))

	err := mapErr(live, fmt.Errorf("chromedp run: %w", context.DeadlineExceeded), ErrNotFound, "text h2")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "text h2")

	err = mapErr(live, context.DeadlineExceeded, ErrTimeout, "wait")
	assert.ErrorIs(t, err, ErrTimeout)

	err = mapErr(canceled, context.Canceled, ErrNotFound, "click")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrNotFound)

	err = mapErr(live, other, ErrNotFound, "html")
	assert.ErrorIs(t, err, other)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestQueryChoosesStrategy(t *testing.T) {
	t.Parallel()

	plain := CSS("#main-content")
	assert.Equal(t, "#main-content", query(plain))
	require.Len(t, queryOpts(plain), 1)

	nested := CSS(".ms-List-cell").Nth(1).Find("h2")
	assert.Equal(t, nested.jsPath(), query(nested))
	require.Len(t, queryOpts(nested), 1)
}

func TestForwardCancel(t *testing.T) {
	t.Parallel()

	parent, cancelParent := context.WithCancel(context.Background())
	child, cancelChild := context.WithCancel(context.Background())
	defer cancelChild()

	stop := forwardCancel(parent, cancelChild)
	defer stop()

	cancelParent()
	select {
	case <-child.Done():
	case <-time.After(time.Second):
		t.Fatal("parent cancellation was not forwarded")
	}
}

func TestForwardCancelStop(t *testing.T) {
	t.Parallel()

	parent, cancelParent := context.WithCancel(context.Background())
	defer cancelParent()
	child, cancelChild := context.WithCancel(context.Background())
	defer cancelChild()

	stop := forwardCancel(parent, cancelChild)
	stop()
	cancelParent()

	time.Sleep(10 * time.Millisecond)
	assert.NoError(t, child.Err())
}
