package eventbus_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/inloop/internal/core/eventbus"
	"github.com/colonyops/inloop/internal/core/item"
	"github.com/colonyops/inloop/internal/core/notify"
)

func collectNotifications(bus *eventbus.EventBus) *[]eventbus.NotificationPublishedPayload {
	out := &[]eventbus.NotificationPublishedPayload{}
	bus.SubscribeNotificationPublished(func(p eventbus.NotificationPublishedPayload) {
		*out = append(*out, p)
	})
	return out
}

func publishTransition(bus *eventbus.EventBus, it item.Item, from, to item.Status) {
	bus.PublishItemStatusChanged(eventbus.ItemStatusChangedPayload{
		Item:      &it,
		OldStatus: from,
		NewStatus: to,
	})
	bus.Drain()
}

func TestRouterInputNeeded(t *testing.T) {
	bus := eventbus.New(8)
	eventbus.NewNotificationRouter(bus).Register()
	got := collectNotifications(bus)

	publishTransition(bus, item.Item{ID: "1", Type: item.TypeCLISession, Title: "deploy script"},
		item.StatusInProgress, item.StatusInputNeeded)

	require.Len(t, *got, 1)
	assert.Equal(t, notify.LevelWarning, (*got)[0].Level)
	assert.Contains(t, (*got)[0].Message, "deploy script")
}

func TestRouterFailed(t *testing.T) {
	bus := eventbus.New(8)
	eventbus.NewNotificationRouter(bus).Register()
	got := collectNotifications(bus)

	publishTransition(bus, item.Item{ID: "1", Type: item.TypeGithubAction, Title: "CI run"},
		item.StatusInProgress, item.StatusFailed)

	require.Len(t, *got, 1)
	assert.Equal(t, notify.LevelError, (*got)[0].Level)
}

func TestRouterUpdated(t *testing.T) {
	bus := eventbus.New(8)
	eventbus.NewNotificationRouter(bus).Register()
	got := collectNotifications(bus)

	publishTransition(bus, item.Item{ID: "1", Type: item.TypeGithubPR, Title: "PR: o/r #7"},
		item.StatusInProgress, item.StatusUpdated)

	require.Len(t, *got, 1)
	assert.Equal(t, notify.LevelInfo, (*got)[0].Level)
	assert.Contains(t, (*got)[0].Message, "new activity")
}

func TestRouterArchivedOnlyNotifiesAgentSessions(t *testing.T) {
	bus := eventbus.New(8)
	eventbus.NewNotificationRouter(bus).Register()
	got := collectNotifications(bus)

	publishTransition(bus, item.Item{ID: "1", Type: item.TypeSlackThread, Title: "thread"},
		item.StatusWaiting, item.StatusArchived)
	assert.Empty(t, *got)

	publishTransition(bus, item.Item{ID: "2", Type: item.TypeOpenCodeSession, Title: "refactor"},
		item.StatusInProgress, item.StatusArchived)
	require.Len(t, *got, 1)
	assert.Equal(t, notify.LevelInfo, (*got)[0].Level)
}

func TestRouterSilentTransitions(t *testing.T) {
	bus := eventbus.New(8)
	eventbus.NewNotificationRouter(bus).Register()
	got := collectNotifications(bus)

	for _, to := range []item.Status{item.StatusInProgress, item.StatusWaiting, item.StatusCompleted} {
		publishTransition(bus, item.Item{ID: "1", Type: item.TypeGithubPR, Title: "x"},
			item.StatusWaiting, to)
	}

	assert.Empty(t, *got)
}
