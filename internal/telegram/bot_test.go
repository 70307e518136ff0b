package telegram

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rewired-gh/coefwatch/internal/models"
	"github.com/rewired-gh/coefwatch/internal/monitor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	startErr    error
	stopErr     error
	forecastErr error
	record      models.AccuracyRecord

	started []int64
	stopped []int64
}

func (f *fakeController) Start(id int64) error {
	f.started = append(f.started, id)
	return f.startErr
}

func (f *fakeController) Stop(id int64) error {
	f.stopped = append(f.stopped, id)
	return f.stopErr
}

func (f *fakeController) RequestForecastOnce(ctx context.Context, id int64) (models.AlertPayload, error) {
	if f.forecastErr != nil {
		return models.AlertPayload{}, f.forecastErr
	}
	p := testPayload()
	p.SubscriberID = id
	return p, nil
}

func (f *fakeController) AccuracySnapshot(int64) models.AccuracyRecord {
	return f.record
}

func newTestBot(ctrl Controller) (*Bot, *fakeAPI) {
	api := &fakeAPI{}
	return NewBot(newClient(api, 1, time.Millisecond, 30*time.Second), ctrl, time.Second), api
}

func TestHandleAction(t *testing.T) {
	tests := []struct {
		name     string
		ctrl     *fakeController
		action   string
		contains string
	}{
		{
			name:     "signal",
			ctrl:     &fakeController{},
			action:   actionSignal,
			contains: "Expected: *1\\.82x*",
		},
		{
			name:     "signal with short history",
			ctrl:     &fakeController{forecastErr: monitor.ErrInsufficientHistory},
			action:   actionSignal,
			contains: "Not enough data yet",
		},
		{
			name:     "signal with feed down",
			ctrl:     &fakeController{forecastErr: fmt.Errorf("%w: timeout", monitor.ErrFeedUnavailable)},
			action:   actionSignal,
			contains: "feed is unavailable",
		},
		{
			name:     "signal with unexpected error",
			ctrl:     &fakeController{forecastErr: errors.New("boom")},
			action:   actionSignal,
			contains: "Could not compute a forecast",
		},
		{
			name:     "start",
			ctrl:     &fakeController{},
			action:   actionStart,
			contains: "Monitoring started",
		},
		{
			name:     "start while running",
			ctrl:     &fakeController{startErr: monitor.ErrAlreadyActive},
			action:   actionStart,
			contains: "already running",
		},
		{
			name:     "stop",
			ctrl:     &fakeController{},
			action:   actionStop,
			contains: "Monitoring stopped",
		},
		{
			name:     "stop while idle",
			ctrl:     &fakeController{stopErr: monitor.ErrAlreadyStopped},
			action:   actionStop,
			contains: "not running",
		},
		{
			name:     "stats",
			ctrl:     &fakeController{record: models.AccuracyRecord{TotalForecasts: 4, CorrectForecasts: 1, RecentOutcomes: []bool{true, false, false, false}}},
			action:   actionStats,
			contains: "Accuracy: *25\\.0%*",
		},
		{
			name:     "help",
			ctrl:     &fakeController{},
			action:   actionHelp,
			contains: "*Help*",
		},
		{
			name:     "unknown callback falls back to help",
			ctrl:     &fakeController{},
			action:   "bogus",
			contains: "*Help*",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bot, _ := newTestBot(tt.ctrl)
			reply := bot.handleAction(context.Background(), 7, tt.action)
			assert.Contains(t, reply, tt.contains)
		})
	}
}

func TestHandleUpdate_Callback(t *testing.T) {
	ctrl := &fakeController{}
	bot, api := newTestBot(ctrl)

	bot.handleUpdate(context.Background(), tgbotapi.Update{
		CallbackQuery: &tgbotapi.CallbackQuery{
			ID:      "cb-1",
			Data:    actionStart,
			Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 99}},
		},
	})

	assert.Equal(t, []int64{99}, ctrl.started)
	require.Len(t, api.requests, 1, "callback should be answered")

	msgs := api.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, int64(99), msgs[0].ChatID)
	assert.Contains(t, msgs[0].Text, "Monitoring started")
	assert.NotNil(t, msgs[0].ReplyMarkup)
}

func TestHandleUpdate_StartCommand(t *testing.T) {
	bot, api := newTestBot(&fakeController{})

	bot.handleUpdate(context.Background(), tgbotapi.Update{
		Message: &tgbotapi.Message{
			Text:     "/start",
			Chat:     &tgbotapi.Chat{ID: 5},
			Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 6}},
		},
	})

	msgs := api.messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0].Text, "Coefficient monitor")
	assert.Equal(t, menuKeyboard(), msgs[0].ReplyMarkup)
}

func TestListenForCommands_StopsOnCancel(t *testing.T) {
	bot, _ := newTestBot(&fakeController{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		bot.ListenForCommands(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ListenForCommands did not return after cancel")
	}
}
