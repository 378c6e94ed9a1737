package engine

import (
	"go.uber.org/zap"

	"tiximax/realtime"
)

// wireEventHandlers sets up the event chain:
// channel state → bus → outbox kick on connect
// feed message → bus
// printed → log
func (e *Engine) wireEventHandlers() {
	e.removeState = e.channel.OnStateChange(func(s realtime.State) {
		e.Events.Emit(Event{Type: EventChannelState, Payload: ChannelStateEvent{State: s.String()}})
	})

	for topic, f := range e.feeds {
		f.OnMessage(func(msg realtime.Message) {
			e.Events.Emit(Event{Type: EventFeedMessage, Payload: FeedMessageEvent{Topic: topic, Message: msg}})
		})
	}

	e.Events.SubscribeTypes(func(evt Event) {
		state := evt.Payload.(ChannelStateEvent)
		e.handleChannelState(state)
	}, EventChannelState)

	e.Events.SubscribeTypes(func(evt Event) {
		printed := evt.Payload.(LabelsPrintedEvent)
		if printed.Error != "" {
			e.log.Warn("label job failed", zap.String("job", printed.JobID), zap.String("error", printed.Error))
		}
	}, EventLabelsPrinted)
}

func (e *Engine) handleChannelState(s ChannelStateEvent) {
	e.log.Info("channel state", zap.String("state", s.State))
	if s.State == realtime.StateConnected.String() {
		e.drainer.Kick()
	}
}
