package relay_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aretw0/kernelctx/pkg/domain"
	"github.com/aretw0/kernelctx/pkg/observability"
	"github.com/aretw0/kernelctx/pkg/ports"
	"github.com/aretw0/kernelctx/pkg/relay"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, ch <-chan domain.Event) domain.Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return domain.Event{}
	}
}

func TestRelay_SendCarriesParentHeader(t *testing.T) {
	broker := relay.NewBroker()
	ch, cancel := broker.Subscribe("ctx-1")
	defer cancel()

	metrics := observability.NewMetrics()
	r := relay.New(broker, relay.WithMetrics(metrics))
	parent := domain.NewHeader("replace_template_name", "s1")

	r.Send(context.Background(), "ctx-1", "replace_template_name_response", map[string]any{"old_name": "I"}, &parent)

	evt := receive(t, ch)
	assert.Equal(t, domain.DefaultChannel, evt.Channel)
	assert.Equal(t, "replace_template_name_response", evt.Type)
	require.NotNil(t, evt.Parent)
	assert.Equal(t, parent.MsgID, evt.Parent.MsgID)
	assert.False(t, evt.Timestamp.IsZero())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RelayEvents.WithLabelValues(domain.DefaultChannel, "replace_template_name_response")))
}

func TestRelay_FailureHandler(t *testing.T) {
	boom := errors.New("connection reset")
	var got error
	r := relay.New(ports.PublisherFunc(func(ctx context.Context, evt domain.Event) error {
		return boom
	}), relay.WithFailureHandler(func(err error, evt domain.Event) {
		got = err
	}))

	r.Send(context.Background(), "ctx-1", "status", nil, nil)
	assert.ErrorIs(t, got, boom)
}

func TestErrorContent(t *testing.T) {
	remote := &domain.RemoteEvaluationError{Name: "KeyError", Value: "'S'", Traceback: []string{"line 1"}}
	content := relay.ErrorContent(remote)
	assert.Equal(t, "KeyError", content["ename"])
	assert.Equal(t, "'S'", content["evalue"])
	assert.Equal(t, []any{"line 1"}, content["traceback"])

	missing := &domain.MissingFieldError{Action: "add_template", Fields: []string{"subject"}}
	content = relay.ErrorContent(missing)
	assert.Equal(t, "MissingField", content["ename"])
	assert.Equal(t, []any{"subject"}, content["fields"])
}

func TestBroker_RoutesByContext(t *testing.T) {
	broker := relay.NewBroker()
	mine, cancelMine := broker.Subscribe("a")
	defer cancelMine()
	all, cancelAll := broker.Subscribe(relay.AllContexts)
	defer cancelAll()

	require.NoError(t, broker.Publish(context.Background(), domain.Event{ContextID: "b", Type: "other"}))
	require.NoError(t, broker.Publish(context.Background(), domain.Event{ContextID: "a", Type: "mine"}))

	assert.Equal(t, "other", receive(t, all).Type)
	assert.Equal(t, "mine", receive(t, all).Type)
	assert.Equal(t, "mine", receive(t, mine).Type)
	assert.Empty(t, mine)
}

func TestBroker_DropsWhenFullAndUnsubscribes(t *testing.T) {
	broker := relay.NewBroker(relay.WithBufferSize(1))
	ch, cancel := broker.Subscribe("a")

	for i := 0; i < 3; i++ {
		require.NoError(t, broker.Publish(context.Background(), domain.Event{ContextID: "a"}))
	}
	assert.Len(t, ch, 1)

	cancel()
	cancel()
	assert.Equal(t, 0, broker.Subscribers("a"))
	<-ch
	_, ok := <-ch
	assert.False(t, ok)
}

func TestFanout_JoinsErrors(t *testing.T) {
	broker := relay.NewBroker()
	ch, cancel := broker.Subscribe("a")
	defer cancel()
	boom := errors.New("boom")

	f := relay.Fanout{
		ports.PublisherFunc(func(ctx context.Context, evt domain.Event) error { return boom }),
		broker,
	}
	err := f.Publish(context.Background(), domain.Event{ContextID: "a"})
	assert.ErrorIs(t, err, boom)
	receive(t, ch)
}
