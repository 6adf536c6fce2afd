package client

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/finflow-ai/be-ar-dunning/internal/service"
)

func TestDispatchPublisherSubjectPrefix(t *testing.T) {
	p := NewDispatchPublisher(nil, "custom.dispatch", service.NewUUID, zerolog.Nop())
	assert.Equal(t, "custom.dispatch", p.subject)

	p = NewDispatchPublisher(nil, "", service.NewUUID, zerolog.Nop())
	assert.Equal(t, defaultDispatchSubject, p.subject)
}

func TestEventSubscriberSubjectPrefix(t *testing.T) {
	s := NewEventSubscriber(nil, "custom.events", nil, zerolog.Nop())
	assert.Equal(t, "custom.events", s.subject)

	s = NewEventSubscriber(nil, "", nil, zerolog.Nop())
	assert.Equal(t, defaultEventsSubject, s.subject)
}
