package events

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	cehttp "github.com/cloudevents/sdk-go/v2/protocol/http"
	"github.com/google/uuid"
	"github.com/ignatij/todoflow/pkg/models"
	"github.com/ignatij/todoflow/pkg/service"
	"github.com/pkg/errors"
)

// TypePrefix prefixes the type of every status change event.
const TypePrefix = "org.todoflow.status."

// EventType returns the CloudEvents type announcing the flag, e.g. org.todoflow.status.nexted.
func EventType(flag models.Flag) string {
	return TypePrefix + strings.ToLower(flag.String())
}

// Publisher sends status changes to a CloudEvents HTTP sink.
type Publisher struct {
	client cloudevents.Client
	target string
	source string
}

func NewPublisher(target, source string) (*Publisher, error) {
	if target == "" {
		return nil, errors.New("events sink URL is required")
	}
	client, err := cloudevents.NewClientHTTP()
	if err != nil {
		return nil, errors.Wrap(err, "create cloudevents client")
	}
	return &Publisher{client: client, target: target, source: source}, nil
}

// NewEvent converts a status change into a CloudEvent.
func NewEvent(source string, change service.StatusChange) (cloudevents.Event, error) {
	event := cloudevents.NewEvent()
	event.SetID(uuid.New().String())
	event.SetSource(source)
	event.SetType(EventType(change.Flag))
	event.SetTime(change.Timestamp)
	event.SetSubject(fmt.Sprintf("%s/%d", change.SubjectType, change.SubjectID))
	event.SetExtension("taskid", strconv.FormatInt(change.TaskID, 10))
	if err := event.SetData(cloudevents.ApplicationJSON, change); err != nil {
		return cloudevents.Event{}, errors.Wrap(err, "set event data")
	}
	return event, nil
}

func (p *Publisher) StatusChanged(ctx context.Context, change service.StatusChange) error {
	event, err := NewEvent(p.source, change)
	if err != nil {
		return err
	}
	result := p.client.Send(cloudevents.ContextWithTarget(ctx, p.target), event)
	if cloudevents.IsUndelivered(result) {
		return errors.Wrapf(result, "send %s event", event.Type())
	}
	var httpResult *cehttp.Result
	if cloudevents.ResultAs(result, &httpResult) && httpResult.StatusCode >= 300 {
		return errors.Errorf("send %s event: sink answered %d", event.Type(), httpResult.StatusCode)
	}
	return nil
}
