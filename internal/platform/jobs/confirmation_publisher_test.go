package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	domain "github.com/doxvl/legalization-api/internal/domain"
	"github.com/doxvl/legalization-api/internal/services"
)

func newTestTopic(t *testing.T, srv *pstest.Server, id string) *pubsub.Topic {
	t.Helper()
	ctx := context.Background()
	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Close()
	})

	topic, err := client.CreateTopic(ctx, id)
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	t.Cleanup(topic.Stop)
	return topic
}

func TestConfirmationEventPublisherPublishesMessage(t *testing.T) {
	srv := pstest.NewServer()
	defer srv.Close()
	topic := newTestTopic(t, srv, "order-confirmations")

	publisher, err := NewConfirmationEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewConfirmationEventPublisher: %v", err)
	}

	event := services.ConfirmationEvent{
		Type:        services.EventConfirmationResponded,
		Kind:        domain.ConfirmationKindEmbassyPrice,
		OrderID:     "ord_01",
		OrderNumber: "SWE000044",
		Status:      domain.ConfirmationStatusConfirmed,
		Action:      "confirm",
		OccurredAt:  time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC),
	}
	if _, err := publisher.PublishConfirmationEvent(context.Background(), event); err != nil {
		t.Fatalf("PublishConfirmationEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	var payload services.ConfirmationEvent
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderNumber != "SWE000044" || payload.Action != "confirm" || !payload.OccurredAt.Equal(event.OccurredAt) {
		t.Fatalf("unexpected payload %#v", payload)
	}
	attrs := messages[0].Attributes
	if attrs["type"] != services.EventConfirmationResponded || attrs["kind"] != string(domain.ConfirmationKindEmbassyPrice) || attrs["orderId"] != "ord_01" {
		t.Fatalf("unexpected attributes %#v", attrs)
	}
	if _, ok := attrs["actorId"]; ok {
		t.Fatalf("actor must not be exported as an attribute")
	}
}

func TestConfirmationEventPublisherRequiresType(t *testing.T) {
	srv := pstest.NewServer()
	defer srv.Close()
	publisher, err := NewConfirmationEventPublisher(newTestTopic(t, srv, "events"))
	if err != nil {
		t.Fatalf("NewConfirmationEventPublisher: %v", err)
	}
	if _, err := publisher.PublishConfirmationEvent(context.Background(), services.ConfirmationEvent{OrderID: "ord_01"}); err == nil {
		t.Fatalf("expected error for missing type")
	}
	if len(srv.Messages()) != 0 {
		t.Fatalf("nothing should be published")
	}
}

func TestNewConfirmationEventPublisherRequiresTopic(t *testing.T) {
	if _, err := NewConfirmationEventPublisher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}
