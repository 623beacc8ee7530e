package mq

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
)

// fakeAcknowledger записывает ack/nack вместо обращения к каналу.
type fakeAcknowledger struct {
	acks    int
	nacks   int
	requeue bool
	nackErr error
}

func (a *fakeAcknowledger) Ack(uint64, bool) error { a.acks++; return nil }

func (a *fakeAcknowledger) Nack(_ uint64, _ bool, requeue bool) error {
	a.nacks++
	a.requeue = requeue
	return a.nackErr
}

func (a *fakeAcknowledger) Reject(uint64, bool) error { return nil }

func newTestBroker(buf *bytes.Buffer) *Broker {
	logger := slog.New(slog.NewTextHandler(buf, nil))
	return NewBroker(nil, BrokerConfig{Logger: logger})
}

func TestBroker_Decode_AcksValidJob(t *testing.T) {
	var logs bytes.Buffer
	b := newTestBroker(&logs)
	ack := &fakeAcknowledger{}

	body, _ := json.Marshal(newTestJob(t, "tenant-1"))
	job, err := b.decode(QueueTranslation, amqp.Delivery{Acknowledger: ack, Body: body})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.Key != "tenant-1" {
		t.Errorf("unexpected job %+v", job)
	}
	if ack.acks != 1 || ack.nacks != 0 {
		t.Errorf("expected single ack, got acks=%d nacks=%d", ack.acks, ack.nacks)
	}
}

func TestBroker_Decode_BrokenBodyDeadLettered(t *testing.T) {
	var logs bytes.Buffer
	b := newTestBroker(&logs)
	ack := &fakeAcknowledger{}

	if _, err := b.decode(QueueTranslation, amqp.Delivery{Acknowledger: ack, Body: []byte("{")}); err == nil {
		t.Fatal("expected decode error")
	}
	if ack.nacks != 1 || ack.requeue {
		t.Errorf("expected nack without requeue, got nacks=%d requeue=%v", ack.nacks, ack.requeue)
	}
}

func TestBroker_Decode_NackErrorLogged(t *testing.T) {
	var logs bytes.Buffer
	b := newTestBroker(&logs)
	ack := &fakeAcknowledger{nackErr: errors.New("channel closed")}

	// job без ключа не проходит валидацию
	b.decode(QueueTranslation, amqp.Delivery{Acknowledger: ack, Body: []byte(`{"entity_id":"P1","task_kind":"generate_seo"}`)})

	if !strings.Contains(logs.String(), "failed to nack job") || !strings.Contains(logs.String(), "channel closed") {
		t.Errorf("nack error should be logged, got:\n%s", logs.String())
	}
}
