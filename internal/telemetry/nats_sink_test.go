package telemetry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

func startEmbeddedNATS(t *testing.T) *server.Server {
	t.Helper()

	opts := &server.Options{
		Host:   "127.0.0.1",
		Port:   -1,
		NoLog:  true,
		NoSigs: true,
	}

	ns, err := server.NewServer(opts)
	if err != nil {
		t.Fatalf("failed to create nats-server: %v", err)
	}

	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats-server failed to start")
	}
	t.Cleanup(func() { ns.Shutdown() })
	return ns
}

func TestNATSSinkPublishesEvents(t *testing.T) {
	ns := startEmbeddedNATS(t)

	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()

	sub, err := nc.SubscribeSync("plotarchiver.job.>")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := nc.Flush(); err != nil {
		t.Fatal(err)
	}

	sink := NewNATSSink(nc, "plotarchiver", zap.NewNop())
	u := Update{JobID: "job-1", DisplayName: "plot-k32-a.plot", Destination: "/mnt/hdd1", TotalBytes: 10}
	sink.JobStarted(u)
	u.Percentage = 0.5
	sink.JobProgress(u)
	sink.JobFinished(u, errors.New("disk full"))

	want := []struct {
		subject string
		typ     string
	}{
		{"plotarchiver.job.started", EventStarted},
		{"plotarchiver.job.progress", EventProgress},
		{"plotarchiver.job.finished", EventFinished},
	}
	for _, w := range want {
		msg, err := sub.NextMsg(2 * time.Second)
		if err != nil {
			t.Fatalf("waiting for %s: %v", w.subject, err)
		}
		if msg.Subject != w.subject {
			t.Fatalf("subject = %s, want %s", msg.Subject, w.subject)
		}
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if ev.Type != w.typ || ev.Update.JobID != "job-1" {
			t.Fatalf("unexpected event %+v", ev)
		}
		if w.typ == EventProgress && ev.Update.Percentage != 0.5 {
			t.Fatalf("expected percentage 0.5, got %v", ev.Update.Percentage)
		}
		if w.typ == EventFinished && ev.Error != "disk full" {
			t.Fatalf("expected error in finished event, got %q", ev.Error)
		}
	}
}
