package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/jackzampolin/castwright/internal/pipeline"
	"github.com/jackzampolin/castwright/internal/testutil"
)

func startNATS(t *testing.T) string {
	t.Helper()
	ns, err := server.NewServer(&server.Options{
		Host:   "127.0.0.1",
		Port:   server.RANDOM_PORT,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		t.Fatalf("create nats server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		ns.Shutdown()
		t.Fatal("nats server not ready")
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})
	return ns.ClientURL()
}

func TestSubject(t *testing.T) {
	if got := Subject("", KindAudioGenerated); got != "castwright.audio.generated" {
		t.Errorf("Subject() = %q", got)
	}
	if got := Subject("prod.pods", KindPipelineFailed); got != "prod.pods.pipeline.failed" {
		t.Errorf("Subject() = %q", got)
	}
}

func TestNATSPublisher(t *testing.T) {
	url := startNATS(t)
	pub, err := ConnectNATS(NATSConfig{URL: url, SubjectPrefix: "test"}, testutil.Logger(t))
	if err != nil {
		t.Fatalf("ConnectNATS() error = %v", err)
	}
	defer pub.Close()
	if !pub.Healthy() {
		t.Fatal("expected a healthy connection")
	}

	sub, err := nats.Connect(url)
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Close()
	msgs := make(chan *nats.Msg, 1)
	s, err := sub.ChanSubscribe("test.>", msgs)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Unsubscribe()
	if err := sub.Flush(); err != nil {
		t.Fatal(err)
	}

	n := NewNotifier(pub, testutil.Logger(t))
	n.Notify(context.Background(), KindContentCompleted, "t1", pipeline.StageContentComplete, MsgContentCompleted)

	select {
	case msg := <-msgs:
		if msg.Subject != "test.content.completed" {
			t.Errorf("subject = %q", msg.Subject)
		}
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			t.Fatal(err)
		}
		if ev.TopicID != "t1" || ev.Stage != pipeline.StageContentComplete || ev.Message != MsgContentCompleted || ev.At.IsZero() {
			t.Errorf("unexpected event %+v", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}
}

func TestConnectNATS_NoURL(t *testing.T) {
	if _, err := ConnectNATS(NATSConfig{}, nil); err == nil {
		t.Error("expected an error without a url")
	}
}

func TestNotifier_SwallowsErrors(t *testing.T) {
	rec := &Recorder{Err: errors.New("broker down")}
	n := NewNotifier(rec, testutil.Logger(t))
	// must not panic or block
	n.Notify(context.Background(), KindPipelineFailed, "t1", pipeline.StageFailed, "intro: boom")
	if len(rec.Events()) != 0 {
		t.Error("failed publish should not be recorded")
	}

	rec.Err = nil
	n.Notify(context.Background(), KindPipelineFailed, "t1", pipeline.StageFailed, "intro: boom")
	if kinds := rec.Kinds(); len(kinds) != 1 || kinds[0] != KindPipelineFailed {
		t.Errorf("Kinds() = %v", kinds)
	}

	var nilNotifier *Notifier
	nilNotifier.Notify(context.Background(), KindAudioFinalized, "t1", pipeline.StageCompleted, MsgAudioFinalized)
}
