package main

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/opuslawyer/lexrag/engine/domain"
	"github.com/opuslawyer/lexrag/engine/ingest"
	"github.com/opuslawyer/lexrag/pkg/metrics"
	"github.com/opuslawyer/lexrag/pkg/natsutil"
)

type fakeIndexer struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (f *fakeIndexer) IndexDocument(_ context.Context, doc domain.RawDocument, _ bool) (domain.DocumentInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return domain.DocumentInfo{}, f.err
	}
	return domain.DocumentInfo{Source: doc.Source, DocType: domain.DocGeneric, ChunkCount: 1}, nil
}

func startNATS(t *testing.T) *nats.Conn {
	t.Helper()
	ns, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatalf("nats server: %v", err)
	}
	ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := nats.Connect(ns.ClientURL())
	if err != nil {
		t.Fatalf("nats connect: %v", err)
	}
	t.Cleanup(func() {
		nc.Close()
		ns.Shutdown()
	})
	return nc
}

func TestListenIndexesRequests(t *testing.T) {
	nc := startNATS(t)
	ix := &fakeIndexer{}
	if err := listen(nc, ix, "workers", metrics.New(), nil); err != nil {
		t.Fatalf("listen: %v", err)
	}

	msg, err := natsutil.Encode(context.Background(), ingest.Subject, ingest.Request{
		Document: domain.RawDocument{Source: "law.txt", Blocks: []string{"Общие положения"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	resp, err := nc.RequestMsg(msg, 2*time.Second)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	var reply ingest.Reply
	if err := json.Unmarshal(resp.Data, &reply); err != nil {
		t.Fatal(err)
	}
	if reply.Error != "" || reply.Info == nil || reply.Info.Source != "law.txt" {
		t.Fatalf("reply = %+v", reply)
	}
}

func TestListenCountsDeadLetters(t *testing.T) {
	nc := startNATS(t)
	reg := metrics.New()
	ix := &fakeIndexer{err: errors.New("qdrant down")}
	if err := listen(nc, ix, "workers", reg, nil); err != nil {
		t.Fatalf("listen: %v", err)
	}

	err := natsutil.Publish(context.Background(), nc, ingest.Subject, ingest.Request{
		Document: domain.RawDocument{Source: "law.txt", Blocks: []string{"текст"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	dead := reg.Counter("lexrag_ingest_dead_letters_total", "")
	deadline := time.Now().Add(5 * time.Second)
	for dead.Value() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("dead letter was never recorded")
		}
		time.Sleep(10 * time.Millisecond)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.calls != ingest.MaxRetries {
		t.Fatalf("calls = %d, want %d", ix.calls, ingest.MaxRetries)
	}
}
