package ledger

import (
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestCreateLedger_Idempotent(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	a := reg.CreateLedger("run-1")
	b := reg.CreateLedger("run-1")
	if a != b {
		t.Error("expected CreateLedger to be idempotent for the same runSessionId")
	}
}

func TestRecordDecision_CapsAt200(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	l := reg.CreateLedger("run-cap")
	for i := 0; i < 250; i++ {
		l.RecordDecision("run-cap", Decision{Type: DecisionRoute})
	}
	snap := l.Snapshot()
	if len(snap.Decisions) != maxDecisionsPerLedger {
		t.Errorf("len(Decisions) = %d, want %d", len(snap.Decisions), maxDecisionsPerLedger)
	}
}

func TestRecordDecision_ConcurrentAppend(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	l := reg.CreateLedger("run-concurrent")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.RecordDecision("run-concurrent", Decision{Type: DecisionEscalation})
		}()
	}
	wg.Wait()
	snap := l.Snapshot()
	if len(snap.Decisions) != 50 {
		t.Errorf("len(Decisions) = %d, want 50", len(snap.Decisions))
	}
}

func TestFinalize_WarnsOnEmptyRoleExecutions(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	reg := NewRegistry(zap.New(core))
	l := reg.CreateLedger("run-finalize")
	l.Finalize(FinalizeOpts{Completed: true})
	snap := l.Snapshot()
	if !snap.Completed || snap.FinishedAtISO == "" {
		t.Errorf("expected finalized ledger, got %+v", snap)
	}
	if n := logs.FilterMessage("ledger: finalize called with empty roleExecutions").Len(); n != 1 {
		t.Errorf("expected one empty-roleExecutions warning, got %d", n)
	}
}

func TestGetLedger_UnknownReturnsFalse(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	_, ok := reg.GetLedger("missing")
	if ok {
		t.Error("expected ok=false for unknown runSessionId")
	}
}

func TestListLedgers_SortedDescending(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	reg.CreateLedger("run-a")
	reg.CreateLedger("run-b")
	snaps := reg.ListLedgers()
	if len(snaps) != 2 {
		t.Fatalf("expected 2 ledgers, got %d", len(snaps))
	}
	if snaps[0].StartedAtISO < snaps[1].StartedAtISO {
		t.Errorf("expected StartedAtISO descending, got %q before %q", snaps[0].StartedAtISO, snaps[1].StartedAtISO)
	}
}

func TestFinalize_RejectsSubsequentWrites(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	l := reg.CreateLedger("run-frozen")
	l.RecordDecision("run-frozen", Decision{Type: DecisionRoute})
	l.RecordCost(CostWorker, 0.01)
	l.Finalize(FinalizeOpts{Completed: true})

	l.RecordDecision("run-frozen", Decision{Type: DecisionEscalation})
	l.RecordCost(CostWorker, 0.05)
	l.RecordTrustDelta("openai/gpt-4o", "worker", 0.1)

	snap := l.Snapshot()
	if len(snap.Decisions) != 1 {
		t.Errorf("expected decisions frozen at 1 post-finalize, got %d", len(snap.Decisions))
	}
	if snap.Costs[CostWorker] < 0.0099 || snap.Costs[CostWorker] > 0.0101 {
		t.Errorf("expected cost frozen at ~0.01 post-finalize, got %f", snap.Costs[CostWorker])
	}
	if len(snap.Trust) != 0 {
		t.Errorf("expected no trust deltas post-finalize, got %d", len(snap.Trust))
	}
}

func TestRecordCost_Accumulates(t *testing.T) {
	reg := NewRegistry(zap.NewNop())
	l := reg.CreateLedger("run-cost")
	l.RecordCost(CostWorker, 0.01)
	l.RecordCost(CostWorker, 0.02)
	snap := l.Snapshot()
	if snap.Costs[CostWorker] < 0.0299 || snap.Costs[CostWorker] > 0.0301 {
		t.Errorf("Costs[CostWorker] = %f, want ~0.03", snap.Costs[CostWorker])
	}
}
