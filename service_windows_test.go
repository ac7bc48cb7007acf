//go:build windows

package cio

import (
	"golang.org/x/sys/windows"
	"testing"
	"unsafe"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	svc, svcErr := NewService()
	if svcErr != nil {
		t.Fatal("new service failed:", svcErr)
	}
	t.Cleanup(func() {
		_ = svc.Close()
	})
	return svc
}

// completionRecorder counts dispatched completion hooks.
type completionRecorder struct {
	Operation
	hits int
}

func (rec *completionRecorder) Complete() {
	rec.hits++
}

func postTracked(t *testing.T, svc *Service, rec *completionRecorder) {
	t.Helper()
	overlapped := svc.track(&rec.Operation, rec)
	if err := windows.PostQueuedCompletionStatus(svc.cp, 0, keyDispatch, (*windows.Overlapped)(unsafe.Pointer(overlapped))); err != nil {
		t.Fatal("post failed:", err)
	}
}

func TestRunOneShutdownSentinel(t *testing.T) {
	svc := newTestService(t)
	if err := svc.RequestShutdown(); err != nil {
		t.Fatal("request shutdown failed:", err)
	}
	keepRunning, runErr := svc.RunOne()
	if runErr != nil {
		t.Error("run one failed:", runErr)
	}
	if keepRunning {
		t.Error("sentinel must end the loop")
	}
}

func TestRunOneDispatchesBeforeSentinel(t *testing.T) {
	svc := newTestService(t)
	rec := new(completionRecorder)
	postTracked(t, svc, rec)
	if err := svc.RequestShutdown(); err != nil {
		t.Fatal("request shutdown failed:", err)
	}
	keepRunning, runErr := svc.RunOne()
	if runErr != nil {
		t.Error("run one failed:", runErr)
	}
	if !keepRunning {
		t.Error("event queued before the sentinel must dispatch first")
	}
	if rec.hits != 1 {
		t.Error("hook ran", rec.hits, "times")
	}
	keepRunning, runErr = svc.RunOne()
	if runErr != nil {
		t.Error("run one failed:", runErr)
	}
	if keepRunning {
		t.Error("sentinel must end the loop")
	}
}

func TestRunBatchDrainsPastSentinel(t *testing.T) {
	svc := newTestService(t)
	first := new(completionRecorder)
	second := new(completionRecorder)
	postTracked(t, svc, first)
	if err := svc.RequestShutdown(); err != nil {
		t.Fatal("request shutdown failed:", err)
	}
	postTracked(t, svc, second)
	keepRunning, runErr := svc.RunBatch()
	if runErr != nil {
		t.Error("run batch failed:", runErr)
	}
	if keepRunning {
		t.Error("batch containing the sentinel must end the loop")
	}
	if first.hits != 1 || second.hits != 1 {
		t.Error("every entry of the batch must dispatch, got", first.hits, second.hits)
	}
}

func TestUnexpectedCompletion(t *testing.T) {
	svc := newTestService(t)
	rec := new(completionRecorder)
	if err := windows.PostQueuedCompletionStatus(svc.cp, 0, keyDispatch, (*windows.Overlapped)(unsafe.Pointer(&rec.overlapped))); err != nil {
		t.Fatal("post failed:", err)
	}
	keepRunning, runErr := svc.RunOne()
	if !keepRunning {
		t.Error("an unexpected completion must not end the loop")
	}
	if !IsUnexpectedCompletionError(runErr) {
		t.Error("want unexpected completion error, got", runErr)
	}
	if rec.hits != 0 {
		t.Error("untracked descriptor must not be dispatched")
	}
}

func TestReissueWhilePendingPanics(t *testing.T) {
	svc := newTestService(t)
	rec := new(completionRecorder)
	svc.track(&rec.Operation, rec)
	defer func() {
		if recover() == nil {
			t.Error("no panic on reissue of a pending descriptor")
		}
		svc.untrack(&rec.Operation)
	}()
	svc.track(&rec.Operation, rec)
}
