//go:build windows

package cio

import (
	"github.com/brickingsoft/cio/pkg/winsock"
	"syscall"
	"testing"
)

func TestResolveLocalhost(t *testing.T) {
	svc := newTestService(t)
	ctx := new(ResolveOperation)
	hints := &winsock.AddrinfoExW{
		Family:   syscall.AF_UNSPEC,
		Socktype: syscall.SOCK_STREAM,
		Protocol: syscall.IPPROTO_TCP,
	}
	if !Resolve(svc, "localhost", "80", hints, ctx) {
		runOne(t, svc)
	}
	if ctx.Failed() {
		t.Fatal("resolve failed:", ctx.Err())
	}
	result := ctx.Result()
	if result == nil || result.Value() == nil {
		t.Fatal("successful resolve carried no address list")
	}
	n := 0
	for ai := result.Value(); ai != nil; ai = ai.Next {
		if ai.Addr == nil || ai.Addrlen == 0 {
			t.Error("list node without an address")
		}
		n++
	}
	t.Log("localhost resolved to", n, "addresses")
	ctx.releaseResult()
}

func TestResolveUnknownName(t *testing.T) {
	svc := newTestService(t)
	ctx := new(ResolveOperation)
	if !Resolve(svc, "unresolvable.invalid", "80", nil, ctx) {
		runOne(t, svc)
	}
	if !ctx.Failed() {
		t.Fatal("resolution of a reserved invalid name succeeded")
	}
	if ctx.Result() != nil {
		t.Error("failed resolve carried an address list")
	}
	t.Log("resolve failed with", ctx.Errno())
}
