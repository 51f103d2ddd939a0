package catalog

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/cornea-tools/cornea/internal/rpc"
	"github.com/cornea-tools/cornea/internal/transport"
)

type nopEvents struct{}

func (nopEvents) HandleEvent(method string, params json.RawMessage) {}

// fakeServer performs the Iris handshake and then answers exactly the
// requests fed to it through replies, matched by RPC id order (the tests
// below issue one call at a time so first-come-first-served is enough).
func fakeServer(t *testing.T, replies []string) (addr string, stop func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		buf := make([]byte, 4096)
		_, _ = c.Read(buf)
		_, _ = c.Write([]byte("Supported-Formats: IrisJson\n"))

		r := make([]byte, 4096)
		for _, reply := range replies {
			_, _ = c.Read(r)
			_, _ = c.Write([]byte(reply))
		}
		// Keep the connection open until the test tears it down.
		time.Sleep(2 * time.Second)
	}()
	return ln.Addr().String(), func() { _ = ln.Close() }
}

func frame(payload string) string {
	return "IrisJson:" + itoa(len(payload)) + ":" + payload + "\n"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var digits []byte
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func newTestCatalog(t *testing.T, replies []string) *Catalog {
	t.Helper()
	addr, stop := fakeServer(t, replies)
	t.Cleanup(stop)

	tr, err := transport.Dial(context.Background(), addr)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = tr.Close() })

	client := rpc.New(tr, 0, nopEvents{})
	t.Cleanup(func() { _ = client.Close() })
	return New(client)
}

func TestResolveCachesAfterFirstLookup(t *testing.T) {
	reply := frame(`{"result":{"instId":5,"instName":"top.cpu0"},"id":1}`)
	c := newTestCatalog(t, []string{reply})

	inst, err := c.Resolve(context.Background(), "top.cpu0")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if inst.ID != 5 || inst.Name != "top.cpu0" {
		t.Fatalf("Resolve = %+v", inst)
	}

	// Second call must be served from cache; the fake server only queued
	// one reply, so a second round trip would hang until the test's
	// context has no deadline and eventually time out the whole test.
	inst2, err := c.Resolve(context.Background(), "top.cpu0")
	if err != nil {
		t.Fatalf("Resolve (cached): %v", err)
	}
	if inst2.ID != 5 {
		t.Fatalf("Resolve (cached) = %+v", inst2)
	}
}

func TestChildrenTrimsToImmediateSegment(t *testing.T) {
	reply := frame(`{"result":[{"instId":1,"instName":"top.cpu0"},{"instId":2,"instName":"top.cpu1"},{"instId":3,"instName":"top.cpu0.mmu"}],"id":1}`)
	c := newTestCatalog(t, []string{reply})

	children, err := c.Children(context.Background(), "top")
	if err != nil {
		t.Fatalf("Children: %v", err)
	}
	if diff := cmp.Diff([]string{"top.cpu0", "top.cpu1"}, children); diff != "" {
		t.Fatalf("Children mismatch (-want +got):\n%s", diff)
	}
}

func TestParentFromPath(t *testing.T) {
	c := New(nil)

	if p, ok := c.Parent("top.cpu0.mmu"); !ok || p != "top.cpu0" {
		t.Errorf("Parent(top.cpu0.mmu) = %q, %v", p, ok)
	}
	if p, ok := c.Parent("top"); !ok || p != "" {
		t.Errorf("Parent(top) = %q, %v", p, ok)
	}
	if _, ok := c.Parent(""); ok {
		t.Errorf("Parent(\"\") should report no parent")
	}
}

func TestResourceLookupCachesAndFindsByName(t *testing.T) {
	reply := frame(`{"result":[{"rscId":10,"name":"R0","bitWidth":32},{"rscId":11,"name":"PC","bitWidth":32}],"id":1}`)
	c := newTestCatalog(t, []string{reply})

	r, err := c.Resource(context.Background(), 5, "PC")
	if err != nil {
		t.Fatalf("Resource: %v", err)
	}
	if r.ID != 11 {
		t.Fatalf("Resource(PC) = %+v", r)
	}

	if _, err := c.Resource(context.Background(), 5, "R0"); err != nil {
		t.Fatalf("Resource (cached): %v", err)
	}
}

func TestResourceUnknownNameErrors(t *testing.T) {
	reply := frame(`{"result":[{"rscId":10,"name":"R0","bitWidth":32}],"id":1}`)
	c := newTestCatalog(t, []string{reply})

	if _, err := c.Resource(context.Background(), 5, "DOES_NOT_EXIST"); err == nil {
		t.Fatal("expected an error for an unknown resource name")
	}
}

func TestResourcesByPrefix(t *testing.T) {
	reply := frame(`{"result":[{"rscId":1,"name":"PC_MEMSPACE","bitWidth":32},{"rscId":2,"name":"R0","bitWidth":32},{"rscId":3,"name":"SP_MEMSPACE","bitWidth":32}],"id":1}`)
	c := newTestCatalog(t, []string{reply})

	matches, err := c.ResourcesByPrefix(context.Background(), 5, "")
	if err != nil {
		t.Fatalf("ResourcesByPrefix: %v", err)
	}
	want := []rpc.ResourceInfo{
		{ID: 1, Name: "PC_MEMSPACE", BitWidth: 32},
		{ID: 2, Name: "R0", BitWidth: 32},
		{ID: 3, Name: "SP_MEMSPACE", BitWidth: 32},
	}
	if diff := cmp.Diff(want, matches); diff != "" {
		t.Fatalf("ResourcesByPrefix mismatch (-want +got):\n%s", diff)
	}
}

func TestEventSourceLookup(t *testing.T) {
	reply := frame(`{"result":[{"evSrcId":1,"name":"ec_IRIS_BREAKPOINT_HIT","description":"","fields":[]}],"id":1}`)
	c := newTestCatalog(t, []string{reply})

	s, err := c.EventSource(context.Background(), 5, "ec_IRIS_BREAKPOINT_HIT")
	if err != nil {
		t.Fatalf("EventSource: %v", err)
	}
	if s.ID != 1 {
		t.Fatalf("EventSource = %+v", s)
	}
}
