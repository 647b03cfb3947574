package subscription

import (
	"fmt"
	"reflect"
	"sync"
	"testing"
)

func TestSelectUnselect(t *testing.T) {
	r := NewRegistry()

	if !r.Select("a", 25544) {
		t.Fatalf("first Select returned false")
	}
	if r.Select("a", 25544) {
		t.Fatalf("duplicate Select by same client returned true")
	}
	if got := r.Count(25544); got != 1 {
		t.Fatalf("Count mismatch: got %d, want 1", got)
	}

	if !r.Unselect("a", 25544) {
		t.Fatalf("Unselect returned false")
	}
	if r.IsSelected(25544) {
		t.Fatalf("object still selected after Unselect")
	}
	if r.Unselect("a", 25544) {
		t.Fatalf("second Unselect returned true")
	}
}

func TestDisconnectRemovesOnlyThatClient(t *testing.T) {
	r := NewRegistry()
	r.Select("a", 1)
	r.Select("a", 2)
	r.Select("b", 2)
	r.Select("b", 3)

	released := r.OnDisconnect("a")
	if want := []int{1, 2}; !reflect.DeepEqual(released, want) {
		t.Fatalf("released mismatch: got %v, want %v", released, want)
	}

	if r.IsSelected(1) {
		t.Fatalf("object 1 still selected after its only viewer disconnected")
	}
	if !r.IsSelected(2) {
		t.Fatalf("shared object 2 lost its selection")
	}
	if want := []int{2, 3}; !reflect.DeepEqual(r.SelectedIDs(), want) {
		t.Fatalf("SelectedIDs mismatch: got %v, want %v", r.SelectedIDs(), want)
	}
	if got := r.OnDisconnect("a"); len(got) != 0 {
		t.Fatalf("second disconnect released %v, want nothing", got)
	}
}

func TestDisconnectUnknownClient(t *testing.T) {
	r := NewRegistry()
	if got := r.OnDisconnect("ghost"); len(got) != 0 {
		t.Fatalf("OnDisconnect(ghost) = %v, want empty", got)
	}
}

func TestConcurrentSelections(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for c := 0; c < 20; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			client := fmt.Sprintf("client-%d", c)
			for id := 0; id < 10; id++ {
				r.Select(client, id)
			}
			if c%2 == 0 {
				r.OnDisconnect(client)
			}
		}(c)
	}
	wg.Wait()

	for id := 0; id < 10; id++ {
		if got := r.Count(id); got != 10 {
			t.Fatalf("Count(%d) = %d, want 10", id, got)
		}
	}
}
