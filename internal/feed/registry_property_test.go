package feed

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"shoonya-bridge/internal/models"
)

func key(token int) models.InstrumentKey {
	return models.InstrumentKey{Exchange: models.NSE, Token: fmt.Sprintf("%d", token)}
}

// Property: the first subscriber triggers an upstream subscribe, further
// subscribers do not, and only the last one leaving triggers an
// unsubscribe.
func TestProperty_RefcountEdges(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("only 0->1 subscribes and 1->0 unsubscribes upstream", prop.ForAll(
		func(subscribers int, token int) bool {
			r := NewRegistry()
			inst := []models.InstrumentKey{key(token)}

			for i := 0; i < subscribers; i++ {
				fresh, _ := r.Add(fmt.Sprintf("sub-%d", i), inst, models.FeedTouchline)
				if i == 0 && len(fresh) != 1 {
					return false
				}
				if i > 0 && len(fresh) != 0 {
					return false
				}
			}
			if r.Refcount(inst[0], models.FeedTouchline) != subscribers {
				return false
			}

			for i := 0; i < subscribers; i++ {
				idle := r.Remove(fmt.Sprintf("sub-%d", i), inst, models.FeedTouchline)
				last := i == subscribers-1
				if last && len(idle) != 1 {
					return false
				}
				if !last && len(idle) != 0 {
					return false
				}
			}
			return r.Refcount(inst[0], models.FeedTouchline) == 0
		},
		gen.IntRange(1, 20),
		gen.IntRange(1, 100000),
	))

	properties.TestingRun(t)
}

// Property: repeated adds by the same subscriber are idempotent.
func TestProperty_AddIdempotent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("duplicate adds change nothing", prop.ForAll(
		func(repeats int, token int) bool {
			r := NewRegistry()
			inst := []models.InstrumentKey{key(token)}

			fresh, _ := r.Add("sub-a", inst, models.FeedTouchline)
			if len(fresh) != 1 {
				return false
			}
			for i := 0; i < repeats; i++ {
				if fresh, _ := r.Add("sub-a", inst, models.FeedTouchline); len(fresh) != 0 {
					return false
				}
			}
			return r.Refcount(inst[0], models.FeedTouchline) == 1
		},
		gen.IntRange(1, 10),
		gen.IntRange(1, 100000),
	))

	properties.TestingRun(t)
}

func TestFeedTypesAreIndependent(t *testing.T) {
	r := NewRegistry()
	inst := []models.InstrumentKey{key(22)}

	if fresh, _ := r.Add("sub-a", inst, models.FeedTouchline); len(fresh) != 1 {
		t.Fatalf("touchline add: fresh = %v", fresh)
	}
	// Depth for the same instrument is a separate upstream subscription.
	if fresh, _ := r.Add("sub-a", inst, models.FeedDepth); len(fresh) != 1 {
		t.Fatalf("depth add: fresh = %v", fresh)
	}

	if idle := r.Remove("sub-a", inst, models.FeedTouchline); len(idle) != 1 {
		t.Fatalf("touchline remove: idle = %v", idle)
	}
	if r.Refcount(inst[0], models.FeedDepth) != 1 {
		t.Error("depth subscription should survive touchline removal")
	}
}

func TestRemoveUnknownIsNoop(t *testing.T) {
	r := NewRegistry()
	inst := []models.InstrumentKey{key(22)}

	if idle := r.Remove("sub-a", inst, models.FeedTouchline); len(idle) != 0 {
		t.Errorf("remove without add: idle = %v", idle)
	}

	r.Add("sub-a", inst, models.FeedTouchline)
	if idle := r.Remove("sub-b", inst, models.FeedTouchline); len(idle) != 0 {
		t.Errorf("remove by non-holder: idle = %v", idle)
	}
	if r.Refcount(inst[0], models.FeedTouchline) != 1 {
		t.Error("holder's refcount must be untouched")
	}
}

func TestRemoveAll(t *testing.T) {
	r := NewRegistry()
	a, b := key(1), key(2)

	r.Add("sub-a", []models.InstrumentKey{a, b}, models.FeedTouchline)
	r.Add("sub-b", []models.InstrumentKey{a}, models.FeedTouchline)

	idle := r.RemoveAll("sub-a")
	touchline := idle[models.FeedTouchline]
	if len(touchline) != 1 || touchline[0] != b {
		t.Errorf("idle = %v, want only %v", touchline, b)
	}
	if r.Refcount(a, models.FeedTouchline) != 1 {
		t.Error("sub-b's interest in a must survive")
	}
	if len(r.Instruments("sub-a")) != 0 {
		t.Error("sub-a must hold nothing after RemoveAll")
	}
}

func TestAddReportsEveryNewKey(t *testing.T) {
	r := NewRegistry()
	a, b := key(1), key(2)

	r.Add("sub-a", []models.InstrumentKey{a}, models.FeedTouchline)

	fresh, added := r.Add("sub-b", []models.InstrumentKey{a, b}, models.FeedTouchline)
	if len(fresh) != 1 || fresh[0] != b {
		t.Fatalf("fresh = %v, want only %v", fresh, b)
	}
	if len(added) != 2 {
		t.Fatalf("added = %v, want both keys", added)
	}

	// Removing exactly the added keys undoes the call without touching
	// sub-a's interest.
	r.Remove("sub-b", added, models.FeedTouchline)
	if r.Refcount(a, models.FeedTouchline) != 1 {
		t.Error("sub-a's interest must survive the rollback")
	}
	if r.Refcount(b, models.FeedTouchline) != 0 {
		t.Error("rolled-back key must have no holders")
	}
}
