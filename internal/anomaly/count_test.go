package anomaly

import (
	"testing"

	"github.com/miradorstack/mirador-anomaly/internal/models"
	"github.com/miradorstack/mirador-anomaly/internal/utils"
)

func countAlert(threshold int64, numBuckets int) models.Alert {
	return models.Alert{
		ID:             "chatty-sync",
		MetricID:       "sync_count",
		Kind:           models.AlertKindCount,
		CountThreshold: threshold,
		NumBuckets:     numBuckets,
		BucketSizeSec:  60,
	}
}

func bucketNs(bucket int64) int64 {
	return bucket * 60 * utils.NsPerSec
}

func TestCountDeclaresWhenWindowSumCrosses(t *testing.T) {
	sub := &subscriberStub{}
	tr := NewCountTracker(countAlert(5, 3), nil, nil, sub)

	tr.Observe(key("a"), bucketNs(0), 3)
	tr.Observe(key("a"), bucketNs(1), 2)
	if len(sub.declared) != 0 {
		t.Fatalf("sum at the threshold must not declare, got %d", len(sub.declared))
	}

	tr.Observe(key("a"), bucketNs(2), 1)
	if len(sub.declared) != 1 {
		t.Fatalf("sum above the threshold must declare, got %d", len(sub.declared))
	}
}

func TestCountWindowForgetsOldBuckets(t *testing.T) {
	sub := &subscriberStub{}
	tr := NewCountTracker(countAlert(5, 3), nil, nil, sub)

	tr.Observe(key("a"), bucketNs(0), 4)
	// Bucket 0 has left the three-bucket window by bucket 3.
	tr.Observe(key("a"), bucketNs(3), 2)
	if len(sub.declared) != 0 {
		t.Fatalf("evicted bucket must not count toward the window, got %d", len(sub.declared))
	}

	tr.Observe(key("a"), bucketNs(4), 4)
	if len(sub.declared) != 1 {
		t.Fatalf("expected 2+4 across adjacent buckets to declare, got %d", len(sub.declared))
	}
}

func TestCountKeysAreIndependent(t *testing.T) {
	sub := &subscriberStub{}
	tr := NewCountTracker(countAlert(3, 2), nil, nil, sub)

	tr.Observe(key("a"), bucketNs(0), 3)
	tr.Observe(key("b"), bucketNs(0), 1)
	if len(sub.declared) != 0 {
		t.Fatalf("no key is over the threshold yet, got %d", len(sub.declared))
	}

	tr.Observe(key("b"), bucketNs(0), 3)
	if len(sub.declared) != 1 || sub.declared[0] != key("b") {
		t.Fatalf("only key b crossed: %v", sub.declared)
	}
}

func TestCountSingleBucketWindow(t *testing.T) {
	sub := &subscriberStub{}
	tr := NewCountTracker(countAlert(2, 1), nil, nil, sub)

	tr.Observe(key("a"), bucketNs(0), 2)
	tr.Observe(key("a"), bucketNs(1), 2)
	if len(sub.declared) != 0 {
		t.Fatalf("single-bucket window carries nothing forward, got %d", len(sub.declared))
	}

	tr.Observe(key("a"), bucketNs(1), 1)
	if len(sub.declared) != 1 {
		t.Fatalf("3 in one bucket should declare, got %d", len(sub.declared))
	}
}

func TestCountRefractorySuppressesRepeatDeclarations(t *testing.T) {
	alert := countAlert(1, 2)
	alert.RefractoryPeriodSec = 120
	sub := &subscriberStub{}
	tr := NewCountTracker(alert, nil, nil, sub)

	tr.Observe(key("a"), bucketNs(0), 2)
	tr.Observe(key("a"), bucketNs(1), 2)
	if len(sub.declared) != 1 {
		t.Fatalf("second crossing inside the refractory window must be dropped, got %d", len(sub.declared))
	}

	// Past the window the same key may declare again.
	tr.Observe(key("a"), bucketNs(4), 2)
	if len(sub.declared) != 2 {
		t.Fatalf("crossing after the refractory window should declare, got %d", len(sub.declared))
	}
}
