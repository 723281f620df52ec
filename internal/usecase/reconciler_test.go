package usecase

import (
	"context"
	"errors"
	"math"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pricepulse/backend/internal/domain"
	"github.com/pricepulse/backend/internal/infrastructure/storage"
)

func newTestReconciler(t *testing.T) (*Reconciler, *storage.MemoryStorage) {
	t.Helper()
	store, err := storage.NewMemoryStorage("", NewScorer(ScorerConfig{}), zap.NewNop())
	if err != nil {
		t.Fatalf("NewMemoryStorage() error = %v", err)
	}
	return NewReconciler(store, zap.NewNop()), store
}

func at(t time.Time) *time.Time { return &t }

func TestReconcile_CreatesStoreAndProducts(t *testing.T) {
	reconciler, store := newTestReconciler(t)
	ctx := context.Background()

	outcomes, err := reconciler.Reconcile(ctx, "Acme Mart", []domain.ScrapeItem{
		{Name: "Fresh Milk 2L", Link: "https://acme.example/milk", Amount: 9.99, Reference: "42"},
		{Name: "Rye Bread", Link: "https://acme.example/bread", Amount: 3.49, Reference: "99"},
	})
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("len(outcomes) = %d, want 2", len(outcomes))
	}
	for _, outcome := range outcomes {
		if outcome.Decision != DecisionCreated {
			t.Errorf("outcome %s decision = %s, want created", outcome.Name, outcome.Decision)
		}
	}

	resolved, err := store.StoreByName(ctx, "Acme Mart")
	if err != nil {
		t.Fatalf("StoreByName() error = %v", err)
	}
	products, err := store.ProductsByStore(ctx, resolved.ID)
	if err != nil {
		t.Fatalf("ProductsByStore() error = %v", err)
	}
	if len(products) != 2 {
		t.Fatalf("len(products) = %d, want 2", len(products))
	}
	for _, product := range products {
		latest, err := store.LatestPrice(ctx, product.ID)
		if err != nil {
			t.Fatalf("LatestPrice(%s) error = %v", product.Name, err)
		}
		if latest.Amount <= 0 {
			t.Errorf("latest amount for %s = %v, want > 0", product.Name, latest.Amount)
		}
	}
}

func TestReconcile_SplitsNewAndKnownReferences(t *testing.T) {
	reconciler, store := newTestReconciler(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	if _, err := reconciler.Reconcile(ctx, "Acme Mart", []domain.ScrapeItem{
		{Name: "Fresh Milk 2L", Link: "l", Amount: 9.99, Reference: "42", FetchedAt: at(t0)},
	}); err != nil {
		t.Fatalf("first Reconcile() error = %v", err)
	}

	outcomes, err := reconciler.Reconcile(ctx, "Acme Mart", []domain.ScrapeItem{
		{Name: "Fresh Milk 2L", Link: "l", Amount: 10.49, Reference: "42", FetchedAt: at(t0.Add(time.Hour))},
		{Name: "Rye Bread", Link: "l", Amount: 3.49, Reference: "99", FetchedAt: at(t0.Add(time.Hour))},
	})
	if err != nil {
		t.Fatalf("second Reconcile() error = %v", err)
	}
	if outcomes[0].Decision != DecisionPriceAppended {
		t.Errorf("known reference decision = %s, want price_appended", outcomes[0].Decision)
	}
	if outcomes[1].Decision != DecisionCreated {
		t.Errorf("new reference decision = %s, want created", outcomes[1].Decision)
	}

	count, err := store.Count(ctx, domain.KindProduct)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 2 {
		t.Errorf("product count = %d, want 2", count)
	}
}

func TestReconcile_UnchangedPriceBumpsTimestamp(t *testing.T) {
	reconciler, store := newTestReconciler(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)

	item := domain.ScrapeItem{Name: "Fresh Milk 2L", Link: "l", Amount: 9.99, Reference: "42"}

	item.FetchedAt = at(t0)
	if _, err := reconciler.Reconcile(ctx, "Acme Mart", []domain.ScrapeItem{item}); err != nil {
		t.Fatalf("first Reconcile() error = %v", err)
	}

	item.FetchedAt = at(t1)
	outcomes, err := reconciler.Reconcile(ctx, "Acme Mart", []domain.ScrapeItem{item})
	if err != nil {
		t.Fatalf("second Reconcile() error = %v", err)
	}
	if outcomes[0].Decision != DecisionBumped {
		t.Fatalf("decision = %s, want timestamp_bumped", outcomes[0].Decision)
	}

	resolved, _ := store.StoreByName(ctx, "Acme Mart")
	products, _ := store.ProductsByStore(ctx, resolved.ID)
	prices, err := store.PricesByProduct(ctx, products[0].ID)
	if err != nil {
		t.Fatalf("PricesByProduct() error = %v", err)
	}
	if len(prices) != 1 {
		t.Fatalf("len(prices) = %d, want 1 (bump adds no row)", len(prices))
	}
	if !prices[0].FetchedAt.Equal(t1) {
		t.Errorf("FetchedAt = %v, want %v", prices[0].FetchedAt, t1)
	}
}

func TestReconcile_ChangedPriceAppends(t *testing.T) {
	reconciler, store := newTestReconciler(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	item := domain.ScrapeItem{Name: "Fresh Milk 2L", Link: "l", Amount: 9.99, Reference: "42", FetchedAt: at(t0)}
	if _, err := reconciler.Reconcile(ctx, "Acme Mart", []domain.ScrapeItem{item}); err != nil {
		t.Fatalf("first Reconcile() error = %v", err)
	}

	item.Amount = 12.99
	item.FetchedAt = at(t0.Add(2 * time.Hour))
	outcomes, err := reconciler.Reconcile(ctx, "Acme Mart", []domain.ScrapeItem{item})
	if err != nil {
		t.Fatalf("second Reconcile() error = %v", err)
	}
	if outcomes[0].Decision != DecisionPriceAppended {
		t.Fatalf("decision = %s, want price_appended", outcomes[0].Decision)
	}

	resolved, _ := store.StoreByName(ctx, "Acme Mart")
	products, _ := store.ProductsByStore(ctx, resolved.ID)
	prices, _ := store.PricesByProduct(ctx, products[0].ID)
	if len(prices) != 2 {
		t.Fatalf("len(prices) = %d, want 2", len(prices))
	}
	// Newest first
	if prices[0].Amount != 12.99 || prices[1].Amount != 9.99 {
		t.Errorf("price history = [%v, %v], want [12.99, 9.99]", prices[0].Amount, prices[1].Amount)
	}
}

func TestReconcile_OlderObservationDoesNotBump(t *testing.T) {
	reconciler, store := newTestReconciler(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	item := domain.ScrapeItem{Name: "Fresh Milk 2L", Link: "l", Amount: 9.99, Reference: "42", FetchedAt: at(t0)}
	if _, err := reconciler.Reconcile(ctx, "Acme Mart", []domain.ScrapeItem{item}); err != nil {
		t.Fatalf("first Reconcile() error = %v", err)
	}

	// Same amount, but observed before the stored row: append, never rewind.
	item.FetchedAt = at(t0.Add(-time.Hour))
	outcomes, err := reconciler.Reconcile(ctx, "Acme Mart", []domain.ScrapeItem{item})
	if err != nil {
		t.Fatalf("second Reconcile() error = %v", err)
	}
	if outcomes[0].Decision != DecisionPriceAppended {
		t.Errorf("decision = %s, want price_appended", outcomes[0].Decision)
	}

	resolved, _ := store.StoreByName(ctx, "Acme Mart")
	products, _ := store.ProductsByStore(ctx, resolved.ID)
	latest, err := store.LatestPrice(ctx, products[0].ID)
	if err != nil {
		t.Fatalf("LatestPrice() error = %v", err)
	}
	if !latest.FetchedAt.Equal(t0) {
		t.Errorf("latest FetchedAt = %v, want unchanged %v", latest.FetchedAt, t0)
	}
}

func TestReconcile_IsolatesBadItems(t *testing.T) {
	reconciler, store := newTestReconciler(t)
	ctx := context.Background()

	items := []domain.ScrapeItem{
		{Name: "Bad Reference", Link: "l", Amount: 1.99, Reference: "not-a-number"},
		{Name: "Bad Amount", Link: "l", Amount: math.NaN(), Reference: "7"},
	}
	for i := 0; i < 8; i++ {
		items = append(items, domain.ScrapeItem{
			Name:      "Good Item",
			Link:      "l",
			Amount:    float64(i) + 0.99,
			Reference: strconv.Itoa(100 + i),
		})
	}

	outcomes, err := reconciler.Reconcile(ctx, "Acme Mart", items)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	if !errors.Is(outcomes[0].Err, domain.ErrInvalidReference) {
		t.Errorf("outcomes[0].Err = %v, want ErrInvalidReference", outcomes[0].Err)
	}
	if !errors.Is(outcomes[1].Err, domain.ErrInvalidAmount) {
		t.Errorf("outcomes[1].Err = %v, want ErrInvalidAmount", outcomes[1].Err)
	}

	count, err := store.Count(ctx, domain.KindProduct)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 8 {
		t.Errorf("product count = %d, want 8 (bad items skipped, good ones committed)", count)
	}
}

func TestReconcile_ReferenceWhitespaceIsTrimmed(t *testing.T) {
	reconciler, store := newTestReconciler(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	if _, err := reconciler.Reconcile(ctx, "Acme Mart", []domain.ScrapeItem{
		{Name: "Fresh Milk 2L", Link: "l", Amount: 9.99, Reference: "42", FetchedAt: at(t0)},
	}); err != nil {
		t.Fatalf("first Reconcile() error = %v", err)
	}

	// " 42 " must resolve to the same product as "42".
	outcomes, err := reconciler.Reconcile(ctx, "Acme Mart", []domain.ScrapeItem{
		{Name: "Fresh Milk 2L", Link: "l", Amount: 9.99, Reference: " 42 ", FetchedAt: at(t0.Add(time.Hour))},
	})
	if err != nil {
		t.Fatalf("second Reconcile() error = %v", err)
	}
	if outcomes[0].Decision != DecisionBumped {
		t.Errorf("decision = %s, want timestamp_bumped", outcomes[0].Decision)
	}

	count, _ := store.Count(ctx, domain.KindProduct)
	if count != 1 {
		t.Errorf("product count = %d, want 1", count)
	}
}

func TestRecordPrice(t *testing.T) {
	reconciler, store := newTestReconciler(t)
	ctx := context.Background()
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	if _, err := reconciler.Reconcile(ctx, "Acme Mart", []domain.ScrapeItem{
		{Name: "Fresh Milk 2L", Link: "l", Amount: 9.99, Reference: "42", FetchedAt: at(t0)},
	}); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	resolved, _ := store.StoreByName(ctx, "Acme Mart")
	products, _ := store.ProductsByStore(ctx, resolved.ID)
	product := &products[0]

	t.Run("unchanged amount observed later bumps", func(t *testing.T) {
		price, created, err := reconciler.RecordPrice(ctx, product, 9.99, false, at(t0.Add(time.Hour)))
		if err != nil {
			t.Fatalf("RecordPrice() error = %v", err)
		}
		if created {
			t.Error("created = true, want bump of existing row")
		}
		if !price.FetchedAt.Equal(t0.Add(time.Hour)) {
			t.Errorf("FetchedAt = %v, want %v", price.FetchedAt, t0.Add(time.Hour))
		}
	})

	t.Run("changed amount appends", func(t *testing.T) {
		_, created, err := reconciler.RecordPrice(ctx, product, 12.99, true, at(t0.Add(2*time.Hour)))
		if err != nil {
			t.Fatalf("RecordPrice() error = %v", err)
		}
		if !created {
			t.Error("created = false, want new row")
		}
		prices, _ := store.PricesByProduct(ctx, product.ID)
		if len(prices) != 2 {
			t.Errorf("len(prices) = %d, want 2", len(prices))
		}
	})
}

func TestNormalizeReference(t *testing.T) {
	tests := []struct {
		raw     string
		want    int64
		wantErr bool
	}{
		{"42", 42, false},
		{"  42\n", 42, false},
		{"-7", -7, false},
		{"", 0, true},
		{"abc", 0, true},
		{"12.5", 0, true},
	}
	for _, tt := range tests {
		got, err := NormalizeReference(tt.raw)
		if tt.wantErr {
			if !errors.Is(err, domain.ErrInvalidReference) {
				t.Errorf("NormalizeReference(%q) error = %v, want ErrInvalidReference", tt.raw, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("NormalizeReference(%q) = %d, %v, want %d, nil", tt.raw, got, err, tt.want)
		}
	}
}
