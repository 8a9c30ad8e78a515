//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/ajsuth/headstart/internal/domain"
	pconfig "github.com/ajsuth/headstart/internal/platform/config"
	pfirestore "github.com/ajsuth/headstart/internal/platform/firestore"
	"github.com/ajsuth/headstart/internal/repositories"
)

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

func TestShippingMethodRepositoryIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	endpoint := emulatorEndpoint(t)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: "shipping-test", EmulatorHost: endpoint})
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	collection := fmt.Sprintf("shippingMethods%d", time.Now().UnixNano())
	repo, err := NewShippingMethodRepository(provider, WithShippingMethodsCollection(collection))
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	now := time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)
	ground := domain.ShippingMethod{
		ID:            "shm_ground",
		Name:          "Ground",
		Active:        true,
		Currency:      "USD",
		ShippingCosts: []domain.ShippingCost{{OrderTotal: 0, Amount: 995}, {OrderTotal: 10000, Amount: 0}},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if _, err := repo.Insert(ctx, ground); err != nil {
		t.Fatalf("insert: %v", err)
	}

	var repoErr repositories.RepositoryError
	if _, err := repo.Insert(ctx, ground); !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict on duplicate id, got %v", err)
	}
	dupKey := ground
	dupKey.ID = "shm_other"
	if _, err := repo.Insert(ctx, dupKey); !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict on duplicate unique key, got %v", err)
	}

	got, err := repo.FindByID(ctx, "shm_ground")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.PartitionKey != domain.DefaultPartitionKey || len(got.ShippingCosts) != 2 || got.ShippingCosts[0].Amount != 995 {
		t.Fatalf("unexpected round trip %+v", got)
	}

	renamed := got
	renamed.Name = "Ground Saver"
	if _, err := repo.Upsert(ctx, renamed); err != nil {
		t.Fatalf("upsert rename: %v", err)
	}
	// the old name is free again after the rename
	dupKey.Name = "Ground"
	if _, err := repo.Insert(ctx, dupKey); err != nil {
		t.Fatalf("insert reusing released key: %v", err)
	}
	clash := renamed
	clash.ID = "shm_clash"
	if _, err := repo.Upsert(ctx, clash); !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict when upserting onto a claimed key, got %v", err)
	}

	eur := domain.ShippingMethod{ID: "shm_eur", Name: "Ground", Currency: "EUR", Active: true, Storefront: "eu"}
	inactive := domain.ShippingMethod{ID: "shm_off", Name: "Legacy", Currency: "USD", Active: false}
	for _, m := range []domain.ShippingMethod{eur, inactive} {
		if _, err := repo.Insert(ctx, m); err != nil {
			t.Fatalf("insert %s: %v", m.ID, err)
		}
	}

	applicable, err := repo.ListApplicable(ctx, repositories.ApplicableQuery{Currency: "USD", Limit: 100})
	if err != nil {
		t.Fatalf("list applicable: %v", err)
	}
	if len(applicable) != 2 {
		t.Fatalf("expected 2 active USD methods, got %+v", applicable)
	}
	scoped, err := repo.ListApplicable(ctx, repositories.ApplicableQuery{Currency: "EUR", Storefronts: []string{"eu"}, Limit: 100})
	if err != nil || len(scoped) != 1 || scoped[0].ID != "shm_eur" {
		t.Fatalf("expected storefront-scoped EUR method, got %+v err=%v", scoped, err)
	}
	wide := make([]string, 0, 40)
	for i := range 39 {
		wide = append(wide, fmt.Sprintf("store-%02d", i))
	}
	wide = append(wide, "eu")
	scoped, err = repo.ListApplicable(ctx, repositories.ApplicableQuery{Currency: "EUR", Storefronts: wide, Limit: 100})
	if err != nil || len(scoped) != 1 || scoped[0].ID != "shm_eur" {
		t.Fatalf("expected EUR method from the second storefront chunk, got %+v err=%v", scoped, err)
	}

	first, err := repo.List(ctx, repositories.ShippingMethodQuery{PageSize: 2})
	if err != nil {
		t.Fatalf("list page 1: %v", err)
	}
	if len(first.Items) != 2 || first.ContinuationToken == "" {
		t.Fatalf("expected full first page with token, got %+v", first)
	}
	second, err := repo.List(ctx, repositories.ShippingMethodQuery{PageSize: 2, After: first.ContinuationToken})
	if err != nil {
		t.Fatalf("list page 2: %v", err)
	}
	if len(second.Items) != 2 || second.ContinuationToken != "" {
		t.Fatalf("expected final page of 2, got %+v", second)
	}

	found, err := repo.List(ctx, repositories.ShippingMethodQuery{PageSize: 10, Search: "shm_e", SearchOn: "id"})
	if err != nil || len(found.Items) != 1 || found.Items[0].ID != "shm_eur" {
		t.Fatalf("expected id prefix search to match shm_eur, got %+v err=%v", found, err)
	}

	if err := repo.Delete(ctx, "shm_eur"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := repo.Delete(ctx, "shm_eur"); !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func emulatorEndpoint(t *testing.T) string {
	t.Helper()
	if host := strings.TrimSpace(os.Getenv("FIRESTORE_EMULATOR_HOST")); host != "" {
		return host
	}
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	id := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(id) })
	waitForEndpoint(t, endpoint, 30*time.Second)
	return endpoint
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	out, err := exec.Command("docker", "run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start", "--host-port=0.0.0.0:8080", "--quiet",
	).CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, out)
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatalf("docker returned empty container id")
	}
	return id
}

func stopContainer(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = exec.CommandContext(ctx, "docker", "stop", id).Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("firestore emulator at %s did not become ready within %s", endpoint, timeout)
}
