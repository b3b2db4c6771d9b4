package pg

import (
	"context"
	"io/fs"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/dropDatabas3/leadbridge/internal/store/core"
	migrations "github.com/dropDatabas3/leadbridge/migrations/postgres"
)

// Estos tests necesitan un Postgres real. Se saltan sin LEADBRIDGE_TEST_DSN,
// igual que el resto del pipeline de integración.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("LEADBRIDGE_TEST_DSN")
	if dsn == "" {
		t.Skip("LEADBRIDGE_TEST_DSN no seteado")
	}
	ctx := context.Background()
	s, err := New(ctx, dsn, Tuning{MaxOpenConns: 5})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Close)

	entries, err := fs.ReadDir(migrations.FS, migrations.Dir)
	if err != nil {
		t.Fatal(err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	for _, name := range names {
		sql, err := fs.ReadFile(migrations.FS, migrations.Dir+"/"+name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := s.Pool().Exec(ctx, string(sql)); err != nil {
			t.Fatalf("migración %s: %v", name, err)
		}
	}
	return s
}

func testInstallation(tn core.Tenant, access string) *core.Installation {
	return &core.Installation{
		Tenant:          tn,
		AccessTokenEnc:  access,
		RefreshTokenEnc: "rt-enc",
		Scopes:          []string{"contacts.readonly"},
		ExpiresAt:       time.Now().UTC().Add(time.Hour),
		Status:          core.StatusActive,
	}
}

func TestUpsertInstallation_ConcurrentFirstInstall(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tn := core.LocationTenant("loc-race-" + time.Now().Format("150405.000000000"))
	t.Cleanup(func() {
		_, _ = s.Pool().Exec(ctx, `DELETE FROM installation WHERE location_id = $1`, tn.ID)
	})

	// Dos callbacks del mismo tenant sin fila previa: el perdedor del INSERT
	// debe degradar a UPDATE, no reventar con unique_violation.
	const n = 2
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []*core.Installation
		creates int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ins, created, err := s.UpsertInstallation(ctx, testInstallation(tn, "at-enc"))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				t.Errorf("upsert %d: %v", i, err)
				return
			}
			results = append(results, ins)
			if created {
				creates++
			}
		}(i)
	}
	wg.Wait()

	if len(results) != n {
		t.Fatalf("upserts exitosos = %d, want %d", len(results), n)
	}
	if creates != 1 {
		t.Fatalf("creates = %d, want exactly 1", creates)
	}
	if results[0].ID != results[1].ID {
		t.Fatalf("ids divergen: %s vs %s", results[0].ID, results[1].ID)
	}

	var active int
	if err := s.Pool().QueryRow(ctx,
		`SELECT count(*) FROM installation WHERE location_id = $1 AND status = 'active'`, tn.ID,
	).Scan(&active); err != nil {
		t.Fatal(err)
	}
	if active != 1 {
		t.Fatalf("filas activas = %d, want 1", active)
	}
}

func TestUpsertInstallation_ReinstallKeepsID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tn := core.AgencyTenant("co-keep-" + time.Now().Format("150405.000000000"))
	t.Cleanup(func() {
		_, _ = s.Pool().Exec(ctx, `DELETE FROM installation WHERE agency_id = $1`, tn.ID)
	})

	first, created, err := s.UpsertInstallation(ctx, testInstallation(tn, "at-1"))
	if err != nil || !created {
		t.Fatalf("primer upsert: created=%v err=%v", created, err)
	}
	second, created, err := s.UpsertInstallation(ctx, testInstallation(tn, "at-2"))
	if err != nil {
		t.Fatalf("reinstall: %v", err)
	}
	if created {
		t.Fatal("reinstall reportado como created")
	}
	if second.ID != first.ID {
		t.Fatalf("id cambió en reinstall: %s vs %s", second.ID, first.ID)
	}
	if second.AccessTokenEnc != "at-2" {
		t.Fatalf("access_token_enc = %q, want el nuevo", second.AccessTokenEnc)
	}
}
