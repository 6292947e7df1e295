package pgstore

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Alijah8/adwood-crm/permission"
	"github.com/Alijah8/adwood-crm/provider"
)

const testID = "5b0c1f9e-2a7d-4c1b-9f55-3d7a1c0e8b21"

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case **string:
			if r.values[i] != nil {
				v := r.values[i].(string)
				*p = &v
			}
		case *bool:
			*p = r.values[i].(bool)
		case *time.Time:
			*p = r.values[i].(time.Time)
		}
	}
	return nil
}

type fakeDB struct {
	row  fakeRow
	sql  string
	args []any
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.sql = sql
	f.args = args
	return f.row
}

func profileRow() fakeRow {
	at := time.Date(2026, 5, 4, 9, 0, 0, 0, time.FixedZone("EST", -5*3600))
	return fakeRow{values: []any{testID, "rep@adwood.test", "Dana Rep", "sales", nil, "https://cdn.adwood.test/a.png", true, at, at}}
}

func TestGetProfileScansRow(t *testing.T) {
	db := &fakeDB{row: profileRow()}
	prof, err := New(db).GetProfile(context.Background(), testID)
	if err != nil {
		t.Fatalf("GetProfile: %v", err)
	}
	if prof.ID != testID || prof.Role != permission.RoleSales || !prof.Active || prof.Phone != nil {
		t.Fatalf("profile = %+v", prof)
	}
	if prof.AvatarURL == nil || *prof.AvatarURL != "https://cdn.adwood.test/a.png" {
		t.Fatalf("avatar = %v", prof.AvatarURL)
	}
	if prof.UpdatedAt.Location() != time.UTC {
		t.Fatal("timestamps not normalized to UTC")
	}
	if !strings.Contains(db.sql, "WHERE id = $1") || db.args[0] != testID {
		t.Fatalf("query = %q %v", db.sql, db.args)
	}
}

func TestGetProfileErrors(t *testing.T) {
	db := &fakeDB{row: fakeRow{err: pgx.ErrNoRows}}
	if _, err := New(db).GetProfile(context.Background(), testID); !errors.Is(err, provider.ErrProfileNotFound) {
		t.Fatalf("no rows: %v", err)
	}

	db.row = fakeRow{err: errors.New("connection reset")}
	if _, err := New(db).GetProfile(context.Background(), testID); !errors.Is(err, provider.ErrUnavailable) {
		t.Fatalf("driver error: %v", err)
	}

	db.sql = ""
	if _, err := New(db).GetProfile(context.Background(), "not-a-uuid"); !errors.Is(err, provider.ErrProfileNotFound) {
		t.Fatalf("bad id: %v", err)
	}
	if db.sql != "" {
		t.Fatal("queried with a malformed id")
	}
}

func TestUpdateProfileWritesOnlyEditableColumns(t *testing.T) {
	db := &fakeDB{row: profileRow()}
	name := "Dana Rep"
	phone := ""
	stamp := time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)

	if _, err := New(db).UpdateProfile(context.Background(), testID, provider.ProfilePatch{
		Name:      &name,
		Phone:     &phone,
		UpdatedAt: stamp,
	}); err != nil {
		t.Fatalf("UpdateProfile: %v", err)
	}

	want := "UPDATE profiles SET name = $2, phone = $3, updated_at = $4 WHERE id = $1 RETURNING " + profileColumns
	if db.sql != want {
		t.Fatalf("sql = %q\nwant  %q", db.sql, want)
	}
	if len(db.args) != 4 || db.args[1] != name || db.args[2] != nil || db.args[3] != stamp {
		t.Fatalf("args = %v", db.args)
	}
	for _, forbidden := range []string{"role", "is_active"} {
		if strings.Contains(strings.SplitN(db.sql, "RETURNING", 2)[0], forbidden) {
			t.Fatalf("update writes %s", forbidden)
		}
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("migrations = %v", names)
	}
	up, err := fs.ReadFile(migrationsFS, "migrations/000001_create_profiles.up.sql")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	for _, role := range []permission.Role{permission.RoleAdmin, permission.RoleManager, permission.RoleSales, permission.RoleSupport} {
		if !strings.Contains(string(up), "'"+string(role)+"'") {
			t.Fatalf("schema does not allow role %s", role)
		}
	}
	if err := Migrate(""); err == nil {
		t.Fatal("expected error for empty database url")
	}
}
