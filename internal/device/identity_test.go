package device_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/yoeldevsoft25/lacaja-sync/internal/device"
	"github.com/yoeldevsoft25/lacaja-sync/internal/eventlog"
)

func openIdentityDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "agent.db")
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := eventlog.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func TestFirstBootCreatesIdentity(t *testing.T) {
	conn := openIdentityDB(t)
	storeID := uuid.New()

	identity, err := device.NewStore(conn).LoadOrCreate(context.Background(), storeID)
	if err != nil {
		t.Fatalf("load or create: %v", err)
	}
	if identity.DeviceID == uuid.Nil {
		t.Fatal("first boot must mint a device id")
	}
	if identity.StoreID != storeID {
		t.Fatalf("expected store %s, got %s", storeID, identity.StoreID)
	}
}

func TestIdentitySurvivesReload(t *testing.T) {
	conn := openIdentityDB(t)
	storeID := uuid.New()
	store := device.NewStore(conn)

	first, err := store.LoadOrCreate(context.Background(), storeID)
	if err != nil {
		t.Fatalf("first boot: %v", err)
	}
	second, err := store.LoadOrCreate(context.Background(), uuid.Nil)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if second.DeviceID != first.DeviceID || second.StoreID != first.StoreID {
		t.Fatalf("identity drifted across reloads: %+v vs %+v", first, second)
	}
}

func TestStoreMismatchIsRefused(t *testing.T) {
	conn := openIdentityDB(t)
	store := device.NewStore(conn)

	if _, err := store.LoadOrCreate(context.Background(), uuid.New()); err != nil {
		t.Fatalf("first boot: %v", err)
	}
	if _, err := store.LoadOrCreate(context.Background(), uuid.New()); err == nil {
		t.Fatal("re-parenting a device to another store must fail")
	}
}

func TestFirstBootRequiresStoreID(t *testing.T) {
	conn := openIdentityDB(t)

	if _, err := device.NewStore(conn).LoadOrCreate(context.Background(), uuid.Nil); err == nil {
		t.Fatal("first boot without a store id must fail")
	}
}
