//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/smartystreets/goconvey/convey"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/okian/recon/internal/adapters/repository"
	"github.com/okian/recon/internal/adapters/repository/postgres"
	"github.com/okian/recon/internal/adapters/repository/storetest"
	"github.com/okian/recon/internal/domain/model"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	pg, err := postgrescontainer.RunContainer(ctx,
		postgrescontainer.WithDatabase("recon"),
		postgrescontainer.WithUsername("recon"),
		postgrescontainer.WithPassword("recon"),
	)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	if err := waitForDatabase(ctx, connStr); err != nil {
		t.Fatalf("wait for database: %v", err)
	}
	return connStr
}

func TestStoreContract(t *testing.T) {
	connStr := startPostgres(t)
	ctx := context.Background()

	storetest.Run(t, func(t *testing.T) repository.Store {
		store, err := postgres.Open(ctx, connStr)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			t.Fatalf("schema: %v", err)
		}
		pool, err := pgxpool.New(ctx, connStr)
		if err != nil {
			t.Fatalf("pool: %v", err)
		}
		defer pool.Close()
		if _, err := pool.Exec(ctx, `TRUNCATE activities RESTART IDENTITY`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return store
	})
}

func TestReadOnlyView(t *testing.T) {
	connStr := startPostgres(t)

	Convey("Given a postgres store", t, func() {
		ctx := context.Background()
		store, err := postgres.Open(ctx, connStr)
		So(err, ShouldBeNil)
		defer store.Close()
		So(store.EnsureSchema(ctx), ShouldBeNil)

		Convey("When a view tries to write through the raw transaction", func() {
			err := store.View(ctx, func(r repository.Reader) error {
				_, isWriter := r.(repository.Writer)
				So(isWriter, ShouldBeFalse)
				_, err := r.Count(ctx)
				return err
			})

			Convey("Then only reads are possible", func() {
				So(err, ShouldBeNil)
			})
		})

		Convey("When an insert commits", func() {
			var stored model.ActivityRecord
			err := store.Update(ctx, func(w repository.Writer) error {
				var err error
				stored, err = w.Insert(ctx, model.ActivityRecord{
					OwnerID:  77,
					Start:    time.Date(2025, 6, 27, 9, 0, 0, 0, time.UTC),
					Duration: model.Hours(1.5),
					Source:   model.SourceCalendar,
				})
				return err
			})
			So(err, ShouldBeNil)

			Convey("Then it is readable with its source and duration", func() {
				got, err := store.Get(ctx, stored.ID)
				So(err, ShouldBeNil)
				So(got.Source, ShouldEqual, model.SourceCalendar)
				So(*got.Duration, ShouldEqual, 1.5)
				So(got.End, ShouldBeNil)
			})
		})
	})
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
