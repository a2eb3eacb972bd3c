package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/recon/internal/adapters/repository"
	"github.com/okian/recon/internal/adapters/repository/sqlite"
	"github.com/okian/recon/internal/adapters/repository/storetest"
	"github.com/okian/recon/internal/domain/model"
)

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) repository.Store {
		store, err := sqlite.Open(filepath.Join(t.TempDir(), "recon.db"), nil)
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		return store
	})
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	Convey("Given a sqlite database file", t, func() {
		ctx := context.Background()
		path := filepath.Join(t.TempDir(), "recon.db")
		start := time.Date(2025, 6, 27, 9, 0, 0, 0, time.UTC)

		store, err := sqlite.Open(path, nil)
		So(err, ShouldBeNil)

		var canonical, dup model.ActivityRecord
		err = store.Update(ctx, func(w repository.Writer) error {
			var err error
			canonical, err = w.Insert(ctx, model.ActivityRecord{
				OwnerID: 3, Start: start, Duration: model.Hours(2), Description: "Ticket 123 fix bug",
				Source: model.SourceManual, Fingerprint: "fp",
			})
			if err != nil {
				return err
			}
			dup, err = w.Insert(ctx, model.ActivityRecord{
				OwnerID: 3, Start: start, End: model.At(start.Add(2 * time.Hour)),
				Source: model.SourceCSV, Fingerprint: "fp", Disposition: model.DuplicateOf(canonical.ID),
			})
			return err
		})
		So(err, ShouldBeNil)
		So(store.Close(), ShouldBeNil)

		Convey("When it is reopened", func() {
			reopened, err := sqlite.Open(path, nil)
			So(err, ShouldBeNil)
			defer reopened.Close()

			Convey("Then records and dispositions survive", func() {
				got, err := reopened.Get(ctx, dup.ID)
				So(err, ShouldBeNil)
				id, ok := got.Disposition.CanonicalID()
				So(ok, ShouldBeTrue)
				So(id, ShouldEqual, canonical.ID)
				So(got.End, ShouldNotBeNil)
				So(got.End.Equal(start.Add(2*time.Hour)), ShouldBeTrue)
				So(got.Duration, ShouldBeNil)

				n, err := reopened.Count(ctx)
				So(err, ShouldBeNil)
				So(n, ShouldEqual, 2)
			})

			Convey("Then a view never persists anything", func() {
				err := reopened.View(ctx, func(r repository.Reader) error {
					_, isWriter := r.(repository.Writer)
					So(isWriter, ShouldBeFalse)
					return nil
				})
				So(err, ShouldBeNil)
			})
		})
	})
}
